package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amr/amr/internal/domain/labresult"
	"github.com/amr/amr/internal/ingest"
	"github.com/amr/amr/internal/platform/tabular"
)

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <file>",
		Short: "Show the detected format and how every header is read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			n, err := a.normalizer()
			if err != nil {
				return err
			}
			src, err := a.fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			table, err := tabular.Read(src.name, src.data)
			if err != nil {
				return err
			}
			writeClassification(cmd.OutOrStdout(), n.Detect(table.Headers), n.Classify(table.Headers))
			return nil
		},
	}
}

func writeClassification(w io.Writer, format ingest.Format, classes []ingest.Classification) {
	fmt.Fprintf(w, "format: %s\n", format)
	fmt.Fprintf(w, "%-30s %-12s %s\n", "HEADER", "KIND", "MAPS TO")
	for _, c := range classes {
		target := ""
		switch c.Kind {
		case ingest.KindMetadata:
			target = c.Field
		case ingest.KindAntibiotic:
			target = c.Antibiotic
		}
		fmt.Fprintf(w, "%-30s %-12s %s\n", c.Header, c.Kind, target)
	}
}

func convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <input> <output>",
		Short: "Rewrite a WHONET or template file as the narrow template (CSV or XLSX)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rejects, _ := cmd.Flags().GetString("rejects")
			maxErrors, _ := cmd.Flags().GetInt("max-errors")

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.flushMetrics()
			n, err := a.normalizer()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			src, err := a.fetch(ctx, args[0])
			if err != nil {
				return err
			}

			res := tabular.Normalize(n, src.name, src.data)
			a.metrics.RecordNormalize(string(res.Format), len(res.Accepted), len(res.Rejected))

			if err := writeRecords(ctx, a, args[1], res.Accepted); err != nil {
				return err
			}
			if rejects != "" {
				var buf bytes.Buffer
				if err := tabular.WriteRejects(&buf, res.Rejected); err != nil {
					return err
				}
				if _, err := a.put(ctx, rejects, buf.Bytes()); err != nil {
					return err
				}
			}

			a.log.Info().
				Str("source", args[0]).
				Str("format", string(res.Format)).
				Int("records", len(res.Accepted)).
				Int("rejected", len(res.Rejected)).
				Msg("converted")
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s format, %d record(s) written to %s, %d row(s) rejected\n",
				src.name, res.Format, len(res.Accepted), args[1], len(res.Rejected))
			printDiagnostics(out, res.Rejected, maxErrors)
			return nil
		},
	}
	cmd.Flags().String("rejects", "", "Also write rejected rows (line,reason) as CSV to this location")
	cmd.Flags().Int("max-errors", 10, "Rejected rows to print (0 prints all)")
	return cmd
}

// writeRecords renders recs in the format implied by uri and stores them.
func writeRecords(ctx context.Context, a *app, uri string, recs []ingest.Record) error {
	var buf bytes.Buffer
	if err := tabular.Write(uri, &buf, recs); err != nil {
		return err
	}
	_, err := a.put(ctx, uri, buf.Bytes())
	return err
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Normalize a lab file and store its results as one batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policyFlag, _ := cmd.Flags().GetString("policy")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			archive, _ := cmd.Flags().GetString("archive")
			maxErrors, _ := cmd.Flags().GetInt("max-errors")

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.flushMetrics()

			policy, err := a.cfg.Commit()
			if err != nil {
				return err
			}
			if policyFlag != "" {
				if policy, err = labresult.ParseCommitPolicy(policyFlag); err != nil {
					return err
				}
			}
			n, err := a.normalizer()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			src, err := a.fetch(ctx, args[0])
			if err != nil {
				return err
			}
			if archive != "" && !dryRun {
				if strings.HasSuffix(archive, "/") {
					archive += src.name
				}
				if _, err := a.put(ctx, archive, src.data); err != nil {
					return err
				}
				a.log.Info().Str("archive", archive).Msg("source archived")
			}

			res := tabular.Normalize(n, src.name, src.data)
			a.metrics.RecordNormalize(string(res.Format), len(res.Accepted), len(res.Rejected))

			report, err := svc.Import(ctx, labresult.ImportRequest{
				SourceName: src.name,
				SHA256:     src.info.SHA256,
				Policy:     policy,
				DryRun:     dryRun,
				Result:     res,
			})
			if report != nil {
				writeImportReport(cmd.OutOrStdout(), report, maxErrors)
			}
			if errors.Is(err, labresult.ErrBatchRejected) {
				return fmt.Errorf("%s: %w", src.name, err)
			}
			return err
		},
	}
	cmd.Flags().String("policy", "", "Commit policy: partial or all (default from COMMIT_POLICY)")
	cmd.Flags().Bool("dry-run", false, "Validate without storing")
	cmd.Flags().String("archive", "", "Copy the source file to this location before importing")
	cmd.Flags().Int("max-errors", 10, "Rejected rows to print (0 prints all)")
	return cmd
}

func writeImportReport(w io.Writer, r *labresult.ImportReport, maxErrors int) {
	b := r.Batch
	mode := "stored"
	switch {
	case r.DryRun:
		mode = "dry run"
	case b.CommitPolicy == labresult.CommitAll && len(r.Rejected) > 0:
		mode = "rejected"
	}
	fmt.Fprintf(w, "batch %s (%s): %s format, %d accepted, %d rejected, %d stored\n",
		b.ID, mode, b.Format, b.Accepted, b.Rejected, b.Stored)
	printDiagnostics(w, r.Rejected, maxErrors)
}
