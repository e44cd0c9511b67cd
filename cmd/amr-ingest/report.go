package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/amr/amr/internal/domain/labresult"
	"github.com/amr/amr/internal/platform/db"
	"github.com/amr/amr/internal/platform/reporting"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Aggregate stored lab results",
	}
	cmd.AddCommand(antibiogramCmd())
	cmd.AddCommand(measuresCmd())
	cmd.AddCommand(runMeasureCmd())
	cmd.AddCommand(exportCmd())
	return cmd
}

func addFilterFlags(fs *pflag.FlagSet) {
	fs.String("organism", "", "Organism name")
	fs.String("antibiotic", "", "Antibiotic name")
	fs.String("specimen", "", "Specimen type")
	fs.String("host", "", "Host type (human, animal, environment)")
	fs.String("facility", "", "Facility")
	fs.String("from", "", "Earliest test date (YYYY-MM-DD)")
	fs.String("to", "", "Latest test date (YYYY-MM-DD)")
	fs.String("batch", "", "Import batch id")
}

// filterFromFlags reads the flags registered by addFilterFlags.
func filterFromFlags(fs *pflag.FlagSet) (labresult.Filter, error) {
	get := func(name string) string {
		v, _ := fs.GetString(name)
		return strings.TrimSpace(v)
	}
	f := labresult.Filter{
		Organism:     get("organism"),
		Antibiotic:   get("antibiotic"),
		SpecimenType: get("specimen"),
		HostType:     get("host"),
		Facility:     get("facility"),
	}
	for _, d := range []struct {
		flag string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := get(d.flag)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return labresult.Filter{}, fmt.Errorf("--%s: want YYYY-MM-DD, got %q", d.flag, v)
		}
		*d.dst = &t
	}
	if v := get("batch"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return labresult.Filter{}, fmt.Errorf("--batch: %w", err)
		}
		f.BatchID = &id
	}
	return f, nil
}

func antibiogramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "antibiogram",
		Short: "Organism by antibiotic susceptibility matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			f, err := filterFromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			svc, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			ab, err := svc.Antibiogram(cmd.Context(), f)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), ab)
			}
			writeAntibiogram(cmd.OutOrStdout(), ab)
			return nil
		},
	}
	addFilterFlags(cmd.Flags())
	cmd.Flags().Bool("json", false, "Print JSON instead of a table")
	return cmd
}

// writeAntibiogram prints one row per organism with "%R (N)" per antibiotic.
func writeAntibiogram(w io.Writer, ab *reporting.Antibiogram) {
	if len(ab.Organisms) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	fmt.Fprintf(w, "%-30s", "ORGANISM")
	for _, abx := range ab.Antibiotics {
		fmt.Fprintf(w, " %16s", abx)
	}
	fmt.Fprintln(w)
	for _, org := range ab.Organisms {
		fmt.Fprintf(w, "%-30s", org)
		for _, abx := range ab.Antibiotics {
			c := ab.Cell(org, abx)
			cell := "-"
			if c.PctR != nil {
				cell = fmt.Sprintf("%.1f%% (%d)", *c.PctR, c.N)
			}
			fmt.Fprintf(w, " %16s", cell)
		}
		fmt.Fprintln(w)
	}
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <output>",
		Short: "Write stored results as the narrow template (CSV or XLSX)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := filterFromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			svc, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			recs, err := svc.Export(cmd.Context(), f)
			if err != nil {
				return err
			}
			if err := writeRecords(cmd.Context(), a, args[0], recs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d record(s) written to %s\n", len(recs), args[0])
			return nil
		},
	}
	addFilterFlags(cmd.Flags())
	return cmd
}

func measuresCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "measures",
		Short: "List predefined SQL measures",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			for _, m := range reporting.PredefinedMeasures {
				fmt.Fprintf(w, "%-24s %s\n", m.ID, m.Description)
			}
			return nil
		},
	}
}

func runMeasureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <measure-id>",
		Short: "Evaluate a predefined measure on Postgres and print JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]string{}
			for _, name := range []string{reporting.ParamDateFrom, reporting.ParamDateTo, reporting.ParamFacility, reporting.ParamHostType} {
				if v, _ := cmd.Flags().GetString(strings.ReplaceAll(name, "_", "-")); v != "" {
					params[name] = v
				}
			}
			if reporting.FindMeasure(args[0]) == nil {
				return fmt.Errorf("%w: %s", reporting.ErrMeasureNotFound, args[0])
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			if a.cfg.StoreDriver != labresult.DriverPostgres {
				return fmt.Errorf("report run: %w", errPostgresOnly)
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			pool, err := db.NewPool(cmd.Context(), a.cfg.PoolConfig())
			if err != nil {
				return err
			}
			defer pool.Close()

			report, err := reporting.NewRunner(pool).Evaluate(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().String("date-from", "", "Earliest test date (YYYY-MM-DD)")
	cmd.Flags().String("date-to", "", "Latest test date (YYYY-MM-DD)")
	cmd.Flags().String("facility", "", "Facility")
	cmd.Flags().String("host-type", "", "Host type")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
