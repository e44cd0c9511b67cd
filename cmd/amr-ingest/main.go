package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/amr/amr/internal/config"
	"github.com/amr/amr/internal/domain/labresult"
	"github.com/amr/amr/internal/ingest"
	"github.com/amr/amr/internal/platform/blobstore"
	"github.com/amr/amr/internal/platform/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "amr-ingest",
		Short:        "AMR laboratory file ingestion",
		SilenceUsage: true,
	}

	root.AddCommand(classifyCmd())
	root.AddCommand(convertCmd())
	root.AddCommand(importCmd())
	root.AddCommand(batchesCmd())
	root.AddCommand(reportCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(healthCmd())
	return root
}

// app is the per-command runtime: configuration, logger and metrics.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	metrics  *telemetry.IngestMetrics
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	m, err := telemetry.NewIngestMetrics(reg)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:      cfg,
		log:      newLogger(os.Stderr, cfg.Env, cfg.LogLevel),
		registry: reg,
		metrics:  m,
	}, nil
}

// newLogger writes JSON lines, or console output in development.
func newLogger(w io.Writer, env, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if env == "development" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// flushMetrics writes the textfile export when METRICS_TEXTFILE is set.
func (a *app) flushMetrics() {
	if err := telemetry.WriteTextfile(a.cfg.MetricsTextfile, a.registry); err != nil {
		a.log.Warn().Err(err).Str("path", a.cfg.MetricsTextfile).Msg("failed to write metrics textfile")
	}
}

func (a *app) normalizer() (*ingest.Normalizer, error) {
	opts, err := a.cfg.IngestOptions()
	if err != nil {
		return nil, err
	}
	return ingest.NewNormalizer(opts), nil
}

func (a *app) openService(ctx context.Context) (*labresult.Service, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	repo, err := labresult.OpenRepository(ctx, a.cfg.StoreConfig())
	if err != nil {
		return nil, err
	}
	svc := labresult.NewService(repo, a.log)
	svc.SetMetrics(a.metrics)
	return svc, nil
}

// source is an input file fetched from a blob store.
type source struct {
	name string
	data []byte
	info *blobstore.Info
}

func (a *app) fetch(ctx context.Context, uri string) (*source, error) {
	store, key, err := blobstore.Open(ctx, uri, a.cfg.BlobConfig())
	if err != nil {
		return nil, err
	}
	data, info, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", uri, err)
	}
	return &source{name: key, data: data, info: info}, nil
}

func (a *app) put(ctx context.Context, uri string, data []byte) (*blobstore.Info, error) {
	store, key, err := blobstore.Open(ctx, uri, a.cfg.BlobConfig())
	if err != nil {
		return nil, err
	}
	info, err := store.Put(ctx, key, bytes.NewReader(data), blobstore.ContentTypeFor(key))
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", uri, err)
	}
	return info, nil
}

// printDiagnostics shows at most limit diagnostics and a count of the rest.
// A limit of zero shows all of them.
func printDiagnostics(w io.Writer, diags []ingest.Diagnostic, limit int) {
	for i, d := range diags {
		if limit > 0 && i == limit {
			fmt.Fprintf(w, "  ... and %d more\n", len(diags)-limit)
			return
		}
		fmt.Fprintf(w, "  line %d: %s\n", d.Line, d.Reason)
	}
}
