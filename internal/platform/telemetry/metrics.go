// Package telemetry exposes Prometheus metrics for file ingestion. The CLI
// runs as a batch job, so metrics are written to a node_exporter textfile
// rather than scraped.
package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Batch outcomes recorded by RecordBatch.
const (
	OutcomeStored   = "stored"
	OutcomeRejected = "rejected"
	OutcomeDryRun   = "dry_run"
	OutcomeFailed   = "failed"
)

// Rejection stages.
const (
	StageNormalize = "normalize"
	StageValidate  = "validate"
)

// IngestMetrics contains the Prometheus metrics for the ingest pipeline.
type IngestMetrics struct {
	FilesTotal      *prometheus.CounterVec
	RecordsTotal    *prometheus.CounterVec
	RejectionsTotal *prometheus.CounterVec
	BatchesTotal    *prometheus.CounterVec
	RecordsStored   prometheus.Counter
	ImportDuration  prometheus.Histogram
	LastSuccess     prometheus.Gauge
}

// NewIngestMetrics creates the metrics and registers them on registry.
func NewIngestMetrics(registry prometheus.Registerer) (*IngestMetrics, error) {
	m := &IngestMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register ingest metrics: %w", err)
	}
	return m, nil
}

func (m *IngestMetrics) initMetrics() {
	m.FilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amr_ingest_files_total",
			Help: "Files normalized, partitioned by detected format.",
		},
		[]string{"format"},
	)
	m.RecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amr_ingest_records_total",
			Help: "Canonical records produced by normalization, partitioned by detected format.",
		},
		[]string{"format"},
	)
	m.RejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amr_ingest_rejections_total",
			Help: "Rows rejected, partitioned by the stage that rejected them.",
		},
		[]string{"stage"},
	)
	m.BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amr_ingest_batches_total",
			Help: "Import batches, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
	m.RecordsStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amr_ingest_records_stored_total",
			Help: "Lab results written to the store.",
		},
	)
	m.ImportDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "amr_ingest_import_duration_seconds",
			Help:    "Time taken to validate and store one import batch.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
	)
	m.LastSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "amr_ingest_last_success_timestamp_seconds",
			Help: "Unix time of the last batch that stored data.",
		},
	)
}

// RecordNormalize counts one normalized file. The Record methods are no-ops
// on a nil receiver.
func (m *IngestMetrics) RecordNormalize(format string, records, rejected int) {
	if m == nil {
		return
	}
	m.FilesTotal.WithLabelValues(format).Inc()
	m.RecordsTotal.WithLabelValues(format).Add(float64(records))
	if rejected > 0 {
		m.RejectionsTotal.WithLabelValues(StageNormalize).Add(float64(rejected))
	}
}

// RecordValidation counts records rejected by storage validation.
func (m *IngestMetrics) RecordValidation(rejected int) {
	if m != nil && rejected > 0 {
		m.RejectionsTotal.WithLabelValues(StageValidate).Add(float64(rejected))
	}
}

// RecordBatch records the outcome of one import batch.
func (m *IngestMetrics) RecordBatch(outcome string, stored int, took time.Duration) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(outcome).Inc()
	m.ImportDuration.Observe(took.Seconds())
	if stored > 0 {
		m.RecordsStored.Add(float64(stored))
	}
	if outcome == OutcomeStored {
		m.LastSuccess.SetToCurrentTime()
	}
}

// Describe implements the prometheus.Collector interface.
func (m *IngestMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.FilesTotal.Describe(ch)
	m.RecordsTotal.Describe(ch)
	m.RejectionsTotal.Describe(ch)
	m.BatchesTotal.Describe(ch)
	ch <- m.RecordsStored.Desc()
	m.ImportDuration.Describe(ch)
	ch <- m.LastSuccess.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *IngestMetrics) Collect(ch chan<- prometheus.Metric) {
	m.FilesTotal.Collect(ch)
	m.RecordsTotal.Collect(ch)
	m.RejectionsTotal.Collect(ch)
	m.BatchesTotal.Collect(ch)
	ch <- m.RecordsStored
	m.ImportDuration.Collect(ch)
	ch <- m.LastSuccess
}
