package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) (*IngestMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := NewIngestMetrics(reg)
	require.NoError(t, err)
	return m, reg
}

func TestNewIngestMetrics_DoubleRegister(t *testing.T) {
	_, reg := newTestMetrics(t)
	_, err := NewIngestMetrics(reg)
	assert.Error(t, err)
}

func TestRecordNormalize(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordNormalize("wide", 12, 2)
	m.RecordNormalize("wide", 3, 0)
	m.RecordNormalize("narrow", 5, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FilesTotal.WithLabelValues("wide")))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("wide")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("narrow")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RejectionsTotal.WithLabelValues(StageNormalize)))
}

func TestRecordBatch(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordValidation(4)
	m.RecordValidation(0)
	m.RecordBatch(OutcomeStored, 10, 20*time.Millisecond)
	m.RecordBatch(OutcomeRejected, 0, time.Millisecond)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.RejectionsTotal.WithLabelValues(StageValidate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesTotal.WithLabelValues(OutcomeStored)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesTotal.WithLabelValues(OutcomeRejected)))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.RecordsStored))
	assert.Greater(t, testutil.ToFloat64(m.LastSuccess), 0.0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.ImportDuration))
}

func TestWriteTextfile(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordBatch(OutcomeStored, 3, time.Second)
	path := filepath.Join(t.TempDir(), "amr_ingest.prom")

	require.NoError(t, WriteTextfile(path, reg))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(raw)
	assert.True(t, strings.Contains(text, `amr_ingest_batches_total{outcome="stored"} 1`), text)
	assert.Contains(t, text, "amr_ingest_records_stored_total 3")
}

func TestWriteTextfile_EmptyPath(t *testing.T) {
	_, reg := newTestMetrics(t)
	assert.NoError(t, WriteTextfile("", reg))
}

func TestNilMetrics(t *testing.T) {
	var m *IngestMetrics
	assert.NotPanics(t, func() {
		m.RecordNormalize("wide", 1, 1)
		m.RecordValidation(2)
		m.RecordBatch(OutcomeFailed, 0, time.Second)
	})
}
