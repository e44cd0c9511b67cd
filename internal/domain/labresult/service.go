package labresult

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amr/amr/internal/ingest"
	"github.com/amr/amr/internal/platform/db"
	"github.com/amr/amr/internal/platform/reporting"
	"github.com/amr/amr/internal/platform/telemetry"
)

// CommitPolicy decides what an import stores when some rows were rejected.
type CommitPolicy string

const (
	// CommitPartial stores every valid row.
	CommitPartial CommitPolicy = "partial"
	// CommitAll stores nothing unless every row is valid.
	CommitAll CommitPolicy = "all"
)

// ParseCommitPolicy parses "partial" or "all". Empty means partial.
func ParseCommitPolicy(s string) (CommitPolicy, error) {
	switch p := CommitPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", CommitPartial:
		return CommitPartial, nil
	case CommitAll:
		return p, nil
	}
	return "", fmt.Errorf("invalid commit policy %q (want partial or all)", s)
}

var (
	// ErrBatchRejected is returned by Import under CommitAll when any row
	// was rejected. Nothing is stored.
	ErrBatchRejected = errors.New("batch rejected: commit policy all and some rows were invalid")
	// ErrUnknownDriver is returned for an unsupported store driver.
	ErrUnknownDriver = errors.New("unknown store driver")
)

// Store drivers accepted by OpenRepository.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// StoreConfig selects and configures a repository.
type StoreConfig struct {
	Driver     string
	SQLitePath string
	Postgres   db.PoolConfig
}

// OpenRepository opens the repository named by cfg.Driver.
func OpenRepository(ctx context.Context, cfg StoreConfig) (Repository, error) {
	switch cfg.Driver {
	case DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return NewRepoPG(pool), nil
	case DriverSQLite:
		repo, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		return repo, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}

// ImportRequest is one normalized file ready for storage.
type ImportRequest struct {
	SourceName string
	SHA256     string
	Policy     CommitPolicy
	// DryRun validates without storing.
	DryRun bool
	Result ingest.Result
}

// ImportReport describes the outcome of an import. Rejected merges pipeline
// and storage diagnostics ordered by line.
type ImportReport struct {
	Batch    *Batch              `json:"batch"`
	Rejected []ingest.Diagnostic `json:"rejected"`
	DryRun   bool                `json:"dry_run"`
}

// Service validates and stores normalized lab results.
type Service struct {
	repo    Repository
	log     zerolog.Logger
	now     func() time.Time
	metrics *telemetry.IngestMetrics
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log, now: time.Now}
}

// SetMetrics attaches optional ingestion metrics to the service.
func (s *Service) SetMetrics(m *telemetry.IngestMetrics) {
	s.metrics = m
}

// Import validates req.Result for storage and saves the valid results as one
// batch according to req.Policy. Under CommitAll with rejections it returns
// the report together with ErrBatchRejected.
func (s *Service) Import(ctx context.Context, req ImportRequest) (*ImportReport, error) {
	start := s.now()
	policy := req.Policy
	if policy == "" {
		policy = CommitPartial
	}

	results := make([]*LabResult, 0, len(req.Result.Accepted))
	var invalid []ingest.Diagnostic
	for _, rec := range req.Result.Accepted {
		lr, err := FromRecord(rec, start)
		if err != nil {
			invalid = append(invalid, ingest.Diagnostic{Line: rec.Line, Reason: err.Error()})
			continue
		}
		results = append(results, lr)
	}
	s.metrics.RecordValidation(len(invalid))

	rejected := mergeDiagnostics(req.Result.Rejected, invalid)
	batch := &Batch{
		ID:           uuid.New(),
		SourceName:   req.SourceName,
		SourceSHA256: req.SHA256,
		Format:       req.Result.Format,
		CommitPolicy: policy,
		Accepted:     len(results),
		Rejected:     len(rejected),
	}
	report := &ImportReport{Batch: batch, Rejected: rejected, DryRun: req.DryRun}

	logger := s.log.With().
		Str("batch_id", batch.ID.String()).
		Str("source", req.SourceName).
		Str("format", string(batch.Format)).
		Logger()
	for _, d := range rejected {
		logger.Debug().Int("line", d.Line).Str("reason", d.Reason).Msg("row rejected")
	}

	if policy == CommitAll && len(rejected) > 0 {
		s.metrics.RecordBatch(telemetry.OutcomeRejected, 0, s.now().Sub(start))
		logger.Warn().Int("accepted", batch.Accepted).Int("rejected", batch.Rejected).Msg("import rejected")
		return report, ErrBatchRejected
	}
	if req.DryRun {
		s.metrics.RecordBatch(telemetry.OutcomeDryRun, 0, s.now().Sub(start))
		logger.Info().Int("accepted", batch.Accepted).Int("rejected", batch.Rejected).Msg("dry run")
		return report, nil
	}

	for _, lr := range results {
		lr.ID = uuid.New()
		lr.BatchID = batch.ID
	}
	batch.Stored = len(results)
	if err := s.repo.SaveBatch(ctx, batch, results); err != nil {
		batch.Stored = 0
		s.metrics.RecordBatch(telemetry.OutcomeFailed, 0, s.now().Sub(start))
		return nil, fmt.Errorf("save batch: %w", err)
	}
	s.metrics.RecordBatch(telemetry.OutcomeStored, batch.Stored, s.now().Sub(start))

	logger.Info().
		Int("accepted", batch.Accepted).
		Int("rejected", batch.Rejected).
		Int("created", batch.Stored).
		Msg("import stored")
	return report, nil
}

// mergeDiagnostics orders diagnostics by line and drops repeats of the same
// line and reason, which a wide row yields once per antibiotic.
func mergeDiagnostics(a, b []ingest.Diagnostic) []ingest.Diagnostic {
	all := make([]ingest.Diagnostic, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Line < all[j].Line })

	out := all[:0]
	for i, d := range all {
		if i > 0 && d == all[i-1] {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (s *Service) GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	return s.repo.GetBatch(ctx, id)
}

func (s *Service) ListBatches(ctx context.Context, limit, offset int) ([]*Batch, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListBatches(ctx, limit, offset)
}

// Query returns stored results matching f.
func (s *Service) Query(ctx context.Context, f Filter) ([]*LabResult, error) {
	f = f.Normalized()
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, fmt.Errorf("invalid date range: %s is before %s", f.To.Format(isoDate), f.From.Format(isoDate))
	}
	return s.repo.Query(ctx, f)
}

// Antibiogram builds the organism by antibiotic matrix over results
// matching f.
func (s *Service) Antibiogram(ctx context.Context, f Filter) (*reporting.Antibiogram, error) {
	f.Limit = 0
	results, err := s.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	obs := make([]reporting.Observation, len(results))
	for i, l := range results {
		obs[i] = reporting.Observation{Organism: l.Organism, Antibiotic: l.Antibiotic, Result: l.ASTResult}
	}
	return reporting.BuildAntibiogram(obs), nil
}

// Export returns stored results matching f in the canonical record shape.
func (s *Service) Export(ctx context.Context, f Filter) ([]ingest.Record, error) {
	results, err := s.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	recs := make([]ingest.Record, len(results))
	for i, l := range results {
		recs[i] = l.Record()
	}
	return recs, nil
}

func (s *Service) Close() error {
	return s.repo.Close()
}
