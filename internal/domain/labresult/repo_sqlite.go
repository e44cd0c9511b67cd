package labresult

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/amr/amr/internal/ingest"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS import_batch (
  id TEXT PRIMARY KEY,
  source_name TEXT NOT NULL,
  source_sha256 TEXT NOT NULL DEFAULT '',
  format TEXT NOT NULL,
  commit_policy TEXT NOT NULL,
  accepted INTEGER NOT NULL DEFAULT 0,
  rejected INTEGER NOT NULL DEFAULT 0,
  stored INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS lab_result (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  batch_id TEXT REFERENCES import_batch(id) ON DELETE CASCADE,
  source_line INTEGER,
  patient_id TEXT NOT NULL,
  sex TEXT NOT NULL DEFAULT 'Unknown',
  age INTEGER CHECK (age >= 0),
  specimen_type TEXT NOT NULL DEFAULT '',
  organism TEXT NOT NULL,
  antibiotic TEXT NOT NULL,
  ast_result TEXT NOT NULL CHECK (ast_result IN ('S', 'I', 'R')),
  test_date TEXT NOT NULL,
  host_type TEXT NOT NULL DEFAULT 'human',
  facility TEXT NOT NULL DEFAULT '',
  patient_type TEXT NOT NULL DEFAULT '',
  animal_species TEXT NOT NULL DEFAULT '',
  environment_type TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lab_result_org_abx ON lab_result(organism, antibiotic);
CREATE INDEX IF NOT EXISTS idx_lab_result_test_date ON lab_result(test_date);
CREATE INDEX IF NOT EXISTS idx_lab_result_batch ON lab_result(batch_id);
`

// sqliteTime sorts lexically in time order.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

type labResultRepoSQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (creating if needed) a SQLite database at path and makes
// sure the schema exists.
func OpenSQLite(path string) (Repository, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas are per connection; one connection keeps them in force.
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA busy_timeout = 5000;`,
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("sqlite %s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &labResultRepoSQLite{conn: conn}, nil
}

func (r *labResultRepoSQLite) Close() error {
	return r.conn.Close()
}

func (r *labResultRepoSQLite) SaveBatch(ctx context.Context, b *Batch, results []*LabResult) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	b.CreatedAt = b.CreatedAt.UTC()
	_, err = tx.ExecContext(ctx, `
INSERT INTO import_batch (id, source_name, source_sha256, format, commit_policy, accepted, rejected, stored, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID.String(), b.SourceName, b.SourceSHA256, string(b.Format), string(b.CommitPolicy),
		b.Accepted, b.Rejected, b.Stored, b.CreatedAt.Format(sqliteTime))
	if err != nil {
		return fmt.Errorf("insert import batch: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO lab_result (id, batch_id, source_line, patient_id, sex, age, specimen_type, organism,
  antibiotic, ast_result, test_date, host_type, facility, patient_type, animal_species, environment_type, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	created := b.CreatedAt.Format(sqliteTime)
	for _, l := range results {
		var age any
		if l.Age != nil {
			age = *l.Age
		}
		if _, err := stmt.ExecContext(ctx,
			l.ID.String(), l.BatchID.String(), l.SourceLine, l.PatientID, l.Sex, age,
			l.SpecimenType, l.Organism, l.Antibiotic, l.ASTResult, l.TestDate.Format(isoDate),
			l.HostType, l.Facility, l.PatientType, l.AnimalSpecies, l.EnvironmentType, created,
		); err != nil {
			return fmt.Errorf("insert lab result line %d: %w", l.SourceLine, err)
		}
		l.CreatedAt = b.CreatedAt
	}
	return tx.Commit()
}

func (r *labResultRepoSQLite) GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	row := r.conn.QueryRowContext(ctx, `SELECT `+batchCols+` FROM import_batch WHERE id = ?`, id.String())
	b, err := scanSQLiteBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	return b, err
}

func (r *labResultRepoSQLite) ListBatches(ctx context.Context, limit, offset int) ([]*Batch, int, error) {
	var total int
	if err := r.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM import_batch`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn.QueryContext(ctx, `SELECT `+batchCols+` FROM import_batch ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Batch
	for rows.Next() {
		b, err := scanSQLiteBatch(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

func (r *labResultRepoSQLite) Query(ctx context.Context, f Filter) ([]*LabResult, error) {
	f = f.Normalized()
	var conds []string
	var args []any
	for _, c := range []struct{ col, val string }{
		{"organism", f.Organism},
		{"antibiotic", f.Antibiotic},
		{"specimen_type", f.SpecimenType},
		{"host_type", f.HostType},
		{"facility", f.Facility},
	} {
		if c.val != "" {
			conds = append(conds, c.col+" = ? COLLATE NOCASE")
			args = append(args, c.val)
		}
	}
	if f.From != nil {
		conds = append(conds, "test_date >= ?")
		args = append(args, f.From.Format(isoDate))
	}
	if f.To != nil {
		conds = append(conds, "test_date <= ?")
		args = append(args, f.To.Format(isoDate))
	}
	if f.BatchID != nil {
		conds = append(conds, "batch_id = ?")
		args = append(args, f.BatchID.String())
	}

	query := `SELECT ` + resultCols + ` FROM lab_result`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY seq`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*LabResult
	for rows.Next() {
		l, err := scanSQLiteResult(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteBatch(row rowScanner) (*Batch, error) {
	var (
		b               Batch
		id, format      string
		policy, created string
	)
	err := row.Scan(&id, &b.SourceName, &b.SourceSHA256, &format, &policy,
		&b.Accepted, &b.Rejected, &b.Stored, &created)
	if err != nil {
		return nil, err
	}
	if b.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("batch id %q: %w", id, err)
	}
	b.Format = ingest.Format(format)
	b.CommitPolicy = CommitPolicy(policy)
	if b.CreatedAt, err = time.Parse(sqliteTime, created); err != nil {
		return nil, fmt.Errorf("batch created_at %q: %w", created, err)
	}
	return &b, nil
}

func scanSQLiteResult(row rowScanner) (*LabResult, error) {
	var (
		l                 LabResult
		id, batch         string
		line, age         sql.NullInt64
		testDate, created string
	)
	err := row.Scan(&id, &batch, &line, &l.PatientID, &l.Sex, &age,
		&l.SpecimenType, &l.Organism, &l.Antibiotic, &l.ASTResult, &testDate,
		&l.HostType, &l.Facility, &l.PatientType, &l.AnimalSpecies, &l.EnvironmentType, &created)
	if err != nil {
		return nil, err
	}
	if l.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("lab result id %q: %w", id, err)
	}
	if l.BatchID, err = uuid.Parse(batch); err != nil {
		return nil, fmt.Errorf("lab result batch id %q: %w", batch, err)
	}
	if line.Valid {
		l.SourceLine = int(line.Int64)
	}
	if age.Valid {
		v := int(age.Int64)
		l.Age = &v
	}
	if l.TestDate, err = time.Parse(isoDate, testDate); err != nil {
		return nil, fmt.Errorf("lab result test_date %q: %w", testDate, err)
	}
	if l.CreatedAt, err = time.Parse(sqliteTime, created); err != nil {
		return nil, fmt.Errorf("lab result created_at %q: %w", created, err)
	}
	return &l, nil
}
