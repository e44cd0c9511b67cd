package labresult

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amr/amr/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

type labResultRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns a Postgres repository. The pool's search_path selects
// the schema.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &labResultRepoPG{pool: pool}
}

func (r *labResultRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const batchCols = `id, source_name, source_sha256, format, commit_policy,
	accepted, rejected, stored, created_at`

const resultCols = `id, batch_id, source_line, patient_id, sex, age,
	specimen_type, organism, antibiotic, ast_result, test_date,
	host_type, facility, patient_type, animal_species, environment_type, created_at`

// copyCols are the columns written by CopyFrom; the rest use defaults.
var copyCols = []string{
	"id", "batch_id", "source_line", "patient_id", "sex", "age",
	"specimen_type", "organism", "antibiotic", "ast_result", "test_date",
	"host_type", "facility", "patient_type", "animal_species", "environment_type",
}

func (r *labResultRepoPG) scanBatch(row pgx.Row) (*Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.SourceName, &b.SourceSHA256, &b.Format, &b.CommitPolicy,
		&b.Accepted, &b.Rejected, &b.Stored, &b.CreatedAt)
	return &b, err
}

func (r *labResultRepoPG) scanResult(row pgx.Row) (*LabResult, error) {
	var l LabResult
	var line *int
	err := row.Scan(&l.ID, &l.BatchID, &line, &l.PatientID, &l.Sex, &l.Age,
		&l.SpecimenType, &l.Organism, &l.Antibiotic, &l.ASTResult, &l.TestDate,
		&l.HostType, &l.Facility, &l.PatientType, &l.AnimalSpecies, &l.EnvironmentType, &l.CreatedAt)
	if line != nil {
		l.SourceLine = *line
	}
	return &l, err
}

func (r *labResultRepoPG) SaveBatch(ctx context.Context, b *Batch, results []*LabResult) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		c := r.conn(ctx)
		err := c.QueryRow(ctx, `
			INSERT INTO import_batch (id, source_name, source_sha256, format, commit_policy,
				accepted, rejected, stored)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING created_at`,
			b.ID, b.SourceName, b.SourceSHA256, string(b.Format), string(b.CommitPolicy),
			b.Accepted, b.Rejected, b.Stored).Scan(&b.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert import batch: %w", err)
		}
		if len(results) == 0 {
			return nil
		}

		n, err := c.CopyFrom(ctx, pgx.Identifier{"lab_result"}, copyCols,
			pgx.CopyFromSlice(len(results), func(i int) ([]any, error) {
				l := results[i]
				return []any{
					l.ID, l.BatchID, l.SourceLine, l.PatientID, l.Sex, l.Age,
					l.SpecimenType, l.Organism, l.Antibiotic, l.ASTResult, l.TestDate,
					l.HostType, l.Facility, l.PatientType, l.AnimalSpecies, l.EnvironmentType,
				}, nil
			}))
		if err != nil {
			return fmt.Errorf("copy lab results: %w", err)
		}
		if int(n) != len(results) {
			return fmt.Errorf("copy lab results: wrote %d of %d rows", n, len(results))
		}
		return nil
	})
}

func (r *labResultRepoPG) GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	b, err := r.scanBatch(r.conn(ctx).QueryRow(ctx, `SELECT `+batchCols+` FROM import_batch WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	return b, err
}

func (r *labResultRepoPG) ListBatches(ctx context.Context, limit, offset int) ([]*Batch, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM import_batch`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+batchCols+` FROM import_batch ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Batch
	for rows.Next() {
		b, err := r.scanBatch(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

func (r *labResultRepoPG) Query(ctx context.Context, f Filter) ([]*LabResult, error) {
	where, args := pgWhere(f.Normalized())
	query := `SELECT ` + resultCols + ` FROM lab_result` + where + ` ORDER BY seq`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*LabResult
	for rows.Next() {
		l, err := r.scanResult(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

func (r *labResultRepoPG) Close() error {
	r.pool.Close()
	return nil
}

// pgWhere renders f as a WHERE clause with numbered placeholders.
func pgWhere(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	text := map[string]string{
		"organism":      f.Organism,
		"antibiotic":    f.Antibiotic,
		"specimen_type": f.SpecimenType,
		"host_type":     f.HostType,
		"facility":      f.Facility,
	}
	for _, col := range []string{"organism", "antibiotic", "specimen_type", "host_type", "facility"} {
		if v := text[col]; v != "" {
			add("LOWER("+col+") = LOWER($%d)", v)
		}
	}
	if f.From != nil {
		add("test_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("test_date <= $%d", *f.To)
	}
	if f.BatchID != nil {
		add("batch_id = $%d", *f.BatchID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
