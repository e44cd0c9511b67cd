package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrDuplicateVersion is returned when two files share a version prefix.
	ErrDuplicateVersion = errors.New("duplicate migration version")
	// ErrMigrationChanged is returned by Up when an applied file was edited.
	ErrMigrationChanged = errors.New("applied migration changed on disk")
)

// Migration is one numbered SQL file, e.g. "001_lab_result.sql".
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// MigrationStatus reports one file against the schema's history table.
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
	// Changed is set when the file no longer matches the applied checksum.
	Changed bool
}

type historyEntry struct {
	checksum  string
	appliedAt time.Time
}

// Migrator applies the SQL files of a directory to one schema at a time and
// keeps a schema_history table beside the data.
type Migrator struct {
	pool  *pgxpool.Pool
	files fs.FS
	dir   string
}

// NewMigrator reads migrations from dir.
func NewMigrator(pool *pgxpool.Pool, dir string) *Migrator {
	return &Migrator{pool: pool, files: os.DirFS(dir), dir: dir}
}

// NewMigratorFS reads migrations from the root of files, e.g. an embed.FS.
func NewMigratorFS(pool *pgxpool.Pool, files fs.FS) *Migrator {
	return &Migrator{pool: pool, files: files, dir: "."}
}

func historyTable(schema string) string {
	return pgx.Identifier{schema, "schema_history"}.Sanitize()
}

// LoadMigrations returns the .sql files whose names start with a number and
// an underscore, ordered by that number.
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations %s: %w", m.dir, err)
	}

	seen := make(map[int]string)
	var out []Migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("%w %d: %s and %s", ErrDuplicateVersion, version, other, name)
		}
		seen[version] = name

		body, err := fs.ReadFile(m.files, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		sum := sha256.Sum256(body)
		out = append(out, Migration{
			Version:  version,
			Name:     name,
			SQL:      string(body),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	slices.SortFunc(out, func(a, b Migration) int { return a.Version - b.Version })
	return out, nil
}

// ensureHistory creates schema and its history table.
func ensureHistory(ctx context.Context, q queryable, schema string) error {
	if err := EnsureSchema(ctx, q, schema); err != nil {
		return err
	}
	_, err := q.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+historyTable(schema)+` (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    checksum   TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("create schema_history in %s: %w", schema, err)
	}
	return nil
}

func history(ctx context.Context, q queryable, schema string) (map[int]historyEntry, error) {
	rows, err := q.Query(ctx, `SELECT version, checksum, applied_at FROM `+historyTable(schema))
	if err != nil {
		return nil, fmt.Errorf("read schema_history in %s: %w", schema, err)
	}
	defer rows.Close()

	out := make(map[int]historyEntry)
	for rows.Next() {
		var (
			v int
			h historyEntry
		)
		if err := rows.Scan(&v, &h.checksum, &h.appliedAt); err != nil {
			return nil, fmt.Errorf("scan schema_history: %w", err)
		}
		out[v] = h
	}
	return out, rows.Err()
}

// Up applies every pending migration to schema and returns how many ran.
// Concurrent callers on the same schema are serialized with an advisory
// lock. Up refuses to run when an applied file has been edited since.
func (m *Migrator) Up(ctx context.Context, schema string) (int, error) {
	migrations, err := m.LoadMigrations()
	if err != nil {
		return 0, err
	}
	if err := ValidateSchema(schema); err != nil {
		return 0, err
	}

	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, schema); err != nil {
		return 0, fmt.Errorf("lock schema %s: %w", schema, err)
	}
	defer conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock(hashtext($1))`, schema)

	if err := ensureHistory(ctx, conn, schema); err != nil {
		return 0, err
	}
	applied, err := history(ctx, conn, schema)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range migrations {
		if h, ok := applied[mig.Version]; ok {
			if h.checksum != mig.Checksum {
				return count, fmt.Errorf("%w: %s", ErrMigrationChanged, mig.Name)
			}
			continue
		}
		if err := apply(ctx, conn, schema, mig); err != nil {
			return count, fmt.Errorf("apply %s: %w", mig.Name, err)
		}
		count++
	}
	return count, nil
}

// apply runs one migration and its history row in a single transaction with
// unqualified names resolving to schema.
func apply(ctx context.Context, conn *pgxpool.Conn, schema string, mig Migration) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SET LOCAL search_path TO "+pgx.Identifier{schema}.Sanitize()+", public"); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}
	if _, err := tx.Exec(ctx, mig.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+historyTable(schema)+` (version, name, checksum) VALUES ($1, $2, $3)`,
		mig.Version, mig.Name, mig.Checksum,
	); err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return tx.Commit(ctx)
}

// Status lists every migration file with its state in schema.
func (m *Migrator) Status(ctx context.Context, schema string) ([]MigrationStatus, error) {
	migrations, err := m.LoadMigrations()
	if err != nil {
		return nil, err
	}
	if err := ensureHistory(ctx, m.pool, schema); err != nil {
		return nil, err
	}
	applied, err := history(ctx, m.pool, schema)
	if err != nil {
		return nil, err
	}
	return statuses(migrations, applied), nil
}

func statuses(migrations []Migration, applied map[int]historyEntry) []MigrationStatus {
	out := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		s := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if h, ok := applied[mig.Version]; ok {
			at := h.appliedAt
			s.Applied = true
			s.AppliedAt = &at
			s.Changed = h.checksum != mig.Checksum
		}
		out = append(out, s)
	}
	return out
}
