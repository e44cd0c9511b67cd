package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/amr/amr/internal/domain/labresult"
	"github.com/amr/amr/internal/platform/db"
)

var errPostgresOnly = errors.New("command requires STORE_DRIVER=postgres")

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations (postgres)",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, migrator, closePool, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closePool()

			schema := a.cfg.DBSchema
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := migrator.Up(cmd.Context(), schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, migrator, closePool, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closePool()

			statuses, err := migrator.Status(cmd.Context(), a.cfg.DBSchema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Migration status for schema: %s\n", a.cfg.DBSchema)
			fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.Changed {
						status = "changed"
					}
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	cmd.AddCommand(statusCmd)

	cmd.PersistentFlags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	return cmd
}

func openMigrator(cmd *cobra.Command) (*app, *db.Migrator, func(), error) {
	a, err := newApp()
	if err != nil {
		return nil, nil, nil, err
	}
	if a.cfg.StoreDriver != labresult.DriverPostgres {
		return nil, nil, nil, fmt.Errorf("migrate: %w (SQLite creates its schema on open)", errPostgresOnly)
	}
	if err := a.cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = a.cfg.MigrationsDir
	}
	pool, err := db.NewPool(cmd.Context(), a.cfg.PoolConfig())
	if err != nil {
		return nil, nil, nil, err
	}
	return a, db.NewMigrator(pool, dir), pool.Close, nil
}

func batchesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List import batches, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			a, err := newApp()
			if err != nil {
				return err
			}
			svc, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			items, total, err := svc.ListBatches(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			writeBatches(cmd, items, total)
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum batches to list (at most 100)")
	cmd.Flags().Int("offset", 0, "Batches to skip")
	return cmd
}

func writeBatches(cmd *cobra.Command, items []*labresult.Batch, total int) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%-36s %-20s %-7s %-8s %8s %8s %8s  %s\n",
		"ID", "CREATED", "FORMAT", "POLICY", "ACCEPTED", "REJECTED", "STORED", "SOURCE")
	for _, b := range items {
		fmt.Fprintf(w, "%-36s %-20s %-7s %-8s %8d %8d %8d  %s\n",
			b.ID, b.CreatedAt.Format(time.DateTime), b.Format, b.CommitPolicy,
			b.Accepted, b.Rejected, b.Stored, b.SourceName)
	}
	fmt.Fprintf(w, "%d of %d batch(es)\n", len(items), total)
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the configured store is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			if a.cfg.StoreDriver == labresult.DriverSQLite {
				repo, err := labresult.OpenSQLite(a.cfg.SQLitePath)
				if err != nil {
					return fmt.Errorf("sqlite %s: %w", a.cfg.SQLitePath, err)
				}
				defer repo.Close()
				if _, _, err := repo.ListBatches(ctx, 1, 0); err != nil {
					return fmt.Errorf("sqlite %s: %w", a.cfg.SQLitePath, err)
				}
				fmt.Fprintf(w, "sqlite %s: ok\n", a.cfg.SQLitePath)
				return nil
			}

			pool, err := db.NewPool(ctx, a.cfg.PoolConfig())
			if err != nil {
				return err
			}
			defer pool.Close()
			h, err := db.Check(ctx, pool)
			fmt.Fprintln(w, h)
			return err
		},
	}
}
