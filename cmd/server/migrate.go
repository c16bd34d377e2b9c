package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or drop the database schema",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "migrations", "Directory holding the migration files")

	for _, direction := range []string{"up", "down"} {
		cmd.AddCommand(&cobra.Command{
			Use:   direction,
			Short: "Run create_tables." + direction + ".sql",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, logger, err := setup()
				if err != nil {
					return err
				}
				pool, err := connectDB(cmd.Context(), cfg.Database, logger)
				if err != nil {
					return err
				}
				defer pool.Close()

				if err := migrate(cmd.Context(), pool, dir, direction); err != nil {
					return err
				}
				logger.Info().Str("direction", direction).Msg("migrations applied successfully")
				return nil
			},
		})
	}
	return cmd
}

func migrate(ctx context.Context, pool *pgxpool.Pool, dir, direction string) error {
	sql, err := os.ReadFile(filepath.Join(dir, "create_tables."+direction+".sql"))
	if err != nil {
		return fmt.Errorf("read migration file: %w", err)
	}
	if _, err := pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("execute migration: %w", err)
	}
	return nil
}
