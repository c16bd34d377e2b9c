package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/actuallystonmai/library-intelligence/seeds"
)

func newSeedCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill an empty database with a demo library",
		Example: `  # Seed only when the users table is empty
  library-intelligence seed

  # Replace existing data
  library-intelligence seed --force`,
		Args: cobra.NoArgs,
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

			return checkSeed(cmd.Context(), pool, force, logger)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Truncate and reseed even when data exists")
	return cmd
}

func checkSeed(ctx context.Context, pool *pgxpool.Pool, force bool, logger zerolog.Logger) error {
	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return fmt.Errorf("check users count: %w", err)
	}
	if count > 0 && !force {
		logger.Info().Int("users", count).Msg("database already seeded, skipping")
		return nil
	}
	return seeds.Setup(ctx, pool, logger)
}
