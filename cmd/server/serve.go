package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"

	"github.com/actuallystonmai/library-intelligence/internal/cache"
	"github.com/actuallystonmai/library-intelligence/internal/catalog"
	"github.com/actuallystonmai/library-intelligence/internal/config"
	"github.com/actuallystonmai/library-intelligence/internal/handler"
	"github.com/actuallystonmai/library-intelligence/internal/interactions"
	"github.com/actuallystonmai/library-intelligence/internal/predict"
	"github.com/actuallystonmai/library-intelligence/internal/recommend"
	"github.com/actuallystonmai/library-intelligence/internal/refresh"
	"github.com/actuallystonmai/library-intelligence/internal/repository"
	"github.com/actuallystonmai/library-intelligence/internal/router"
	"github.com/actuallystonmai/library-intelligence/internal/search"
	"github.com/actuallystonmai/library-intelligence/internal/service"
	"github.com/actuallystonmai/library-intelligence/internal/snapshot"
	"github.com/actuallystonmai/library-intelligence/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	var (
		runMigrations bool
		seed          bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and background refresh services",
		Example: `  # Start with settings from config.yaml and the environment
  library-intelligence serve

  # Apply the schema and demo data first
  library-intelligence serve --migrate --seed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger, runMigrations, seed)
		},
	}
	cmd.Flags().BoolVar(&runMigrations, "migrate", false, "Apply migrations before starting")
	cmd.Flags().BoolVar(&seed, "seed", false, "Seed demo data when the database is empty")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger, runMigrations, seed bool) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	// ------------ PostgreSQL ---------------
	pool, err := connectDB(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if runMigrations {
		if err := migrate(ctx, pool, "migrations", "up"); err != nil {
			return err
		}
		logger.Info().Msg("migrations applied")
	}
	if seed {
		if err := checkSeed(ctx, pool, false, logger); err != nil {
			return err
		}
	}
	repo := repository.New(pool)

	// ------------ Redis ---------------
	recCache, err := connectCache(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer recCache.Close()

	// ------------ Engines ---------------
	index := catalog.New(
		catalog.WithEmbedder(catalog.NewHashEmbedder(cfg.Search.EmbeddingDims)),
		catalog.WithLogger(logger),
	)
	store := interactions.New(interactions.Config{
		HalfLife:      cfg.Interactions.HalfLife,
		RetentionDays: cfg.Interactions.RetentionDays,
	}, index, interactions.WithProfileSource(repo), interactions.WithLogger(logger))

	searcher := search.New(index, search.Config{
		LexicalWeight:  cfg.Search.LexicalWeight,
		SemanticWeight: cfg.Search.SemanticWeight,
	}, logger)

	recCfg := recommend.DefaultConfig()
	recCfg.ContentWeight = cfg.Recommend.ContentWeight
	recCfg.CollaborativeWeight = cfg.Recommend.CollaborativeWeight
	recCfg.HybridThreshold = cfg.Recommend.HybridThreshold
	recCfg.IncludeUnavailable = cfg.Recommend.IncludeUnavailable
	recommender := recommend.New(index, store, recCfg, logger)

	predCfg := predict.DefaultConfig()
	predCfg.Weeks = cfg.Predict.Weeks
	predCfg.MinBuckets = cfg.Predict.MinBuckets
	predCfg.CacheTTL = cfg.Predict.CacheTTL
	predCfg.CacheSize = cfg.Predict.CacheSize
	predCfg.BatchConcurrency = cfg.Predict.BatchConcurrency
	predictor, err := predict.New(store, predCfg, logger)
	if err != nil {
		return err
	}
	defer predictor.Close()

	// ------------ Service ---------------
	svc := service.NewService(service.Dependencies{
		Repo:      repo,
		Cache:     recCache,
		Index:     index,
		Store:     store,
		Search:    searcher,
		Recommend: recommender,
		Predict:   predictor,
	}, service.Config{BatchConcurrency: cfg.Recommend.BatchConcurrency}, logger)

	// ------------ Background refresh ---------------
	syncer := refresh.NewSyncer(index, store, repo, repo, refresh.BreakerConfig{
		Failures: cfg.Refresh.BreakerFailures,
		Timeout:  cfg.Refresh.BreakerTimeout,
	}, logger, refresh.WithInvalidate(svc.Invalidate), refresh.WithLookback(cfg.Refresh.Lookback))

	services := []suture.Service{
		refresh.NewPeriodic("catalog-sync", cfg.Refresh.CatalogInterval, func(ctx context.Context) error {
			_, err := syncer.SyncCatalog(ctx)
			return err
		}, logger),
		refresh.NewPeriodic("interaction-sync", cfg.Refresh.InteractionInterval, func(ctx context.Context) error {
			_, err := syncer.SyncInteractions(ctx)
			return err
		}, logger),
		refresh.NewPeriodic("maintenance", cfg.Refresh.MaintenanceInterval, syncer.Maintain, logger),
	}

	var snapshots *snapshot.Store
	if cfg.Snapshot.Path != "" {
		snapshots, err = snapshot.Open(cfg.Snapshot.Path, logger)
		if err != nil {
			return err
		}
		defer snapshots.Close()

		if snap, err := snapshots.Load(ctx); err != nil {
			logger.Warn().Err(err).Msg("snapshot unreadable, starting cold")
		} else {
			syncer.Restore(snap)
		}
		services = append(services, refresh.NewPeriodic("snapshot", cfg.Snapshot.Interval, func(ctx context.Context) error {
			return snapshots.Save(ctx, syncer.Snapshot())
		}, logger))
	}

	supCtx, stopServices := context.WithCancel(ctx)
	defer stopServices()
	supErr := refresh.NewSupervisor(refresh.DefaultSupervisorConfig(), logger, services...).ServeBackground(supCtx)

	// ---------------- Server --------------------
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.Setup(handler.NewHandler(svc, logger), cfg.Server, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr()).Msg("server running")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down server")
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case err := <-supErr:
		return fmt.Errorf("background services stopped: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	stopServices()
	<-supErr

	if snapshots != nil {
		if err := snapshots.Save(shutdownCtx, syncer.Snapshot()); err != nil {
			logger.Warn().Err(err).Msg("final snapshot failed")
		}
	}
	logger.Info().Msg("server stopped")
	return nil
}

// connectCache returns a nil cache when no redis URL is configured. An
// unreachable redis is logged and left in place; cache errors never fail
// requests.
func connectCache(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (*cache.Cache, error) {
	if cfg.URL == "" {
		logger.Info().Msg("redis disabled, recommendations will not be cached")
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	c := cache.NewCache(redis.NewClient(opts), cfg.CacheTTL)
	if err := c.Ping(ctx); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable, continuing without a warm cache")
	} else {
		logger.Info().Msg("connected to Redis")
	}
	return c, nil
}
