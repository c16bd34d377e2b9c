// Package refresh keeps the in-memory engines in step with Postgres: it loads
// catalog and interaction snapshots behind circuit breakers and runs them,
// along with index maintenance, as supervised background services.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/actuallystonmai/library-intelligence/internal/catalog"
	"github.com/actuallystonmai/library-intelligence/internal/domain"
	"github.com/actuallystonmai/library-intelligence/internal/interactions"
	"github.com/actuallystonmai/library-intelligence/internal/metrics"
	"github.com/actuallystonmai/library-intelligence/internal/snapshot"
)

type CatalogSource interface {
	LoadBooks(ctx context.Context) ([]domain.Book, error)
}

type InteractionSource interface {
	LoadInteractions(ctx context.Context, since time.Time) ([]domain.Interaction, error)
}

// defaultLookback is how far behind the watermark each interaction load
// starts, so facts written late with an earlier timestamp are still picked
// up. Record dedupes the overlap.
const defaultLookback = time.Hour

type BreakerConfig struct {
	Failures uint32
	Timeout  time.Duration
}

// Syncer applies source snapshots to the catalog index and interaction store.
type Syncer struct {
	index      *catalog.Index
	store      *interactions.Store
	books      CatalogSource
	facts      InteractionSource
	invalidate func(ctx context.Context, ev domain.Interaction)
	lookback   time.Duration
	logger     zerolog.Logger

	booksCB *gobreaker.CircuitBreaker[[]domain.Book]
	factsCB *gobreaker.CircuitBreaker[[]domain.Interaction]

	mu        sync.Mutex
	watermark time.Time
}

type Option func(*Syncer)

// WithInvalidate registers a hook called for every newly applied fact, e.g.
// to drop cached recommendations and forecasts.
func WithInvalidate(fn func(ctx context.Context, ev domain.Interaction)) Option {
	return func(s *Syncer) { s.invalidate = fn }
}

// WithLookback sets how far before the watermark interaction loads start.
func WithLookback(d time.Duration) Option {
	return func(s *Syncer) {
		if d >= 0 {
			s.lookback = d
		}
	}
}

func NewSyncer(index *catalog.Index, store *interactions.Store, books CatalogSource, facts InteractionSource,
	cfg BreakerConfig, logger zerolog.Logger, opts ...Option) *Syncer {
	if cfg.Failures == 0 {
		cfg.Failures = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &Syncer{
		index:      index,
		store:      store,
		books:      books,
		facts:      facts,
		invalidate: func(context.Context, domain.Interaction) {},
		lookback:   defaultLookback,
		logger:     logger.With().Str("component", "refresh").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.booksCB = gobreaker.NewCircuitBreaker[[]domain.Book](s.breakerSettings("catalog", cfg))
	s.factsCB = gobreaker.NewCircuitBreaker[[]domain.Interaction](s.breakerSettings("interactions", cfg))
	return s
}

func (s *Syncer) breakerSettings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			s.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}
}

// SyncCatalog loads the full catalog, upserts it and removes books that are
// no longer listed. Books written to the index while the load was running
// are kept. It returns the number of books loaded.
func (s *Syncer) SyncCatalog(ctx context.Context) (int, error) {
	startRev := s.index.Version()
	books, err := s.booksCB.Execute(func() ([]domain.Book, error) {
		return s.books.LoadBooks(ctx)
	})
	if err != nil {
		metrics.SyncRuns.WithLabelValues("catalog", "error").Inc()
		return 0, fmt.Errorf("load catalog: %w", err)
	}

	listed := make(map[uuid.UUID]struct{}, len(books))
	for _, b := range books {
		listed[b.ID] = struct{}{}
	}
	n, err := s.index.UpsertMany(books)
	if err != nil {
		s.logger.Warn().Err(err).Int("indexed", n).Msg("some books were rejected")
	}
	removed := 0
	for _, b := range s.index.Books() {
		if _, ok := listed[b.ID]; ok {
			continue
		}
		if s.index.RemoveUnchangedSince(b.ID, startRev) {
			removed++
		}
	}
	s.index.MarkReady()
	if _, err := s.index.Reembed(ctx); err != nil {
		s.logger.Warn().Err(err).Int("stale", s.index.Stale()).Msg("embedding interrupted")
	}

	metrics.CatalogBooks.Set(float64(s.index.Len()))
	metrics.SyncRuns.WithLabelValues("catalog", "ok").Inc()
	s.logger.Debug().Int("loaded", len(books)).Int("removed", removed).Msg("catalog synced")
	return len(books), nil
}

// SyncInteractions applies facts from the lookback window before the
// watermark onwards. It returns how many were new to the store.
func (s *Syncer) SyncInteractions(ctx context.Context) (int, error) {
	since := s.Watermark()
	if !since.IsZero() {
		since = since.Add(-s.lookback)
	}
	facts, err := s.factsCB.Execute(func() ([]domain.Interaction, error) {
		return s.facts.LoadInteractions(ctx, since)
	})
	if err != nil {
		metrics.SyncRuns.WithLabelValues("interactions", "error").Inc()
		return 0, fmt.Errorf("load interactions since %s: %w", since.Format(time.RFC3339), err)
	}
	applied := s.apply(ctx, facts, true)
	metrics.SyncRuns.WithLabelValues("interactions", "ok").Inc()
	if applied > 0 {
		s.logger.Debug().Int("applied", applied).Int("loaded", len(facts)).Msg("interactions synced")
	}
	return applied, nil
}

// apply records facts and advances the watermark. With notify set, the
// invalidate hook runs for every fact that was new to the store.
func (s *Syncer) apply(ctx context.Context, facts []domain.Interaction, notify bool) int {
	applied := 0
	latest := s.Watermark()
	for _, f := range facts {
		ok, err := s.store.Record(f)
		if err != nil {
			s.logger.Warn().Err(err).Str("book_id", f.BookID.String()).Msg("skipping invalid interaction")
			continue
		}
		if f.OccurredAt.After(latest) {
			latest = f.OccurredAt
		}
		if !ok {
			continue
		}
		applied++
		metrics.InteractionsRecorded.WithLabelValues(string(f.Type), "applied").Inc()
		if notify {
			s.invalidate(ctx, f)
		}
	}
	s.mu.Lock()
	if latest.After(s.watermark) {
		s.watermark = latest
	}
	s.mu.Unlock()
	return applied
}

func (s *Syncer) Watermark() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark
}

// Maintain folds late genre information into user aggregates and embeds any
// books indexed without vectors.
func (s *Syncer) Maintain(ctx context.Context) error {
	users, err := s.store.Recompute(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("recompute aggregates: %w", err)
	}
	embedded, err := s.index.Reembed(ctx)
	if err != nil {
		return fmt.Errorf("reembed catalog: %w", err)
	}
	if users > 0 || embedded > 0 {
		s.logger.Info().Int("users", users).Int("embedded", embedded).Msg("maintenance complete")
	}
	return nil
}

// Snapshot captures the current state for persistence.
func (s *Syncer) Snapshot() snapshot.Snapshot {
	return snapshot.Snapshot{
		Books:     s.index.Books(),
		Facts:     s.store.Facts(),
		Watermark: s.Watermark(),
	}
}

// Restore seeds the engines from a persisted snapshot.
func (s *Syncer) Restore(snap snapshot.Snapshot) {
	if len(snap.Books) > 0 {
		if n, err := s.index.UpsertMany(snap.Books); err != nil {
			s.logger.Warn().Err(err).Int("indexed", n).Msg("snapshot contained invalid books")
		}
		s.index.MarkReady()
		metrics.CatalogBooks.Set(float64(s.index.Len()))
	}
	s.apply(context.Background(), snap.Facts, false)
	s.mu.Lock()
	if snap.Watermark.After(s.watermark) {
		s.watermark = snap.Watermark
	}
	s.mu.Unlock()
	s.logger.Info().Int("books", len(snap.Books)).Int("facts", len(snap.Facts)).Time("watermark", snap.Watermark).Msg("restored snapshot")
}
