// Package predict forecasts near-term borrowing demand per book from its
// weekly borrow history.
package predict

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/actuallystonmai/library-intelligence/internal/domain"
	"github.com/actuallystonmai/library-intelligence/internal/interactions"
	"github.com/actuallystonmai/library-intelligence/internal/ranking"
)

const (
	MinHorizon = 1
	MaxHorizon = 90
)

// History is the borrow series the model reads; the interaction store
// implements it.
type History interface {
	Borrows(bookID uuid.UUID, from, to time.Time) interactions.BorrowSeries
}

type Config struct {
	// Weeks is the number of weekly buckets in the moving average.
	Weeks int
	// MinBuckets is how many observed weeks are needed before confidence may
	// reach 0.5.
	MinBuckets int
	// SeasonalMinEvents is the event count above which day-of-week
	// multipliers are applied.
	SeasonalMinEvents int
	CacheTTL          time.Duration
	CacheSize         int64
	BatchConcurrency  int
}

func DefaultConfig() Config {
	return Config{
		Weeks:             8,
		MinBuckets:        4,
		SeasonalMinEvents: 14,
		CacheTTL:          time.Hour,
		CacheSize:         10000,
		BatchConcurrency:  8,
	}
}

type Engine struct {
	history History
	cfg     Config
	cache   *ristretto.Cache[string, domain.DemandForecast]
	// gens holds a *atomic.Uint64 per book, bumped by Invalidate so a
	// forecast computed across an invalidation is never cached.
	gens    sync.Map
	logger  zerolog.Logger
	now     func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(history History, cfg Config, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	def := DefaultConfig()
	if cfg.Weeks <= 0 {
		cfg.Weeks = def.Weeks
	}
	if cfg.MinBuckets <= 0 {
		cfg.MinBuckets = def.MinBuckets
	}
	if cfg.SeasonalMinEvents <= 0 {
		cfg.SeasonalMinEvents = def.SeasonalMinEvents
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = def.BatchConcurrency
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, domain.DemandForecast]{
		NumCounters:        cfg.CacheSize * 10,
		MaxCost:            cfg.CacheSize,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create forecast cache: %w", err)
	}

	e := &Engine{
		history: history,
		cfg:     cfg,
		cache:   cache,
		logger:  logger.With().Str("component", "predict").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Ready reports whether forecasts can be served. The model has no trained
// state, so it is ready once constructed.
func (e *Engine) Ready() bool { return e != nil && e.cache != nil }

func (e *Engine) Close() { e.cache.Close() }

func validHorizon(h int) error {
	if h < MinHorizon || h > MaxHorizon {
		return fmt.Errorf("%w: horizon must be between %d and %d days", domain.ErrInvalidParameter, MinHorizon, MaxHorizon)
	}
	return nil
}

func cacheKey(bookID uuid.UUID, horizon int) string {
	return bookID.String() + ":" + strconv.Itoa(horizon)
}

// Predict returns the demand forecast for bookID over the next horizonDays.
// Forecasts are cached per (book, horizon) until Invalidate or TTL expiry,
// so a cached forecast may predate the newest borrow events.
func (e *Engine) Predict(ctx context.Context, bookID uuid.UUID, horizonDays int) (domain.DemandForecast, error) {
	if err := validHorizon(horizonDays); err != nil {
		return domain.DemandForecast{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.DemandForecast{}, err
	}
	return e.predict(bookID, horizonDays), nil
}

func (e *Engine) predict(bookID uuid.UUID, horizon int) domain.DemandForecast {
	key := cacheKey(bookID, horizon)
	if f, ok := e.cache.Get(key); ok {
		return f
	}
	gen := e.generation(bookID)
	seen := gen.Load()
	f := e.forecast(bookID, horizon, e.now())
	if gen.Load() != seen {
		return f
	}
	if e.cache.SetWithTTL(key, f, 1, e.cfg.CacheTTL) {
		e.cache.Wait()
		// Invalidate may have run between the check and the write.
		if gen.Load() != seen {
			e.cache.Del(key)
		}
	}
	return f
}

func (e *Engine) generation(bookID uuid.UUID) *atomic.Uint64 {
	if g, ok := e.gens.Load(bookID); ok {
		return g.(*atomic.Uint64)
	}
	g, _ := e.gens.LoadOrStore(bookID, new(atomic.Uint64))
	return g.(*atomic.Uint64)
}

// Invalidate drops every cached horizon for bookID. Call it after recording
// borrow events for the book.
func (e *Engine) Invalidate(bookID uuid.UUID) {
	e.generation(bookID).Add(1)
	for h := MinHorizon; h <= MaxHorizon; h++ {
		e.cache.Del(cacheKey(bookID, h))
	}
}

// PredictBatch forecasts every id in order. When ctx ends first, the forecasts
// completed before the first unfinished id are returned with partial set.
func (e *Engine) PredictBatch(ctx context.Context, bookIDs []uuid.UUID, horizonDays int) ([]domain.DemandForecast, bool, error) {
	if err := validHorizon(horizonDays); err != nil {
		return nil, false, err
	}
	out := make([]domain.DemandForecast, len(bookIDs))
	done := make([]bool, len(bookIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.BatchConcurrency)
	for i, id := range bookIDs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			out[i] = e.predict(id, horizonDays)
			done[i] = true
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for n < len(done) && done[n] {
		n++
	}
	if n < len(bookIDs) {
		e.logger.Debug().Int("completed", n).Int("requested", len(bookIDs)).Msg("batch prediction cut short")
		return out[:n], true, nil
	}
	return out, false, nil
}

type demandCandidate struct {
	book     *domain.Book
	forecast domain.DemandForecast
}

func (c demandCandidate) Book() *domain.Book { return c.book }

// TopDemand ranks books by forecast demand and returns the top limit
// forecasts. Books with no forecast demand are left out.
func (e *Engine) TopDemand(ctx context.Context, books []domain.Book, horizonDays, limit int) ([]domain.DemandForecast, error) {
	ids := make([]uuid.UUID, len(books))
	for i := range books {
		ids[i] = books[i].ID
	}
	forecasts, _, err := e.PredictBatch(ctx, ids, horizonDays)
	if err != nil {
		return nil, err
	}

	candidates := make([]demandCandidate, len(forecasts))
	peak := 0
	for i, f := range forecasts {
		candidates[i] = demandCandidate{book: &books[i], forecast: f}
		peak = max(peak, f.PredictedDemand)
	}
	if peak == 0 {
		return []domain.DemandForecast{}, nil
	}
	byID := make(map[uuid.UUID]domain.DemandForecast, len(candidates))
	ranked, _ := ranking.Rank(ctx, candidates, ranking.ScorerFunc[demandCandidate](func(c demandCandidate) (float64, string) {
		byID[c.book.ID] = c.forecast
		return float64(c.forecast.PredictedDemand) / float64(peak), ""
	}), limit)

	out := make([]domain.DemandForecast, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, byID[r.Book.ID])
	}
	return out, nil
}
