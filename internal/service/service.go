// Package service composes the engines with persistence and caching behind
// the operations exposed over HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/actuallystonmai/library-intelligence/internal/cache"
	"github.com/actuallystonmai/library-intelligence/internal/catalog"
	"github.com/actuallystonmai/library-intelligence/internal/domain"
	"github.com/actuallystonmai/library-intelligence/internal/interactions"
	"github.com/actuallystonmai/library-intelligence/internal/metrics"
	"github.com/actuallystonmai/library-intelligence/internal/predict"
	"github.com/actuallystonmai/library-intelligence/internal/ranking"
	"github.com/actuallystonmai/library-intelligence/internal/recommend"
	"github.com/actuallystonmai/library-intelligence/internal/search"
	"github.com/actuallystonmai/library-intelligence/internal/tracing"
)

const (
	defaultLimit     = 10
	batchConcurrency = 10
	batchRecLimit    = 10
	analyticsLimit   = 10
	analyticsHorizon = 7
)

// Repository is the slice of Postgres the service writes through.
type Repository interface {
	Ping(ctx context.Context) error
	UpsertBook(ctx context.Context, b domain.Book) error
	DeleteBook(ctx context.Context, id uuid.UUID) (bool, error)
	SaveInteraction(ctx context.Context, ev domain.Interaction) (domain.Interaction, error)
	GetUserIDsPaginated(ctx context.Context, page, limit int) ([]uuid.UUID, error)
	CountUsers(ctx context.Context) (int, error)
}

// RecommendationCache holds recommendation sets per user. *cache.Cache is
// the redis implementation.
type RecommendationCache interface {
	Get(ctx context.Context, userID uuid.UUID, limit int, genre domain.Genre) (*domain.RecommendationSet, error)
	Set(ctx context.Context, userID uuid.UUID, limit int, genre domain.Genre, set domain.RecommendationSet) error
	ClearUserCache(ctx context.Context, userID uuid.UUID) error
	Ping(ctx context.Context) error
}

type Config struct {
	BatchConcurrency int
}

type Dependencies struct {
	Repo      Repository
	Cache     RecommendationCache
	Index     *catalog.Index
	Store     *interactions.Store
	Search    *search.Engine
	Recommend *recommend.Engine
	Predict   *predict.Engine
}

type Service struct {
	repo        Repository
	cache       RecommendationCache
	index       *catalog.Index
	store       *interactions.Store
	searcher    *search.Engine
	recommender *recommend.Engine
	predictor   *predict.Engine

	batchConcurrency int
	logger           zerolog.Logger
	now              func() time.Time
}

func NewService(deps Dependencies, cfg Config, logger zerolog.Logger) *Service {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = batchConcurrency
	}
	if deps.Cache == nil {
		deps.Cache = (*cache.Cache)(nil)
	}
	return &Service{
		repo:             deps.Repo,
		cache:            deps.Cache,
		index:            deps.Index,
		store:            deps.Store,
		searcher:         deps.Search,
		recommender:      deps.Recommend,
		predictor:        deps.Predict,
		batchConcurrency: cfg.BatchConcurrency,
		logger:           logger.With().Str("component", "service").Logger(),
		now:              time.Now,
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracing.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) GetRecommendations(ctx context.Context, userID uuid.UUID, limit int, genre string) (result *domain.RecommendationResult, err error) {
	if limit == 0 {
		limit = defaultLimit
	}
	var g domain.Genre
	if genre != "" {
		if g, err = domain.ParseGenre(genre); err != nil {
			return nil, err
		}
	}

	ctx, span := startSpan(ctx, "service.recommend",
		attribute.String("user.id", userID.String()), attribute.Int("limit", limit), attribute.String("genre", string(g)))
	defer func() { endSpan(span, err) }()

	cached, err := s.cache.Get(ctx, userID, limit, g)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("cache get failed")
	}
	if cached != nil && s.stale(ctx, userID, cached) {
		metrics.CacheRequests.WithLabelValues("stale").Inc()
		cached = nil
	}
	if cached != nil {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return &domain.RecommendationResult{
			Recommendations: cached.Items,
			ColdStart:       cached.ColdStart,
			CacheHit:        true,
		}, nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()

	start := time.Now()
	set, err := s.recommender.Recommend(ctx, userID, limit, genre)
	metrics.ObserveEngine("recommend", start, err)
	if err != nil {
		return nil, err
	}
	if set.ColdStart {
		metrics.ColdStarts.Inc()
	}
	if set.Partial {
		metrics.PartialResults.WithLabelValues("recommend").Inc()
	} else if cacheErr := s.cache.Set(ctx, userID, limit, g, set); cacheErr != nil {
		s.logger.Warn().Err(cacheErr).Str("user_id", userID.String()).Msg("cache set failed")
	}

	return &domain.RecommendationResult{
		Recommendations: set.Items,
		ColdStart:       set.ColdStart,
		Partial:         set.Partial,
	}, nil
}

// stale reports whether a cached set recommends a book the user has since
// borrowed, read or rated.
func (s *Service) stale(ctx context.Context, userID uuid.UUID, set *domain.RecommendationSet) bool {
	profile, err := s.store.UserProfile(ctx, userID)
	if err != nil || profile == nil {
		return false
	}
	for _, rec := range set.Items {
		if profile.Excluded(rec.Book.ID) {
			return true
		}
	}
	return false
}

func (s *Service) GetBatchRecommendations(ctx context.Context, page, limit int) (*domain.BatchResponse, error) {
	start := time.Now()

	userIDs, err := s.repo.GetUserIDsPaginated(ctx, page, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch user ids: %w", err)
	}
	totalUsers, err := s.repo.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	results := make([]domain.BatchUserResult, len(userIDs))
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.batchConcurrency)

	for i, userID := range userIDs {
		wg.Add(1)
		go func(idx int, uid uuid.UUID) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = s.processUserForBatch(ctx, uid)
		}(i, userID)
	}
	wg.Wait()

	successCount, failedCount := 0, 0
	for _, r := range results {
		if r.Status == domain.StatusSuccess {
			successCount++
		} else {
			failedCount++
		}
	}

	return &domain.BatchResponse{
		Page:       page,
		Limit:      limit,
		TotalUsers: totalUsers,
		Results:    results,
		Summary: domain.BatchSummary{
			SuccessCount:     successCount,
			FailedCount:      failedCount,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
		},
		Metadata: domain.BatchMeta{
			GeneratedAt: s.now().UTC().Format(time.RFC3339),
		},
	}, nil
}

// processUserForBatch recommends for one user, capturing the error instead of
// failing the page.
func (s *Service) processUserForBatch(ctx context.Context, userID uuid.UUID) domain.BatchUserResult {
	result, err := s.GetRecommendations(ctx, userID, batchRecLimit, "")
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("batch recommendation failed")
		code, msg := categorizeError(err)
		return domain.BatchUserResult{
			UserID:  userID,
			Status:  domain.StatusFailed,
			Error:   code,
			Message: msg,
		}
	}
	return domain.BatchUserResult{
		UserID:          userID,
		Recommendations: result.Recommendations,
		Status:          domain.StatusSuccess,
	}
}

func (s *Service) Search(ctx context.Context, query string, limit int, filter domain.Filter) (results []domain.SearchResult, partial bool, err error) {
	ctx, span := startSpan(ctx, "service.search", attribute.Int("limit", limit), attribute.String("genre", string(filter.Genre)))
	defer func() { endSpan(span, err) }()

	start := time.Now()
	results, partial, err = s.searcher.Search(ctx, query, limit, filter)
	metrics.ObserveEngine("search", start, err)
	if partial {
		metrics.PartialResults.WithLabelValues("search").Inc()
	}
	return results, partial, err
}

func (s *Service) PredictDemand(ctx context.Context, bookID uuid.UUID, horizonDays int) (f domain.DemandForecast, err error) {
	ctx, span := startSpan(ctx, "service.predict", attribute.String("book.id", bookID.String()), attribute.Int("horizon", horizonDays))
	defer func() { endSpan(span, err) }()

	start := time.Now()
	f, err = s.predictor.Predict(ctx, bookID, horizonDays)
	metrics.ObserveEngine("predict", start, err)
	return f, err
}

func (s *Service) PredictDemandBatch(ctx context.Context, bookIDs []uuid.UUID, horizonDays int) (out []domain.DemandForecast, partial bool, err error) {
	ctx, span := startSpan(ctx, "service.predict_batch", attribute.Int("books", len(bookIDs)), attribute.Int("horizon", horizonDays))
	defer func() { endSpan(span, err) }()

	start := time.Now()
	out, partial, err = s.predictor.PredictBatch(ctx, bookIDs, horizonDays)
	metrics.ObserveEngine("predict_batch", start, err)
	if partial {
		metrics.PartialResults.WithLabelValues("predict").Inc()
	}
	return out, partial, err
}

// UpsertBook writes the book to Postgres and then to the index, so a failed
// write never leaves the index ahead of the database.
func (s *Service) UpsertBook(ctx context.Context, b domain.Book) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if err := s.repo.UpsertBook(ctx, b); err != nil {
		return fmt.Errorf("save book %s: %w", b.ID, err)
	}
	if err := s.index.Upsert(b); err != nil {
		return err
	}
	metrics.CatalogBooks.Set(float64(s.index.Len()))
	return nil
}

func (s *Service) DeleteBook(ctx context.Context, id uuid.UUID) (bool, error) {
	found, err := s.repo.DeleteBook(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete book %s: %w", id, err)
	}
	s.index.Remove(id)
	s.predictor.Invalidate(id)
	metrics.CatalogBooks.Set(float64(s.index.Len()))
	return found, nil
}

// RecordInteraction persists a circulation fact and applies it to the
// in-memory aggregates. Cached recommendations for the user are dropped and
// forecasts for the book are invalidated on borrow and return.
func (s *Service) RecordInteraction(ctx context.Context, ev domain.Interaction) (saved domain.Interaction, err error) {
	ctx, span := startSpan(ctx, "service.record_interaction",
		attribute.String("user.id", ev.UserID.String()), attribute.String("event.type", string(ev.Type)))
	defer func() { endSpan(span, err) }()

	if err := ev.Validate(); err != nil {
		metrics.InteractionsRecorded.WithLabelValues(string(ev.Type), "rejected").Inc()
		return domain.Interaction{}, err
	}
	saved, err = s.repo.SaveInteraction(ctx, ev)
	if err != nil {
		metrics.InteractionsRecorded.WithLabelValues(string(ev.Type), "error").Inc()
		return domain.Interaction{}, fmt.Errorf("save interaction: %w", err)
	}

	applied, err := s.store.Record(saved)
	if err != nil {
		return domain.Interaction{}, err
	}
	if !applied {
		metrics.InteractionsRecorded.WithLabelValues(string(saved.Type), "duplicate").Inc()
		return saved, nil
	}
	metrics.InteractionsRecorded.WithLabelValues(string(saved.Type), "applied").Inc()

	switch saved.Type {
	case domain.EventBorrow:
		s.adjustCopies(saved.BookID, -1)
	case domain.EventReturn:
		s.adjustCopies(saved.BookID, 1)
	}
	s.Invalidate(ctx, saved)
	return saved, nil
}

// Invalidate drops state derived before ev was recorded: the user's cached
// recommendations and, for borrows and returns, the book's forecasts. It
// runs for interactions arriving over HTTP and through background sync.
func (s *Service) Invalidate(ctx context.Context, ev domain.Interaction) {
	if ev.Type == domain.EventBorrow || ev.Type == domain.EventReturn {
		s.predictor.Invalidate(ev.BookID)
	}
	if err := s.cache.ClearUserCache(ctx, ev.UserID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", ev.UserID.String()).Msg("cache invalidation failed")
	}
}

// adjustCopies mirrors the available-copies change the repository made so
// availability filters see it before the next catalog sync.
func (s *Service) adjustCopies(bookID uuid.UUID, delta int) {
	if n, ok := s.index.AdjustCopies(bookID, delta); !ok {
		s.logger.Debug().Str("book_id", bookID.String()).Int("available", n).Int("delta", delta).Msg("copy count left unchanged")
	}
}

func (s *Service) ReadingStats(_ context.Context, userID uuid.UUID) domain.ReadingStats {
	return s.store.ReadingStats(userID, s.now())
}

type popularCandidate struct {
	book *domain.Book
}

func (c popularCandidate) Book() *domain.Book { return c.book }

func (s *Service) Analytics(ctx context.Context) (*domain.LibraryAnalytics, error) {
	if !s.index.Ready() {
		return nil, fmt.Errorf("%w: catalog not loaded", domain.ErrNotReady)
	}
	totalUsers, err := s.repo.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	books := s.index.Books()
	now := s.now()
	candidates := make([]popularCandidate, len(books))
	peak := 0.0
	for i := range books {
		candidates[i] = popularCandidate{book: &books[i]}
		peak = max(peak, s.store.BookPopularity(books[i].ID, now))
	}
	popular := []domain.BookResponse{}
	if peak > 0 {
		ranked, _ := ranking.Rank(ctx, candidates, ranking.ScorerFunc[popularCandidate](func(c popularCandidate) (float64, string) {
			return s.store.BookPopularity(c.book.ID, now) / peak, ""
		}), analyticsLimit)
		for _, r := range ranked {
			popular = append(popular, r.Book.Response())
		}
	}

	demand, err := s.predictor.TopDemand(ctx, books, analyticsHorizon, analyticsLimit)
	if err != nil {
		return nil, fmt.Errorf("rank demand: %w", err)
	}

	return &domain.LibraryAnalytics{
		TotalBooks:        s.index.Len(),
		TotalUsers:        totalUsers,
		ActiveBorrowings:  s.store.ActiveBorrowings(),
		PopularBooks:      popular,
		DemandPredictions: demand,
	}, nil
}

// Health reports dependency reachability and per-engine readiness. The
// service is healthy when the database answers and every engine is ready.
func (s *Service) Health(ctx context.Context) domain.HealthResponse {
	resp := domain.HealthResponse{
		Database: s.repo.Ping(ctx) == nil,
		Cache:    s.cache.Ping(ctx) == nil,
		AIModels: map[string]bool{
			"catalog":   s.index.Ready(),
			"search":    s.searcher.Ready(),
			"recommend": s.recommender.Ready(),
			"predict":   s.predictor.Ready(),
		},
	}
	resp.Status = "healthy"
	if !resp.Database {
		resp.Status = "unhealthy"
		return resp
	}
	for _, ok := range resp.AIModels {
		if !ok {
			resp.Status = "degraded"
		}
	}
	return resp
}

// categorizeError maps an error to the code and message reported per user in
// batch responses.
func categorizeError(err error) (string, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidParameter):
		return "invalid_parameter", err.Error()
	case errors.Is(err, domain.ErrInvalidFilter):
		return "invalid_filter", err.Error()
	case errors.Is(err, domain.ErrNotReady):
		return "not_ready", "recommendation engine is not ready"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "request_timeout", "request timed out"
	}
	return "internal_error", "an unexpected error occurred"
}
