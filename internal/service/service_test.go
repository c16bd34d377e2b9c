package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actuallystonmai/library-intelligence/internal/catalog"
	"github.com/actuallystonmai/library-intelligence/internal/domain"
	"github.com/actuallystonmai/library-intelligence/internal/interactions"
	"github.com/actuallystonmai/library-intelligence/internal/predict"
	"github.com/actuallystonmai/library-intelligence/internal/recommend"
	"github.com/actuallystonmai/library-intelligence/internal/search"
)

type fakeRepo struct {
	mu      sync.Mutex
	users   []uuid.UUID
	saved   []domain.Interaction
	books   map[uuid.UUID]domain.Book
	pingErr error
	saveErr error
}

func (f *fakeRepo) Ping(context.Context) error { return f.pingErr }

func (f *fakeRepo) UpsertBook(_ context.Context, b domain.Book) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.books == nil {
		f.books = make(map[uuid.UUID]domain.Book)
	}
	f.books[b.ID] = b
	return nil
}

func (f *fakeRepo) DeleteBook(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.books[id]
	delete(f.books, id)
	return ok, nil
}

func (f *fakeRepo) SaveInteraction(_ context.Context, ev domain.Interaction) (domain.Interaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return domain.Interaction{}, f.saveErr
	}
	ev.OccurredAt = ev.OccurredAt.UTC().Truncate(time.Microsecond)
	ev.ID = ev.Key()
	f.saved = append(f.saved, ev)
	return ev, nil
}

func (f *fakeRepo) GetUserIDsPaginated(_ context.Context, page, limit int) ([]uuid.UUID, error) {
	start := (page - 1) * limit
	if start >= len(f.users) {
		return nil, nil
	}
	return f.users[start:min(start+limit, len(f.users))], nil
}

func (f *fakeRepo) CountUsers(context.Context) (int, error) { return len(f.users), nil }

type fakeCache struct {
	mu      sync.Mutex
	sets    map[string]domain.RecommendationSet
	cleared []uuid.UUID
}

func cacheKey(userID uuid.UUID, limit int, genre domain.Genre) string {
	return fmt.Sprintf("%s:%d:%s", userID, limit, genre)
}

func (c *fakeCache) Get(_ context.Context, userID uuid.UUID, limit int, genre domain.Genre) (*domain.RecommendationSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.sets[cacheKey(userID, limit, genre)]
	if !ok {
		return nil, nil
	}
	return &set, nil
}

func (c *fakeCache) Set(_ context.Context, userID uuid.UUID, limit int, genre domain.Genre, set domain.RecommendationSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sets == nil {
		c.sets = make(map[string]domain.RecommendationSet)
	}
	c.sets[cacheKey(userID, limit, genre)] = set
	return nil
}

func (c *fakeCache) ClearUserCache(_ context.Context, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared = append(c.cleared, userID)
	prefix := userID.String() + ":"
	for k := range c.sets {
		if strings.HasPrefix(k, prefix) {
			delete(c.sets, k)
		}
	}
	return nil
}

func (c *fakeCache) Ping(context.Context) error { return nil }

func (c *fakeCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sets)
}

type fixture struct {
	svc   *Service
	repo  *fakeRepo
	index *catalog.Index
	store *interactions.Store
	deps  Dependencies
}

// withCache rebuilds the service on top of an in-memory recommendation cache.
func (f *fixture) withCache() *fakeCache {
	c := &fakeCache{}
	deps := f.deps
	deps.Cache = c
	f.svc = NewService(deps, Config{}, zerolog.Nop())
	return c
}

func newFixture(t *testing.T, books ...domain.Book) *fixture {
	t.Helper()
	log := zerolog.Nop()
	ix := catalog.New()
	for _, b := range books {
		require.NoError(t, ix.Upsert(b))
	}
	ix.MarkReady()
	store := interactions.New(interactions.DefaultConfig(), ix)
	predictor, err := predict.New(store, predict.DefaultConfig(), log)
	require.NoError(t, err)
	t.Cleanup(predictor.Close)

	repo := &fakeRepo{}
	deps := Dependencies{
		Repo:      repo,
		Index:     ix,
		Store:     store,
		Search:    search.New(ix, search.DefaultConfig(), log),
		Recommend: recommend.New(ix, store, recommend.DefaultConfig(), log),
		Predict:   predictor,
	}
	return &fixture{svc: NewService(deps, Config{}, log), repo: repo, index: ix, store: store, deps: deps}
}

func newBook(title string, genre domain.Genre) domain.Book {
	return domain.Book{
		ID:              uuid.New(),
		Title:           title,
		Author:          "Some Author",
		Genre:           genre,
		Description:     "a story about " + title,
		TotalCopies:     3,
		AvailableCopies: 3,
		Rating:          4,
	}
}

func TestGetRecommendationsColdStart(t *testing.T) {
	f := newFixture(t, newBook("Dune", domain.GenreSciFi), newBook("Emma", domain.GenreRomance))

	res, err := f.svc.GetRecommendations(t.Context(), uuid.New(), 5, "")
	require.NoError(t, err)
	assert.True(t, res.ColdStart)
	assert.False(t, res.CacheHit)
	require.Len(t, res.Recommendations, 2)
	for _, r := range res.Recommendations {
		assert.Equal(t, domain.MatchTrending, r.MatchType)
	}
}

func TestGetRecommendationsValidation(t *testing.T) {
	f := newFixture(t, newBook("Dune", domain.GenreSciFi))

	_, err := f.svc.GetRecommendations(t.Context(), uuid.New(), 5, "cookbooks")
	assert.ErrorIs(t, err, domain.ErrInvalidFilter)

	_, err = f.svc.GetRecommendations(t.Context(), uuid.New(), 51, "")
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestRecordInteractionBorrow(t *testing.T) {
	dune := newBook("Dune", domain.GenreSciFi)
	f := newFixture(t, dune)
	user := uuid.New()
	ev := domain.Interaction{UserID: user, BookID: dune.ID, Type: domain.EventBorrow, OccurredAt: time.Now()}

	saved, err := f.svc.RecordInteraction(t.Context(), ev)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, saved.ID)
	assert.Equal(t, 1, f.store.ActiveBorrowings())

	got, ok := f.index.Get(dune.ID)
	require.True(t, ok)
	assert.Equal(t, 2, got.AvailableCopies)

	// redelivery of the same fact is accepted but not applied twice
	_, err = f.svc.RecordInteraction(t.Context(), saved)
	require.NoError(t, err)
	got, _ = f.index.Get(dune.ID)
	assert.Equal(t, 2, got.AvailableCopies)

	res, err := f.svc.GetRecommendations(t.Context(), user, 5, "")
	require.NoError(t, err)
	for _, r := range res.Recommendations {
		assert.NotEqual(t, dune.ID, r.Book.ID, "borrowed books are never recommended")
	}
}

func TestRecordInteractionConcurrentBorrowsKeepCopyCount(t *testing.T) {
	popular := newBook("Popular", domain.GenreFiction)
	popular.TotalCopies, popular.AvailableCopies = 200, 200
	f := newFixture(t, popular)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordInteraction(context.Background(), domain.Interaction{
				UserID: uuid.New(), BookID: popular.ID, Type: domain.EventBorrow, OccurredAt: time.Now(),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, ok := f.index.Get(popular.ID)
	require.True(t, ok)
	assert.Equal(t, 100, got.AvailableCopies)
}

func TestRecommendationCacheInvalidation(t *testing.T) {
	dune, emma := newBook("Dune", domain.GenreSciFi), newBook("Emma", domain.GenreRomance)
	f := newFixture(t, dune, emma)
	c := f.withCache()
	user := uuid.New()

	first, err := f.svc.GetRecommendations(t.Context(), user, 5, "")
	require.NoError(t, err)
	require.Contains(t, recommendedIDs(first), dune.ID)
	require.Equal(t, 1, c.len())

	hit, err := f.svc.GetRecommendations(t.Context(), user, 5, "")
	require.NoError(t, err)
	assert.True(t, hit.CacheHit)

	// a borrow that arrives through background sync, not the HTTP path
	ev := domain.Interaction{UserID: user, BookID: dune.ID, Type: domain.EventBorrow, OccurredAt: time.Now()}
	applied, err := f.store.Record(ev)
	require.NoError(t, err)
	require.True(t, applied)
	f.svc.Invalidate(t.Context(), ev)
	assert.Equal(t, []uuid.UUID{user}, c.cleared)
	assert.Zero(t, c.len())

	after, err := f.svc.GetRecommendations(t.Context(), user, 5, "")
	require.NoError(t, err)
	assert.False(t, after.CacheHit)
	assert.NotContains(t, recommendedIDs(after), dune.ID)
}

func TestRecommendationCacheSkipsStaleHits(t *testing.T) {
	dune, emma := newBook("Dune", domain.GenreSciFi), newBook("Emma", domain.GenreRomance)
	f := newFixture(t, dune, emma)
	c := f.withCache()
	user := uuid.New()

	_, err := f.svc.GetRecommendations(t.Context(), user, 5, "")
	require.NoError(t, err)
	require.Equal(t, 1, c.len())

	// recorded without invalidation: the cached set still lists the book
	_, err = f.store.Record(domain.Interaction{UserID: user, BookID: dune.ID, Type: domain.EventBorrow, OccurredAt: time.Now()})
	require.NoError(t, err)

	res, err := f.svc.GetRecommendations(t.Context(), user, 5, "")
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.NotContains(t, recommendedIDs(res), dune.ID)
}

func TestPartialRecommendationsAreNotCached(t *testing.T) {
	f := newFixture(t, newBook("Dune", domain.GenreSciFi), newBook("Emma", domain.GenreRomance))
	c := f.withCache()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	res, err := f.svc.GetRecommendations(ctx, uuid.New(), 5, "")
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Zero(t, c.len())
}

func recommendedIDs(res *domain.RecommendationResult) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(res.Recommendations))
	for _, r := range res.Recommendations {
		out = append(out, r.Book.ID)
	}
	return out
}

func TestRecordInteractionErrors(t *testing.T) {
	dune := newBook("Dune", domain.GenreSciFi)
	f := newFixture(t, dune)

	_, err := f.svc.RecordInteraction(t.Context(), domain.Interaction{BookID: dune.ID, Type: domain.EventBorrow, OccurredAt: time.Now()})
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
	assert.Empty(t, f.repo.saved, "invalid events never reach the database")

	f.repo.saveErr = errors.New("connection reset")
	_, err = f.svc.RecordInteraction(t.Context(), domain.Interaction{
		UserID: uuid.New(), BookID: dune.ID, Type: domain.EventBorrow, OccurredAt: time.Now(),
	})
	require.Error(t, err)
	assert.Zero(t, f.store.Events())
}

func TestUpsertAndDeleteBook(t *testing.T) {
	f := newFixture(t)
	b := newBook("Neuromancer", domain.GenreSciFi)

	require.NoError(t, f.svc.UpsertBook(t.Context(), b))
	_, ok := f.index.Get(b.ID)
	assert.True(t, ok)

	bad := b
	bad.AvailableCopies = 10
	assert.ErrorIs(t, f.svc.UpsertBook(t.Context(), bad), domain.ErrInvalidParameter)

	found, err := f.svc.DeleteBook(t.Context(), b.ID)
	require.NoError(t, err)
	assert.True(t, found)
	_, ok = f.index.Get(b.ID)
	assert.False(t, ok)

	found, err = f.svc.DeleteBook(t.Context(), b.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetBatchRecommendations(t *testing.T) {
	f := newFixture(t, newBook("Dune", domain.GenreSciFi))
	f.repo.users = []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	resp, err := f.svc.GetBatchRecommendations(t.Context(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.TotalUsers)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 2, resp.Summary.SuccessCount)
	assert.Zero(t, resp.Summary.FailedCount)
	assert.Equal(t, f.repo.users[0], resp.Results[0].UserID)
}

func TestAnalytics(t *testing.T) {
	dune, emma := newBook("Dune", domain.GenreSciFi), newBook("Emma", domain.GenreRomance)
	f := newFixture(t, dune, emma)
	f.repo.users = []uuid.UUID{uuid.New()}

	_, err := f.svc.RecordInteraction(t.Context(), domain.Interaction{
		UserID: f.repo.users[0], BookID: dune.ID, Type: domain.EventBorrow, OccurredAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	a, err := f.svc.Analytics(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, a.TotalBooks)
	assert.Equal(t, 1, a.TotalUsers)
	assert.Equal(t, 1, a.ActiveBorrowings)
	require.Len(t, a.PopularBooks, 1)
	assert.Equal(t, dune.ID, a.PopularBooks[0].ID)
	require.Len(t, a.DemandPredictions, 1)
	assert.Equal(t, dune.ID, a.DemandPredictions[0].BookID)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, newBook("Dune", domain.GenreSciFi))

	h := f.svc.Health(t.Context())
	assert.Equal(t, "healthy", h.Status)
	assert.True(t, h.Database)
	assert.False(t, h.Cache, "no redis configured")
	assert.True(t, h.AIModels["search"])

	f.repo.pingErr = errors.New("down")
	assert.Equal(t, "unhealthy", f.svc.Health(t.Context()).Status)
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{domain.ErrInvalidParameter, "invalid_parameter"},
		{domain.ErrInvalidFilter, "invalid_filter"},
		{domain.ErrNotReady, "not_ready"},
		{context.DeadlineExceeded, "request_timeout"},
		{errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		code, _ := categorizeError(tt.err)
		assert.Equal(t, tt.code, code)
	}
}
