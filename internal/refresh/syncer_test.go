package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actuallystonmai/library-intelligence/internal/catalog"
	"github.com/actuallystonmai/library-intelligence/internal/domain"
	"github.com/actuallystonmai/library-intelligence/internal/interactions"
)

type fakeCatalog struct {
	mu     sync.Mutex
	books  []domain.Book
	err    error
	calls  int
	onLoad func()
}

func (f *fakeCatalog) LoadBooks(context.Context) ([]domain.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onLoad != nil {
		f.onLoad()
	}
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.Book(nil), f.books...), nil
}

type fakeFacts struct {
	mu     sync.Mutex
	facts  []domain.Interaction
	err    error
	sinces []time.Time
}

func (f *fakeFacts) LoadInteractions(_ context.Context, since time.Time) ([]domain.Interaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinces = append(f.sinces, since)
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Interaction
	for _, ev := range f.facts {
		if !ev.OccurredAt.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func book(title string, genre domain.Genre) domain.Book {
	return domain.Book{
		ID:              uuid.New(),
		Title:           title,
		Author:          "Author",
		Genre:           genre,
		TotalCopies:     2,
		AvailableCopies: 2,
	}
}

func newTestSyncer(books *fakeCatalog, facts *fakeFacts, opts ...Option) (*Syncer, *catalog.Index, *interactions.Store) {
	ix := catalog.New()
	store := interactions.New(interactions.DefaultConfig(), ix)
	s := NewSyncer(ix, store, books, facts, BreakerConfig{Failures: 2, Timeout: time.Hour}, zerolog.Nop(), opts...)
	return s, ix, store
}

func TestSyncCatalog(t *testing.T) {
	dune, emma := book("Dune", domain.GenreSciFi), book("Emma", domain.GenreRomance)
	src := &fakeCatalog{books: []domain.Book{dune, emma}}
	s, ix, _ := newTestSyncer(src, &fakeFacts{})

	assert.False(t, ix.Ready())
	n, err := s.SyncCatalog(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, ix.Ready())
	assert.Equal(t, 2, ix.Len())

	src.books = []domain.Book{dune}
	_, err = s.SyncCatalog(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, ix.Len())
	_, ok := ix.Get(emma.ID)
	assert.False(t, ok, "books dropped from the source are removed")
}

func TestSyncCatalogKeepsBooksWrittenDuringLoad(t *testing.T) {
	dune, late := book("Dune", domain.GenreSciFi), book("Late Arrival", domain.GenreHorror)
	src := &fakeCatalog{books: []domain.Book{dune}}
	s, ix, _ := newTestSyncer(src, &fakeFacts{})
	_, err := s.SyncCatalog(t.Context())
	require.NoError(t, err)

	src.onLoad = func() { require.NoError(t, ix.Upsert(late)) }
	_, err = s.SyncCatalog(t.Context())
	require.NoError(t, err)
	_, ok := ix.Get(late.ID)
	assert.True(t, ok, "a book written while the load ran survives the sweep")

	src.onLoad = nil
	_, err = s.SyncCatalog(t.Context())
	require.NoError(t, err)
	_, ok = ix.Get(late.ID)
	assert.False(t, ok, "the next load that still omits it removes it")
}

func TestSyncCatalogBreakerOpens(t *testing.T) {
	src := &fakeCatalog{err: errors.New("connection refused")}
	s, ix, _ := newTestSyncer(src, &fakeFacts{})

	for range 2 {
		_, err := s.SyncCatalog(t.Context())
		require.Error(t, err)
	}
	_, err := s.SyncCatalog(t.Context())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, src.calls, "open breaker must not reach the source")
	assert.False(t, ix.Ready())
}

func TestSyncInteractions(t *testing.T) {
	dune := book("Dune", domain.GenreSciFi)
	user := uuid.New()
	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	facts := &fakeFacts{facts: []domain.Interaction{
		{UserID: user, BookID: dune.ID, Type: domain.EventBorrow, OccurredAt: base},
		{UserID: user, BookID: dune.ID, Type: domain.EventReview, Rating: 5, OccurredAt: base.Add(time.Hour)},
		{UserID: user, BookID: dune.ID, Type: domain.EventReview, Rating: 9, OccurredAt: base.Add(2 * time.Hour)},
	}}

	var invalidated []domain.EventType
	s, _, store := newTestSyncer(&fakeCatalog{books: []domain.Book{dune}}, facts,
		WithInvalidate(func(_ context.Context, ev domain.Interaction) {
			assert.Equal(t, user, ev.UserID)
			invalidated = append(invalidated, ev.Type)
		}))

	n, err := s.SyncInteractions(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "the invalid review is skipped")
	assert.Equal(t, base.Add(time.Hour), s.Watermark())
	assert.Equal(t, []domain.EventType{domain.EventBorrow, domain.EventReview}, invalidated,
		"every applied fact reaches the hook")

	mean, count := store.RatingMean(dune.ID)
	assert.Equal(t, 1, count)
	assert.InDelta(t, 5.0, mean, 1e-9)

	n, err = s.SyncInteractions(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n, "redelivered facts are not applied twice")
	assert.Len(t, invalidated, 2)
	assert.Equal(t, base.Add(time.Hour).Add(-defaultLookback), facts.sinces[1])
}

func TestSyncInteractionsPicksUpLateWrittenFacts(t *testing.T) {
	dune := book("Dune", domain.GenreSciFi)
	user := uuid.New()
	noon := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	facts := &fakeFacts{facts: []domain.Interaction{
		{UserID: user, BookID: dune.ID, Type: domain.EventBorrow, OccurredAt: noon},
	}}
	s, _, store := newTestSyncer(&fakeCatalog{books: []domain.Book{dune}}, facts)

	_, err := s.SyncInteractions(t.Context())
	require.NoError(t, err)
	require.Equal(t, noon, s.Watermark())

	// a session that happened before the borrow is written afterwards
	facts.mu.Lock()
	facts.facts = append(facts.facts, domain.Interaction{
		UserID: user, BookID: dune.ID, Type: domain.EventReadingSession,
		PagesRead: 30, DurationMinutes: 45, OccurredAt: noon.Add(-time.Hour),
	})
	facts.mu.Unlock()

	n, err := s.SyncInteractions(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(2), store.Events())
	assert.Equal(t, noon, s.Watermark(), "an older fact does not move the watermark back")
}

func TestWithLookback(t *testing.T) {
	at := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	facts := &fakeFacts{facts: []domain.Interaction{
		{UserID: uuid.New(), BookID: uuid.New(), Type: domain.EventBorrow, OccurredAt: at},
	}}
	s, _, _ := newTestSyncer(&fakeCatalog{}, facts, WithLookback(0))

	for range 2 {
		_, err := s.SyncInteractions(t.Context())
		require.NoError(t, err)
	}
	require.Len(t, facts.sinces, 2)
	assert.True(t, facts.sinces[0].IsZero(), "the first load reads everything")
	assert.Equal(t, at, facts.sinces[1])
}

func TestSyncInteractionsSourceError(t *testing.T) {
	s, _, _ := newTestSyncer(&fakeCatalog{}, &fakeFacts{err: errors.New("timeout")})
	_, err := s.SyncInteractions(t.Context())
	require.Error(t, err)
	assert.True(t, s.Watermark().IsZero())
}

func TestSnapshotRestore(t *testing.T) {
	dune := book("Dune", domain.GenreSciFi)
	user := uuid.New()
	at := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	facts := &fakeFacts{facts: []domain.Interaction{
		{UserID: user, BookID: dune.ID, Type: domain.EventBorrow, OccurredAt: at},
	}}
	s, _, _ := newTestSyncer(&fakeCatalog{books: []domain.Book{dune}}, facts)
	_, err := s.SyncCatalog(t.Context())
	require.NoError(t, err)
	_, err = s.SyncInteractions(t.Context())
	require.NoError(t, err)

	snap := s.Snapshot()
	require.Len(t, snap.Books, 1)
	require.Len(t, snap.Facts, 1)
	assert.Equal(t, at, snap.Watermark)

	restored, ix, store := newTestSyncer(&fakeCatalog{}, &fakeFacts{})
	restored.Restore(snap)
	assert.True(t, ix.Ready())
	assert.Equal(t, at, restored.Watermark())
	assert.Equal(t, 1, store.ActiveBorrowings())
}

func TestMaintain(t *testing.T) {
	dune := book("Dune", domain.GenreSciFi)
	user := uuid.New()
	facts := &fakeFacts{facts: []domain.Interaction{
		{UserID: user, BookID: dune.ID, Type: domain.EventBorrow, OccurredAt: time.Now().Add(-time.Hour)},
	}}
	src := &fakeCatalog{}
	s, _, store := newTestSyncer(src, facts)

	// the borrow arrives before its book is known
	_, err := s.SyncInteractions(t.Context())
	require.NoError(t, err)
	p, err := store.UserProfile(t.Context(), user)
	require.NoError(t, err)
	assert.Zero(t, p.GenreAffinity[domain.GenreSciFi])

	src.books = []domain.Book{dune}
	_, err = s.SyncCatalog(t.Context())
	require.NoError(t, err)
	require.NoError(t, s.Maintain(t.Context()))

	p, err = store.UserProfile(t.Context(), user)
	require.NoError(t, err)
	assert.Greater(t, p.GenreAffinity[domain.GenreSciFi], 0.0)
}
