package interactions

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actuallystonmai/library-intelligence/internal/domain"
)

type genreMap map[uuid.UUID]domain.Genre

func (g genreMap) GenreOf(id uuid.UUID) (domain.Genre, bool) {
	genre, ok := g[id]
	return genre, ok
}

type stubSource struct {
	profile *domain.UserProfile
	err     error
}

func (s stubSource) UserProfile(context.Context, uuid.UUID) (*domain.UserProfile, error) {
	return s.profile, s.err
}

var now = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func event(user, book uuid.UUID, typ domain.EventType, at time.Time) domain.Interaction {
	return domain.Interaction{UserID: user, BookID: book, Type: typ, OccurredAt: at}
}

func TestRecordIdempotentPerEventID(t *testing.T) {
	book := uuid.New()
	s := New(DefaultConfig(), genreMap{book: domain.GenreSciFi})
	ev := event(uuid.New(), book, domain.EventBorrow, now)
	ev.ID = uuid.New()

	ok, err := s.Record(ev)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Record(ev)
	require.NoError(t, err)
	assert.False(t, ok, "duplicate delivery is ignored")

	series := s.Borrows(book, now.AddDate(0, 0, -1), now.AddDate(0, 0, 1))
	assert.Equal(t, 1, series.Total)
	assert.Equal(t, int64(1), s.Events())
}

func TestRecordWithoutIDDedupesOnFields(t *testing.T) {
	s := New(DefaultConfig(), nil)
	ev := event(uuid.New(), uuid.New(), domain.EventBorrow, now)

	first, _ := s.Record(ev)
	second, _ := s.Record(ev)
	assert.True(t, first)
	assert.False(t, second)
}

func TestRecordRejectsInvalid(t *testing.T) {
	s := New(DefaultConfig(), nil)
	_, err := s.Record(domain.Interaction{UserID: uuid.New(), Type: domain.EventBorrow, OccurredAt: now})
	assert.True(t, errors.Is(err, domain.ErrInvalidParameter))
}

func TestUserProfileColdStart(t *testing.T) {
	s := New(DefaultConfig(), nil)
	p, err := s.UserProfile(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, p.ColdStart())
}

func TestUserProfileFallsBackToSource(t *testing.T) {
	stored := domain.NewProfile(uuid.New())
	stored.GenreAffinity[domain.GenreHorror] = 2

	s := New(DefaultConfig(), nil, WithProfileSource(stubSource{profile: stored}))
	p, err := s.UserProfile(context.Background(), stored.UserID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.GenreAffinity[domain.GenreHorror])

	failing := New(DefaultConfig(), nil, WithProfileSource(stubSource{err: errors.New("db down")}))
	p, err = failing.UserProfile(context.Background(), uuid.New())
	require.NoError(t, err, "source failures degrade to cold start")
	assert.True(t, p.ColdStart())
}

func TestRecordVisibleToSubsequentReads(t *testing.T) {
	scifi, romance := uuid.New(), uuid.New()
	s := New(DefaultConfig(), genreMap{scifi: domain.GenreSciFi, romance: domain.GenreRomance})
	user := uuid.New()

	_, err := s.Record(event(user, scifi, domain.EventBorrow, now))
	require.NoError(t, err)
	review := event(user, romance, domain.EventReview, now)
	review.Rating = 4
	_, err = s.Record(review)
	require.NoError(t, err)

	p, err := s.UserProfile(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, p.ColdStart())
	assert.Equal(t, 1.0, p.GenreAffinity[domain.GenreSciFi])
	assert.InDelta(t, 0.8, p.GenreAffinity[domain.GenreRomance], 1e-9)
	assert.True(t, p.ActiveBorrows[scifi])
	assert.True(t, p.Rated[romance])
	assert.Len(t, p.Recent, 2)

	mean, n := s.RatingMean(romance)
	assert.Equal(t, 4.0, mean)
	assert.Equal(t, 1, n)
}

func TestReturnClearsActiveBorrowOutOfOrder(t *testing.T) {
	book := uuid.New()
	user := uuid.New()
	s := New(DefaultConfig(), nil)

	_, _ = s.Record(event(user, book, domain.EventReturn, now.Add(time.Hour)))
	_, _ = s.Record(event(user, book, domain.EventBorrow, now))

	p, _ := s.UserProfile(context.Background(), user)
	assert.False(t, p.ActiveBorrows[book])
	assert.True(t, p.Engaged[book])
	assert.Equal(t, 0, s.ActiveBorrowings())
}

func TestBookPopularityHalfLife(t *testing.T) {
	book := uuid.New()
	s := New(Config{HalfLife: 30 * 24 * time.Hour}, nil)
	_, _ = s.Record(event(uuid.New(), book, domain.EventBorrow, now))

	assert.InDelta(t, 1.0, s.BookPopularity(book, now), 1e-9)
	assert.InDelta(t, 0.5, s.BookPopularity(book, now.Add(30*24*time.Hour)), 1e-9)
	assert.InDelta(t, 0.25, s.BookPopularity(book, now.Add(60*24*time.Hour)), 1e-9)
	assert.Equal(t, 0.0, s.BookPopularity(uuid.New(), now))
}

func TestPopularityOrderIndependent(t *testing.T) {
	book := uuid.New()
	times := []time.Time{now.AddDate(0, 0, -40), now.AddDate(0, 0, -3), now.AddDate(0, 0, -20)}

	inOrder := New(DefaultConfig(), nil)
	reversed := New(DefaultConfig(), nil)
	for i := range times {
		_, _ = inOrder.Record(event(uuid.New(), book, domain.EventBorrow, times[i]))
	}
	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i := len(times) - 1; i >= 0; i-- {
		_, _ = reversed.Record(event(users[i], book, domain.EventBorrow, times[i]))
	}

	a, b := inOrder.BookPopularity(book, now), reversed.BookPopularity(book, now)
	assert.InDelta(t, a, b, 1e-9)

	want := math.Exp2(-40.0/30) + math.Exp2(-3.0/30) + math.Exp2(-20.0/30)
	assert.InDelta(t, want, a, 1e-9)
}

func TestCoOccurrence(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	s := New(DefaultConfig(), nil)
	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()

	for _, u := range []uuid.UUID{u1, u2} {
		_, _ = s.Record(event(u, a, domain.EventBorrow, now))
		_, _ = s.Record(event(u, b, domain.EventBorrow, now))
	}
	_, _ = s.Record(event(u3, a, domain.EventBorrow, now))
	_, _ = s.Record(event(u3, c, domain.EventBorrow, now))

	got := s.CoOccurrence(a, 0)
	require.Len(t, got, 2)
	assert.Equal(t, b, got[0].BookID)
	assert.Equal(t, 2, got[0].Count)
	// readers(a)=3, readers(b)=2, co=2 -> 2/3
	assert.InDelta(t, 2.0/3.0, got[0].Strength, 1e-9)
	assert.Equal(t, c, got[1].BookID)
	assert.InDelta(t, 1.0/3.0, got[1].Strength, 1e-9)

	assert.Len(t, s.CoOccurrence(a, 1), 1)
	assert.Empty(t, s.CoOccurrence(uuid.New(), 5))
}

func TestRepeatEngagementDoesNotInflateCoOccurrence(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	u := uuid.New()
	s := New(DefaultConfig(), nil)
	_, _ = s.Record(event(u, a, domain.EventBorrow, now))
	_, _ = s.Record(event(u, b, domain.EventBorrow, now))
	_, _ = s.Record(event(u, b, domain.EventBorrow, now.Add(time.Hour)))

	got := s.CoOccurrence(a, 0)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Count)
}

func TestRecomputeResolvesLateGenres(t *testing.T) {
	book := uuid.New()
	genres := genreMap{}
	s := New(DefaultConfig(), genres)
	user := uuid.New()
	_, _ = s.Record(event(user, book, domain.EventBorrow, now))

	p, _ := s.UserProfile(context.Background(), user)
	assert.Empty(t, p.GenreAffinity)

	genres[book] = domain.GenreFantasy
	n, err := s.Recompute(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p, _ = s.UserProfile(context.Background(), user)
	assert.Equal(t, 1.0, p.GenreAffinity[domain.GenreFantasy])
}

func TestConcurrentRecord(t *testing.T) {
	book := uuid.New()
	s := New(DefaultConfig(), genreMap{book: domain.GenreReference})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Record(event(uuid.New(), book, domain.EventBorrow, now.Add(time.Duration(i)*time.Minute)))
		}(i)
	}
	wg.Wait()

	series := s.Borrows(book, now.AddDate(0, 0, -1), now.AddDate(0, 0, 1))
	assert.Equal(t, 50, series.Total)
	assert.Equal(t, 50, s.ActiveBorrowings())
}

func TestBorrowsWindow(t *testing.T) {
	book := uuid.New()
	s := New(DefaultConfig(), nil)
	_, _ = s.Record(event(uuid.New(), book, domain.EventBorrow, now.AddDate(0, 0, -2)))
	_, _ = s.Record(event(uuid.New(), book, domain.EventBorrow, now.AddDate(0, 0, -10)))

	series := s.Borrows(book, now.AddDate(0, 0, -7), now)
	assert.Len(t, series.Counts, 7)
	assert.Equal(t, 1, series.Total)
	assert.Equal(t, 1, series.Counts[5])
	assert.Equal(t, dayOf(now.AddDate(0, 0, -10)), dayOf(series.FirstBorrow))
}

func TestReadingStats(t *testing.T) {
	fantasy := uuid.New()
	s := New(DefaultConfig(), genreMap{fantasy: domain.GenreFantasy})
	user := uuid.New()

	for d := 0; d < 3; d++ {
		ev := event(user, fantasy, domain.EventReadingSession, now.AddDate(0, 0, -d))
		ev.PagesRead = 20
		ev.DurationMinutes = 30
		ev.ProgressPercentage = float64(30*(3-d) + 10)
		_, err := s.Record(ev)
		require.NoError(t, err)
	}
	old := event(user, fantasy, domain.EventReadingSession, now.AddDate(0, 0, -10))
	old.PagesRead = 5
	_, _ = s.Record(old)

	stats := s.ReadingStats(user, now)
	assert.Equal(t, 1, stats.TotalBooksRead)
	assert.Equal(t, 65, stats.TotalPagesRead)
	assert.Equal(t, 90, stats.TotalReadingTime)
	assert.Equal(t, 3, stats.CurrentStreak)
	assert.Equal(t, 3, stats.LongestStreak)
	assert.Equal(t, "fantasy", stats.FavoriteGenre)
	assert.Equal(t, 1, stats.MonthlyReading["2026-06"])

	empty := s.ReadingStats(uuid.New(), now)
	assert.Zero(t, empty.TotalBooksRead)
	assert.NotNil(t, empty.MonthlyReading)
}

func TestStreaks(t *testing.T) {
	days := map[int64]bool{10: true, 11: true, 12: true, 20: true, 21: true}
	cur, longest := streaks(days, 22)
	assert.Equal(t, 2, cur, "a streak ending yesterday is still current")
	assert.Equal(t, 3, longest)

	cur, _ = streaks(days, 25)
	assert.Equal(t, 0, cur)
}
