// Package interactions maintains derived aggregates over circulation facts:
// per-user genre affinity, per-book decayed popularity and ratings, and the
// sparse user x book matrix behind co-occurrence.
package interactions

import (
	"context"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/actuallystonmai/library-intelligence/internal/domain"
)

const shardCount = 32

// GenreLookup resolves a book's genre; the catalog index implements it.
type GenreLookup interface {
	GenreOf(id uuid.UUID) (domain.Genre, bool)
}

// ProfileSource is consulted for users with no local history, e.g. stored
// preferences of a newly registered reader. It returns nil, nil for unknown
// users.
type ProfileSource interface {
	UserProfile(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error)
}

type Config struct {
	HalfLife      time.Duration
	RecentLimit   int
	RetentionDays int
}

func DefaultConfig() Config {
	return Config{
		HalfLife:      30 * 24 * time.Hour,
		RecentLimit:   20,
		RetentionDays: 400,
	}
}

type Store struct {
	cfg    Config
	genres GenreLookup
	source ProfileSource
	logger zerolog.Logger

	seen  [shardCount]*seenShard
	users [shardCount]*userShard
	books [shardCount]*bookShard
	co    [shardCount]*coShard

	events atomic.Int64
}

type seenShard struct {
	mu  sync.Mutex
	ids map[uuid.UUID]struct{}
}

type userShard struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*userState
}

type bookShard struct {
	mu    sync.RWMutex
	books map[uuid.UUID]*bookState
}

type coShard struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]map[uuid.UUID]int
}

type Option func(*Store)

func WithProfileSource(src ProfileSource) Option {
	return func(s *Store) { s.source = src }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l.With().Str("component", "interactions").Logger() }
}

func New(cfg Config, genres GenreLookup, opts ...Option) *Store {
	def := DefaultConfig()
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = def.HalfLife
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = def.RecentLimit
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = def.RetentionDays
	}
	s := &Store{cfg: cfg, genres: genres, logger: zerolog.Nop()}
	for i := 0; i < shardCount; i++ {
		s.seen[i] = &seenShard{ids: make(map[uuid.UUID]struct{})}
		s.users[i] = &userShard{users: make(map[uuid.UUID]*userState)}
		s.books[i] = &bookShard{books: make(map[uuid.UUID]*bookState)}
		s.co[i] = &coShard{rows: make(map[uuid.UUID]map[uuid.UUID]int)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func slot(id uuid.UUID) uint64 {
	return xxhash.Sum64(id[:]) % shardCount
}

// Record ingests one fact. It returns false when the event id was already
// applied, which makes redelivery harmless.
func (s *Store) Record(ev domain.Interaction) (bool, error) {
	if err := ev.Validate(); err != nil {
		return false, err
	}
	ev.ID = ev.Key()
	ev.OccurredAt = ev.OccurredAt.UTC()

	seen := s.seen[slot(ev.ID)]
	seen.mu.Lock()
	if _, dup := seen.ids[ev.ID]; dup {
		seen.mu.Unlock()
		return false, nil
	}
	seen.ids[ev.ID] = struct{}{}
	seen.mu.Unlock()

	genre, known := s.genreOf(ev.BookID)

	us := s.users[slot(ev.UserID)]
	us.mu.Lock()
	u, ok := us.users[ev.UserID]
	if !ok {
		u = newUserState()
		us.users[ev.UserID] = u
	}
	newlyEngaged := engages(ev.Type) && !u.engaged[ev.BookID]
	var others []uuid.UUID
	if newlyEngaged {
		others = make([]uuid.UUID, 0, len(u.engaged))
		for id := range u.engaged {
			others = append(others, id)
		}
	}
	u.apply(ev, genre, known, s.cfg.RecentLimit)
	us.mu.Unlock()

	bs := s.books[slot(ev.BookID)]
	bs.mu.Lock()
	b, ok := bs.books[ev.BookID]
	if !ok {
		b = newBookState()
		bs.books[ev.BookID] = b
	}
	b.apply(ev, s.cfg.HalfLife)
	bs.mu.Unlock()

	for _, other := range others {
		s.bumpCo(ev.BookID, other)
		s.bumpCo(other, ev.BookID)
	}

	s.events.Add(1)
	return true, nil
}

func (s *Store) genreOf(id uuid.UUID) (domain.Genre, bool) {
	if s.genres == nil {
		return "", false
	}
	return s.genres.GenreOf(id)
}

func (s *Store) bumpCo(a, b uuid.UUID) {
	sh := s.co[slot(a)]
	sh.mu.Lock()
	row, ok := sh.rows[a]
	if !ok {
		row = make(map[uuid.UUID]int)
		sh.rows[a] = row
	}
	row[b]++
	sh.mu.Unlock()
}

// UserProfile returns the user's current aggregates. Users without local
// history fall back to the profile source, then to an empty profile.
func (s *Store) UserProfile(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error) {
	us := s.users[slot(userID)]
	us.mu.RLock()
	u, ok := us.users[userID]
	if ok {
		p := u.profile(userID)
		us.mu.RUnlock()
		return p, nil
	}
	us.mu.RUnlock()

	if s.source != nil {
		p, err := s.source.UserProfile(ctx, userID)
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("profile source failed, treating as cold start")
		} else if p != nil {
			return p, nil
		}
	}
	return domain.NewProfile(userID), nil
}

// BookPopularity returns the time-decayed popularity of a book at now.
func (s *Store) BookPopularity(bookID uuid.UUID, now time.Time) float64 {
	bs := s.books[slot(bookID)]
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	b, ok := bs.books[bookID]
	if !ok {
		return 0
	}
	return b.popularityAt(now, s.cfg.HalfLife)
}

// RatingMean returns the running mean of review ratings and their count.
func (s *Store) RatingMean(bookID uuid.UUID) (float64, int) {
	bs := s.books[slot(bookID)]
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	b, ok := bs.books[bookID]
	if !ok || b.ratingCount == 0 {
		return 0, 0
	}
	return float64(b.ratingSum) / float64(b.ratingCount), b.ratingCount
}

type CoOccurrence struct {
	BookID   uuid.UUID `json:"book_id"`
	Count    int       `json:"count"`
	Strength float64   `json:"strength"`
}

// CoOccurrence lists books engaged with by the same readers as bookID.
// Strength is the Jaccard index of the two reader sets. limit <= 0 returns
// every row.
func (s *Store) CoOccurrence(bookID uuid.UUID, limit int) []CoOccurrence {
	sh := s.co[slot(bookID)]
	sh.mu.RLock()
	row := make(map[uuid.UUID]int, len(sh.rows[bookID]))
	for id, n := range sh.rows[bookID] {
		row[id] = n
	}
	sh.mu.RUnlock()
	if len(row) == 0 {
		return nil
	}

	a := s.readerCount(bookID)
	out := make([]CoOccurrence, 0, len(row))
	for id, co := range row {
		union := a + s.readerCount(id) - co
		strength := 0.0
		if union > 0 {
			strength = math.Min(1, float64(co)/float64(union))
		}
		out = append(out, CoOccurrence{BookID: id, Count: co, Strength: strength})
	}
	slices.SortFunc(out, func(x, y CoOccurrence) int {
		if x.Strength != y.Strength {
			if x.Strength > y.Strength {
				return -1
			}
			return 1
		}
		return compareIDs(x.BookID, y.BookID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func compareIDs(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (s *Store) readerCount(bookID uuid.UUID) int {
	bs := s.books[slot(bookID)]
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	if b, ok := bs.books[bookID]; ok {
		return len(b.readers)
	}
	return 0
}

// BorrowSeries is a book's daily borrow counts over a window.
type BorrowSeries struct {
	Start       time.Time
	Counts      []int
	Total       int
	FirstBorrow time.Time
}

// Borrows returns daily borrow counts for the days in [from, to).
func (s *Store) Borrows(bookID uuid.UUID, from, to time.Time) BorrowSeries {
	start, end := dayOf(from), dayOf(to)
	series := BorrowSeries{Start: time.Unix(start*secondsPerDay, 0).UTC()}
	if end <= start {
		return series
	}
	series.Counts = make([]int, end-start)

	bs := s.books[slot(bookID)]
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	b, ok := bs.books[bookID]
	if !ok {
		return series
	}
	for day, n := range b.daily {
		if day >= start && day < end {
			series.Counts[day-start] += n
			series.Total += n
		}
	}
	if b.firstBorrow != math.MaxInt64 {
		series.FirstBorrow = time.Unix(b.firstBorrow*secondsPerDay, 0).UTC()
	}
	return series
}

// ActiveBorrowings counts (user, book) pairs currently on loan.
func (s *Store) ActiveBorrowings() int {
	n := 0
	for _, us := range s.users {
		us.mu.RLock()
		for _, u := range us.users {
			for _, c := range u.active {
				if c > 0 {
					n++
				}
			}
		}
		us.mu.RUnlock()
	}
	return n
}

// Events is the number of distinct facts applied.
func (s *Store) Events() int64 { return s.events.Load() }

// Facts copies every raw fact, for snapshots.
func (s *Store) Facts() []domain.Interaction {
	var out []domain.Interaction
	for _, us := range s.users {
		us.mu.RLock()
		for _, u := range us.users {
			out = append(out, u.facts...)
		}
		us.mu.RUnlock()
	}
	return out
}

// Recompute rebuilds user aggregates from raw facts one shard at a time, so
// that genres unknown when a fact arrived are picked up, and trims daily
// borrow buckets past the retention window.
func (s *Store) Recompute(ctx context.Context, now time.Time) (int, error) {
	rebuilt := 0
	for _, us := range s.users {
		if err := ctx.Err(); err != nil {
			return rebuilt, err
		}
		us.mu.Lock()
		for id, u := range us.users {
			if u.unresolved == 0 {
				continue
			}
			fresh := newUserState()
			for _, f := range u.facts {
				g, ok := s.genreOf(f.BookID)
				fresh.apply(f, g, ok, s.cfg.RecentLimit)
			}
			us.users[id] = fresh
			rebuilt++
		}
		us.mu.Unlock()
	}

	cutoff := dayOf(now) - int64(s.cfg.RetentionDays)
	for _, bs := range s.books {
		bs.mu.Lock()
		for _, b := range bs.books {
			for day := range b.daily {
				if day < cutoff {
					delete(b.daily, day)
				}
			}
		}
		bs.mu.Unlock()
	}
	if rebuilt > 0 {
		s.logger.Debug().Int("users", rebuilt).Msg("recomputed user aggregates")
	}
	return rebuilt, nil
}
