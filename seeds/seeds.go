// Package seeds fills an empty database with a deterministic demo library.
package seeds

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/actuallystonmai/library-intelligence/internal/domain"
)

const (
	userCount     = 40
	bookCount     = 60
	borrowCount   = 400
	sessionCount  = 300
	reviewCount   = 150
	historyDays   = 120
	maxCopies     = 5
)

type seeder struct {
	pool   *pgxpool.Pool
	rng    *rand.Rand
	now    time.Time
	logger zerolog.Logger

	users []uuid.UUID
	books []seedBook
}

type seedBook struct {
	id     uuid.UUID
	copies int
	out    int
}

// Setup truncates the library tables and inserts users, books and a
// power-law distributed circulation history. The same seed always produces
// the same ids.
func Setup(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	s := &seeder{
		pool:   pool,
		rng:    rand.New(rand.NewSource(42)),
		now:    time.Now().UTC().Truncate(time.Microsecond),
		logger: logger.With().Str("component", "seed").Logger(),
	}

	s.logger.Info().Msg("truncating existing data")
	if _, err := pool.Exec(ctx, `
		TRUNCATE reviews, reading_sessions, borrowings, books, users CASCADE
	`); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"users", s.seedUsers},
		{"books", s.seedBooks},
		{"borrowings", s.seedBorrowings},
		{"reading sessions", s.seedSessions},
		{"reviews", s.seedReviews},
	}
	for _, step := range steps {
		s.logger.Info().Str("table", step.name).Msg("inserting")
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("seed %s: %w", step.name, err)
		}
	}
	s.logger.Info().Msg("seeding complete")
	return nil
}

func (s *seeder) newID() uuid.UUID {
	id, err := uuid.NewRandomFromReader(s.rng)
	if err != nil {
		return uuid.New()
	}
	return id
}

// insert runs one multi-row INSERT for rows of equal width.
func (s *seeder) insert(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*len(columns))
	for _, row := range rows {
		ph := make([]string, len(row))
		for i := range row {
			ph[i] = fmt.Sprintf("$%d", len(args)+i+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ", ")+")")
		args = append(args, row...)
	}
	query := "INSERT INTO " + table + " (" + strings.Join(columns, ", ") + ") VALUES " + strings.Join(placeholders, ", ")
	_, err := s.pool.Exec(ctx, query, args...)
	return err
}

func (s *seeder) seedUsers(ctx context.Context) error {
	ageGroups := []string{"child", "teen", "adult", "senior"}
	ageWeights := []float64{0.1, 0.2, 0.5, 0.2}

	rows := make([][]any, 0, userCount)
	for i := range userCount {
		id := s.newID()
		s.users = append(s.users, id)

		prefs := map[string]any{}
		// a third of readers registered with explicit genre interests
		if i%3 == 0 {
			g := domain.Genres[s.rng.Intn(len(domain.Genres))]
			prefs[domain.PreferenceGenrePrefix+string(g)] = math.Round((0.5+s.rng.Float64()/2)*100) / 100
		}
		rows = append(rows, []any{
			id,
			fmt.Sprintf("reader%02d@library.test", i+1),
			fmt.Sprintf("Reader %d", i+1),
			weightedChoice(s.rng, ageGroups, ageWeights),
			prefs,
			s.now.AddDate(0, 0, -s.rng.Intn(365)),
		})
	}
	return s.insert(ctx, "users", []string{"id", "email", "name", "age_group", "preferences", "created_at"}, rows)
}

var titles = map[domain.Genre][]string{
	domain.GenreFiction:    {"The Quiet Harbor", "Paper Lanterns", "A House of Small Winters", "The Long Afternoon"},
	domain.GenreNonFiction: {"The Hidden Life of Rivers", "Salt: A World History", "How Cities Breathe", "The Shape of Money"},
	domain.GenreRomance:    {"Letters to Juniper", "A Summer in Lisbon", "The Bookshop on Elm Street", "Second First Kiss"},
	domain.GenreHorror:     {"The Hollow House", "Whispers Below", "Night Tide", "The Last Lighthouse Keeper"},
	domain.GenreSciFi:      {"Orbit of Ash", "The Mars Archive", "Starlight Protocol", "Quantum Drift"},
	domain.GenreFantasy:    {"The Dragon's Ledger", "Crown of Thorns and Embers", "The Wandering Mage", "Realm of Mist"},
	domain.GenreBiography:  {"A Life in Letters", "The Inventor's Daughter", "Walking with Giants", "The Unfinished Map"},
	domain.GenreSelfHelp:   {"Small Habits, Big Change", "The Calm Mind", "Deep Work Days", "Saying No Kindly"},
	domain.GenreReference:  {"The Gardener's Almanac", "A Field Guide to Birds", "The Cook's Companion", "World Atlas of Wine"},
}

var authors = []string{
	"Amara Okafor", "Lucas Moreau", "Hana Sato", "Diego Alvarez", "Freya Lindqvist",
	"Kofi Mensah", "Priya Raman", "Tomasz Nowak", "Elena Rossi", "Samuel Park",
}

var descriptions = map[domain.Genre]string{
	domain.GenreFiction:    "a quiet literary novel about family, memory and the places we return to",
	domain.GenreNonFiction: "an engaging history that explains how ordinary things shaped the modern world",
	domain.GenreRomance:    "a warm love story of missed chances, letters and a second summer together",
	domain.GenreHorror:     "a chilling tale of an isolated house, strange noises and a haunted past",
	domain.GenreSciFi:      "a space adventure across distant planets where a crew confronts an alien signal",
	domain.GenreFantasy:    "an epic quest with dragons, magic and a kingdom on the edge of war",
	domain.GenreBiography:  "the remarkable life story of an inventor who changed how we travel",
	domain.GenreSelfHelp:   "practical advice for building habits, focus and a calmer daily routine",
	domain.GenreReference:  "a richly illustrated guide for curious readers and practitioners",
}

func (s *seeder) seedBooks(ctx context.Context) error {
	rows := make([][]any, 0, bookCount)
	for i := range bookCount {
		genre := domain.Genres[i%len(domain.Genres)]
		list := titles[genre]
		title := list[(i/len(domain.Genres))%len(list)]
		if i >= len(domain.Genres)*len(list) {
			title = fmt.Sprintf("%s, Vol. %d", title, i/(len(domain.Genres)*len(list))+1)
		}

		id := s.newID()
		copies := 1 + s.rng.Intn(maxCopies)
		s.books = append(s.books, seedBook{id: id, copies: copies})

		rating := math.Round((2.5+powerLawScore(s.rng)*2.5)*10) / 10
		rows = append(rows, []any{
			id, title, authors[s.rng.Intn(len(authors))], string(genre), descriptions[genre],
			copies, copies, rating,
		})
	}
	return s.insert(ctx, "books",
		[]string{"id", "title", "author", "genre", "description", "total_copies", "available_copies", "rating"},
		rows)
}

// pick returns an index in [0, n) skewed towards low values, so a few users
// and books account for most activity.
func (s *seeder) pick(n int, exponent float64) int {
	return min(n-1, int(math.Pow(s.rng.Float64(), exponent)*float64(n)))
}

func (s *seeder) at() time.Time {
	return s.now.Add(-time.Duration(s.rng.Int63n(int64(historyDays * 24 * time.Hour))))
}

func (s *seeder) seedBorrowings(ctx context.Context) error {
	rows := make([][]any, 0, borrowCount)
	for range borrowCount {
		user := s.users[s.pick(len(s.users), 1.5)]
		bi := s.pick(len(s.books), 1.3)
		borrowed := s.at()

		var returned any
		if d := borrowed.Add(time.Duration(3+s.rng.Intn(25)) * 24 * time.Hour); d.Before(s.now) && s.rng.Float64() < 0.85 {
			returned = d
		} else if s.books[bi].out < s.books[bi].copies {
			s.books[bi].out++
		} else {
			returned = s.now
		}
		rows = append(rows, []any{s.newID(), user, s.books[bi].id, borrowed, returned})
	}
	if err := s.insert(ctx, "borrowings", []string{"id", "user_id", "book_id", "borrowed_date", "returned_date"}, rows); err != nil {
		return err
	}
	for _, b := range s.books {
		if b.out == 0 {
			continue
		}
		if _, err := s.pool.Exec(ctx, `UPDATE books SET available_copies = $2 WHERE id = $1`, b.id, b.copies-b.out); err != nil {
			return fmt.Errorf("update copies for %s: %w", b.id, err)
		}
	}
	return nil
}

func (s *seeder) seedSessions(ctx context.Context) error {
	rows := make([][]any, 0, sessionCount)
	for range sessionCount {
		pages := 5 + s.rng.Intn(60)
		rows = append(rows, []any{
			s.newID(),
			s.users[s.pick(len(s.users), 1.5)],
			s.books[s.pick(len(s.books), 1.3)].id,
			s.at(),
			10 + s.rng.Intn(110),
			pages,
			math.Min(100, float64(s.rng.Intn(11))*10),
		})
	}
	return s.insert(ctx, "reading_sessions",
		[]string{"id", "user_id", "book_id", "start_time", "duration_minutes", "pages_read", "progress_percentage"},
		rows)
}

func (s *seeder) seedReviews(ctx context.Context) error {
	comments := []string{"Loved it", "Could not put it down", "Slow start but worth it", "Not for me", ""}
	seen := make(map[[2]uuid.UUID]bool)
	rows := make([][]any, 0, reviewCount)
	for range reviewCount {
		user := s.users[s.pick(len(s.users), 1.5)]
		book := s.books[s.pick(len(s.books), 1.3)].id
		key := [2]uuid.UUID{user, book}
		if seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, []any{
			s.newID(), user, book, 1 + s.pick(5, 0.6), comments[s.rng.Intn(len(comments))], s.at(),
		})
	}
	return s.insert(ctx, "reviews", []string{"id", "user_id", "book_id", "rating", "comment", "created_at"}, rows)
}

func powerLawScore(rng *rand.Rand) float64 {
	u := rng.Float64()
	if u == 0 {
		u = 0.001
	}
	raw := math.Pow(u, 2.0)
	if raw < 0.01 {
		raw = 0.01
	}
	return math.Round(raw*100) / 100
}

func weightedChoice(rng *rand.Rand, choices []string, weights []float64) string {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	r := rng.Float64() * total
	cumulative := 0.0
	for i, w := range weights {
		cumulative += w
		if r <= cumulative {
			return choices[i]
		}
	}
	return choices[len(choices)-1]
}
