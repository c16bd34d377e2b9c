package interactions

import (
	"time"

	"github.com/google/uuid"

	"github.com/actuallystonmai/library-intelligence/internal/domain"
)

// finishedProgress is the reading progress at which a book counts as read.
const finishedProgress = 100.0

// ReadingStats summarises a reader's history. Unknown users get zero stats.
func (s *Store) ReadingStats(userID uuid.UUID, now time.Time) domain.ReadingStats {
	stats := domain.ReadingStats{MonthlyReading: make(map[string]int)}

	us := s.users[slot(userID)]
	us.mu.RLock()
	u, ok := us.users[userID]
	if !ok {
		us.mu.RUnlock()
		return stats
	}
	facts := make([]domain.Interaction, len(u.facts))
	copy(facts, u.facts)
	affinity := make(map[domain.Genre]float64, len(u.affinity))
	for g, w := range u.affinity {
		affinity[g] = w
	}
	us.mu.RUnlock()

	finished := make(map[uuid.UUID]bool)
	readingDays := make(map[int64]bool)
	monthly := make(map[string]map[uuid.UUID]bool)
	for _, f := range facts {
		switch f.Type {
		case domain.EventReturn:
			finished[f.BookID] = true
		case domain.EventReadingSession:
			stats.TotalPagesRead += f.PagesRead
			stats.TotalReadingTime += f.DurationMinutes
			readingDays[dayOf(f.OccurredAt)] = true
			if f.ProgressPercentage >= finishedProgress {
				finished[f.BookID] = true
			}
			month := f.OccurredAt.UTC().Format("2006-01")
			if monthly[month] == nil {
				monthly[month] = make(map[uuid.UUID]bool)
			}
			monthly[month][f.BookID] = true
		}
	}
	stats.TotalBooksRead = len(finished)
	for m, books := range monthly {
		stats.MonthlyReading[m] = len(books)
	}
	stats.CurrentStreak, stats.LongestStreak = streaks(readingDays, dayOf(now))
	stats.FavoriteGenre = string(favorite(affinity))
	return stats
}

// streaks returns the run of consecutive reading days ending today or
// yesterday, and the longest run overall.
func streaks(days map[int64]bool, today int64) (current, longest int) {
	for d := range days {
		if days[d-1] {
			continue
		}
		run := 1
		for days[d+int64(run)] {
			run++
		}
		longest = max(longest, run)
	}
	start := today
	if !days[start] {
		start--
	}
	for days[start-int64(current)] {
		current++
	}
	return current, longest
}

func favorite(affinity map[domain.Genre]float64) domain.Genre {
	var best domain.Genre
	bestW := 0.0
	for _, g := range domain.Genres {
		if w := affinity[g]; w > bestW {
			best, bestW = g, w
		}
	}
	return best
}
