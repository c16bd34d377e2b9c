// Package ranking holds the score, rank, tie-break and limit logic shared by
// the search, recommendation and demand engines.
package ranking

import (
	"context"
	"math"
	"slices"
	"strings"

	"github.com/actuallystonmai/library-intelligence/internal/domain"
)

// checkEvery is how many candidates are scored between context checks.
const checkEvery = 64

// Candidate is anything that can be ranked as a book.
type Candidate interface {
	Book() *domain.Book
}

// Scorer scores one candidate against whatever context the engine captured
// when building it. A score <= 0 drops the candidate.
type Scorer[C Candidate] interface {
	Score(c C) (float64, string)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc[C Candidate] func(c C) (float64, string)

func (f ScorerFunc[C]) Score(c C) (float64, string) {
	return f(c)
}

type Result struct {
	Book   *domain.Book
	Score  float64
	Reason string
}

// Rank scores every candidate, clamps scores to [0,1], rounds them to the
// reported precision, drops those that round to zero and returns at most
// limit results ordered by score, then rating, then id. Ordering uses the
// rounded score so ties are broken on the values callers see. When ctx ends
// mid-scan the candidates scored so far are ranked and partial is true.
func Rank[C Candidate](ctx context.Context, candidates []C, scorer Scorer[C], limit int) (results []Result, partial bool) {
	if limit <= 0 {
		return nil, false
	}
	results = make([]Result, 0, min(len(candidates), limit*2))
	for i, c := range candidates {
		if i%checkEvery == 0 && ctx.Err() != nil {
			partial = true
			break
		}
		score, reason := scorer.Score(c)
		if math.IsNaN(score) {
			continue
		}
		score = Round(min(score, 1))
		if score <= 0 {
			continue
		}
		results = append(results, Result{Book: c.Book(), Score: score, Reason: reason})
	}
	Sort(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, partial
}

// Sort orders results by score desc, rating desc, id asc.
func Sort(results []Result) {
	slices.SortFunc(results, Compare)
}

func Compare(a, b Result) int {
	if a.Score != b.Score {
		if a.Score > b.Score {
			return -1
		}
		return 1
	}
	if a.Book.Rating != b.Book.Rating {
		if a.Book.Rating > b.Book.Rating {
			return -1
		}
		return 1
	}
	return strings.Compare(a.Book.ID.String(), b.Book.ID.String())
}

// Round keeps three decimals, matching what the API reports.
func Round(score float64) float64 {
	return math.Round(score*1000) / 1000
}
