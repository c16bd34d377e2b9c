package catalog

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/actuallystonmai/library-intelligence/internal/domain"
)

const (
	methodExact       = "exact"
	methodSubstring   = "substring"
	methodFuzzyHigh   = "fuzzy_high"
	methodFuzzyMedium = "fuzzy_medium"
	methodNoMatch     = "no_match"
)

// Lookup fields.
const (
	FieldISBN   = "isbn"
	FieldTitle  = "title"
	FieldAuthor = "author"
)

// fuzzyThreshold is the minimum similarity a fuzzy lookup reports.
const fuzzyThreshold = 0.7

type LookupMatch struct {
	Book   domain.Book `json:"book"`
	Score  float64     `json:"score"`
	Method string      `json:"method"`
}

// Lookup finds books by one field. ISBN matches exactly after stripping
// separators; title and author match fuzzily. Results are ordered by score,
// then rating, then id.
func (ix *Index) Lookup(field, value string, limit int) ([]LookupMatch, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", domain.ErrInvalidParameter)
	}
	var get func(b *domain.Book) string
	switch strings.ToLower(field) {
	case FieldISBN:
		want := normalizeISBN(value)
		if want == "" {
			return nil, nil
		}
		var out []LookupMatch
		for _, e := range ix.Entries(domain.Filter{}) {
			if normalizeISBN(e.book.ISBN) == want {
				out = append(out, LookupMatch{Book: e.book, Score: 1, Method: methodExact})
			}
		}
		sortMatches(out)
		return truncate(out, limit), nil
	case FieldTitle:
		get = func(b *domain.Book) string { return b.Title }
	case FieldAuthor:
		get = func(b *domain.Book) string { return b.Author }
	default:
		return nil, fmt.Errorf("%w: unknown lookup field %q", domain.ErrInvalidFilter, field)
	}

	var out []LookupMatch
	for _, e := range ix.Entries(domain.Filter{}) {
		score, method := similarity(get(&e.book), value)
		if score < fuzzyThreshold {
			continue
		}
		out = append(out, LookupMatch{Book: e.book, Score: score, Method: method})
	}
	sortMatches(out)
	return truncate(out, limit), nil
}

func sortMatches(m []LookupMatch) {
	slices.SortFunc(m, func(a, b LookupMatch) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Book.Rating, a.Book.Rating); c != 0 {
			return c
		}
		return strings.Compare(a.Book.ID.String(), b.Book.ID.String())
	})
}

func truncate(m []LookupMatch, limit int) []LookupMatch {
	if len(m) > limit {
		return m[:limit]
	}
	return m
}
