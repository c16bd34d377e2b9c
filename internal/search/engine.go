// Package search ranks catalog books against free-text queries.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/actuallystonmai/library-intelligence/internal/catalog"
	"github.com/actuallystonmai/library-intelligence/internal/domain"
	"github.com/actuallystonmai/library-intelligence/internal/ranking"
)

const (
	MinLimit = 1
	MaxLimit = 100
)

// Config holds the blend weights. They are normalised to sum to 1.
type Config struct {
	LexicalWeight  float64
	SemanticWeight float64
}

func DefaultConfig() Config {
	return Config{LexicalWeight: 0.4, SemanticWeight: 0.6}
}

type Engine struct {
	index    *catalog.Index
	lexical  float64
	semantic float64
	logger   zerolog.Logger
}

func New(index *catalog.Index, cfg Config, logger zerolog.Logger) *Engine {
	lex, sem := cfg.LexicalWeight, cfg.SemanticWeight
	if lex < 0 || sem < 0 || lex+sem == 0 {
		def := DefaultConfig()
		lex, sem = def.LexicalWeight, def.SemanticWeight
	}
	total := lex + sem
	return &Engine{
		index:    index,
		lexical:  lex / total,
		semantic: sem / total,
		logger:   logger.With().Str("component", "search").Logger(),
	}
}

// Ready reports whether the underlying catalog has been loaded.
func (e *Engine) Ready() bool { return e.index.Ready() }

// Search returns at most limit books matching query, best first. partial is
// true when ctx ended before every candidate was scored.
func (e *Engine) Search(ctx context.Context, query string, limit int, filter domain.Filter) ([]domain.SearchResult, bool, error) {
	if limit < MinLimit || limit > MaxLimit {
		return nil, false, fmt.Errorf("%w: limit must be between %d and %d", domain.ErrInvalidParameter, MinLimit, MaxLimit)
	}
	if strings.TrimSpace(query) == "" {
		return nil, false, fmt.Errorf("%w: query is empty", domain.ErrInvalidQuery)
	}
	if err := filter.Validate(); err != nil {
		return nil, false, err
	}
	if !e.index.Ready() {
		return nil, false, domain.ErrNotReady
	}

	q := e.index.NewQuery(query)
	if q.Empty() {
		// Only stopwords or punctuation: nothing can overlap.
		return []domain.SearchResult{}, false, nil
	}
	ranked, partial := ranking.Rank(ctx, e.index.Entries(filter), blend{q: q, lexical: e.lexical, semantic: e.semantic}, limit)
	if partial {
		e.logger.Debug().Str("query", query).Int("scored", len(ranked)).Msg("search deadline reached, returning partial ranking")
	}

	out := make([]domain.SearchResult, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, domain.SearchResult{Book: r.Book.Response(), SimilarityScore: r.Score})
	}
	return out, partial, nil
}

type blend struct {
	q                 *catalog.Query
	lexical, semantic float64
}

func (b blend) Score(e *catalog.Entry) (float64, string) {
	if !b.q.Overlaps(e) {
		return 0, ""
	}
	lex := b.q.Lexical(e)
	dense, ok := b.q.Dense(e)
	if !ok {
		return lex, "text match"
	}
	return b.lexical*lex + b.semantic*dense, "text and semantic match"
}
