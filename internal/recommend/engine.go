// Package recommend ranks books for a reader by blending genre affinity and
// text similarity with co-occurrence among readers, falling back to trending
// books when the reader has no usable history.
package recommend

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/actuallystonmai/library-intelligence/internal/catalog"
	"github.com/actuallystonmai/library-intelligence/internal/domain"
	"github.com/actuallystonmai/library-intelligence/internal/interactions"
	"github.com/actuallystonmai/library-intelligence/internal/ranking"
)

const (
	MinLimit = 1
	MaxLimit = 50
)

// Signals is the slice of the interaction store the engine reads.
type Signals interface {
	UserProfile(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error)
	BookPopularity(bookID uuid.UUID, now time.Time) float64
	CoOccurrence(bookID uuid.UUID, limit int) []interactions.CoOccurrence
}

type Config struct {
	ContentWeight       float64
	CollaborativeWeight float64
	// HybridThreshold is the weighted contribution both signals must exceed
	// for a result to be labelled hybrid.
	HybridThreshold    float64
	IncludeUnavailable bool
	// Neighbors bounds the co-occurrence rows read per engaged book.
	Neighbors int
	// ProfileBooks bounds how many engaged books feed the similarity probe.
	ProfileBooks int
}

func DefaultConfig() Config {
	return Config{
		ContentWeight:       0.5,
		CollaborativeWeight: 0.5,
		HybridThreshold:     0.05,
		Neighbors:           50,
		ProfileBooks:        50,
	}
}

// Content score = affinityShare*genre affinity + (1-affinityShare)*text similarity.
const affinityShare = 0.7

// Trending score components. The floor keeps every available book rankable
// so a non-empty catalog never yields an empty cold-start list.
const (
	trendingFloor      = 0.01
	trendingPopularity = 0.79
	trendingRating     = 0.2
)

type Engine struct {
	index   *catalog.Index
	signals Signals
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time
}

type Option func(*Engine)

// WithClock overrides the time source used for popularity decay.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(index *catalog.Index, signals Signals, cfg Config, logger zerolog.Logger, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.ContentWeight < 0 || cfg.CollaborativeWeight < 0 || cfg.ContentWeight+cfg.CollaborativeWeight == 0 {
		cfg.ContentWeight, cfg.CollaborativeWeight = def.ContentWeight, def.CollaborativeWeight
	}
	total := cfg.ContentWeight + cfg.CollaborativeWeight
	cfg.ContentWeight /= total
	cfg.CollaborativeWeight /= total
	if cfg.HybridThreshold <= 0 {
		cfg.HybridThreshold = def.HybridThreshold
	}
	if cfg.Neighbors <= 0 {
		cfg.Neighbors = def.Neighbors
	}
	if cfg.ProfileBooks <= 0 {
		cfg.ProfileBooks = def.ProfileBooks
	}
	e := &Engine{
		index:   index,
		signals: signals,
		cfg:     cfg,
		logger:  logger.With().Str("component", "recommend").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Ready() bool { return e.index.Ready() }

// Recommend returns up to limit books for userID. Unknown users are a cold
// start, not an error. genre may be empty.
func (e *Engine) Recommend(ctx context.Context, userID uuid.UUID, limit int, genre string) (domain.RecommendationSet, error) {
	if limit < MinLimit || limit > MaxLimit {
		return domain.RecommendationSet{}, fmt.Errorf("%w: limit must be between %d and %d", domain.ErrInvalidParameter, MinLimit, MaxLimit)
	}
	var filter domain.Filter
	if genre != "" {
		g, err := domain.ParseGenre(genre)
		if err != nil {
			return domain.RecommendationSet{}, err
		}
		filter.Genre = g
	}
	if !e.index.Ready() {
		return domain.RecommendationSet{}, domain.ErrNotReady
	}

	profile, err := e.signals.UserProfile(ctx, userID)
	if err != nil || profile == nil {
		if err != nil {
			e.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("profile unavailable, using trending")
		}
		profile = domain.NewProfile(userID)
	}

	candidates := e.candidates(profile, filter)
	set := domain.RecommendationSet{ColdStart: profile.ColdStart()}

	var chain []strategy
	if !set.ColdStart {
		chain = append(chain,
			strategy{signal: "collaborative", build: func() (scorer, error) { return e.personalScorer(profile, true) }},
			strategy{signal: "content", build: func() (scorer, error) { return e.personalScorer(profile, false) }},
		)
	}
	chain = append(chain, strategy{signal: "trending", build: func() (scorer, error) { return e.trendingScorer(candidates), nil }})

	for _, s := range chain {
		results, partial, err := e.attempt(ctx, s, candidates, limit)
		if err != nil {
			e.logger.Error().Err(err).Str("user_id", userID.String()).Str("signal", s.signal).Msg("scoring failed, falling back")
			continue
		}
		if len(results) == 0 && !partial {
			continue
		}
		set.Items = results
		set.Partial = partial
		return set, nil
	}
	set.Items = []domain.BookRecommendation{}
	return set, nil
}

// scorer is a ranking scorer that also remembers which signal drove each
// score it produced.
type scorer interface {
	ranking.Scorer[*catalog.Entry]
	MatchType(bookID uuid.UUID) domain.MatchType
}

type strategy struct {
	signal string
	build  func() (scorer, error)
}

// attempt runs one strategy, turning a panic inside the signal into a
// ScoringError so the caller can fall back.
func (e *Engine) attempt(ctx context.Context, s strategy, candidates []*catalog.Entry, limit int) (out []domain.BookRecommendation, partial bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, partial = nil, false
			err = &domain.ScoringError{Signal: s.signal, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	sc, err := s.build()
	if err != nil {
		return nil, false, &domain.ScoringError{Signal: s.signal, Err: err}
	}
	ranked, partial := ranking.Rank(ctx, candidates, sc, limit)
	out = make([]domain.BookRecommendation, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, domain.BookRecommendation{
			Book:      r.Book.Response(),
			Score:     r.Score,
			Reason:    r.Reason,
			MatchType: sc.MatchType(r.Book.ID),
		})
	}
	return out, partial, nil
}

// candidates applies the genre filter and every per-user exclusion.
func (e *Engine) candidates(profile *domain.UserProfile, filter domain.Filter) []*catalog.Entry {
	entries := e.index.Entries(filter)
	return slices.DeleteFunc(entries, func(en *catalog.Entry) bool {
		b := en.Book()
		if profile.Excluded(b.ID) {
			return true
		}
		return !e.cfg.IncludeUnavailable && b.AvailableCopies == 0
	})
}
