package recommend

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/actuallystonmai/library-intelligence/internal/catalog"
	"github.com/actuallystonmai/library-intelligence/internal/domain"
)

// personal scores books for a reader with history.
type personal struct {
	profile     *domain.UserProfile
	withCollab  bool
	collab      map[uuid.UUID]float64
	maxAffinity float64
	query       *catalog.Query
	cw, kw      float64
	threshold   float64
	matches     map[uuid.UUID]domain.MatchType
}

func (e *Engine) personalScorer(profile *domain.UserProfile, withCollab bool) (scorer, error) {
	p := &personal{
		profile:    profile,
		withCollab: withCollab,
		cw:         1,
		threshold:  e.cfg.HybridThreshold,
		matches:    make(map[uuid.UUID]domain.MatchType),
	}
	for _, w := range profile.GenreAffinity {
		p.maxAffinity = max(p.maxAffinity, w)
	}
	if books := e.profileBooks(profile); len(books) > 0 {
		p.query = e.index.ProfileQuery(books)
	}
	if withCollab {
		collab, err := e.collaborative(profile)
		if err != nil {
			return nil, err
		}
		p.collab = collab
		p.cw, p.kw = e.cfg.ContentWeight, e.cfg.CollaborativeWeight
	}
	return p, nil
}

func (p *personal) Score(en *catalog.Entry) (float64, string) {
	b := en.Book()
	content := p.content(en)
	if !p.withCollab {
		if content <= 0 {
			return 0, ""
		}
		p.matches[b.ID] = domain.MatchContent
		return content, p.contentReason(b)
	}

	wc, wk := p.cw*content, p.kw*p.collab[b.ID]
	score := wc + wk
	if score <= 0 {
		return 0, ""
	}
	switch {
	case wc > p.threshold && wk > p.threshold:
		p.matches[b.ID] = domain.MatchHybrid
		return score, p.contentReason(b) + ", and readers with similar history borrowed it"
	case wk > wc:
		p.matches[b.ID] = domain.MatchCollaborative
		return score, "Readers who borrowed your books also borrowed this"
	default:
		p.matches[b.ID] = domain.MatchContent
		return score, p.contentReason(b)
	}
}

func (p *personal) MatchType(id uuid.UUID) domain.MatchType { return p.matches[id] }

func (p *personal) affinity(g domain.Genre) float64 {
	if p.maxAffinity <= 0 {
		return 0
	}
	return p.profile.GenreAffinity[g] / p.maxAffinity
}

func (p *personal) content(en *catalog.Entry) float64 {
	aff := p.affinity(en.Book().Genre)
	if p.query == nil || p.query.Empty() {
		return aff
	}
	var sim float64
	if p.query.Overlaps(en) {
		sim = p.query.Lexical(en)
		if d, ok := p.query.Dense(en); ok {
			sim = (sim + d) / 2
		}
	}
	return affinityShare*aff + (1-affinityShare)*sim
}

func (p *personal) contentReason(b *domain.Book) string {
	if p.affinity(b.Genre) > 0 {
		return fmt.Sprintf("Matches your interest in %s", b.Genre)
	}
	return "Similar to books you have read"
}

// collaborative sums co-occurrence strength from each engaged book to every
// candidate, normalised by the strongest candidate.
func (e *Engine) collaborative(profile *domain.UserProfile) (map[uuid.UUID]float64, error) {
	scores := make(map[uuid.UUID]float64)
	for _, id := range e.profileBooks(profile) {
		for _, row := range e.signals.CoOccurrence(id, e.cfg.Neighbors) {
			if math.IsNaN(row.Strength) || math.IsInf(row.Strength, 0) || row.Strength < 0 {
				return nil, fmt.Errorf("co-occurrence %s -> %s has strength %v", id, row.BookID, row.Strength)
			}
			if profile.Excluded(row.BookID) {
				continue
			}
			scores[row.BookID] += row.Strength
		}
	}
	var top float64
	for _, v := range scores {
		top = max(top, v)
	}
	if top > 0 {
		for id, v := range scores {
			scores[id] = v / top
		}
	}
	return scores, nil
}

// profileBooks lists the reader's engaged books, most recent first, capped
// at ProfileBooks.
func (e *Engine) profileBooks(profile *domain.UserProfile) []uuid.UUID {
	out := make([]uuid.UUID, 0, min(len(profile.Engaged), e.cfg.ProfileBooks))
	seen := make(map[uuid.UUID]bool, len(profile.Engaged))
	for _, r := range profile.Recent {
		if len(out) == e.cfg.ProfileBooks {
			return out
		}
		if profile.Engaged[r.BookID] && !seen[r.BookID] {
			seen[r.BookID] = true
			out = append(out, r.BookID)
		}
	}
	rest := make([]uuid.UUID, 0, len(profile.Engaged))
	for id := range profile.Engaged {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	slices.SortFunc(rest, func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) })
	for _, id := range rest {
		if len(out) == e.cfg.ProfileBooks {
			break
		}
		out = append(out, id)
	}
	return out
}

// trending ranks by decayed popularity with a small rating prior.
type trending struct {
	pop    map[uuid.UUID]float64
	maxPop float64
}

func (e *Engine) trendingScorer(candidates []*catalog.Entry) scorer {
	now := e.now()
	t := &trending{pop: make(map[uuid.UUID]float64, len(candidates))}
	for _, en := range candidates {
		id := en.Book().ID
		v := e.signals.BookPopularity(id, now)
		t.pop[id] = v
		t.maxPop = max(t.maxPop, v)
	}
	return t
}

func (t *trending) Score(en *catalog.Entry) (float64, string) {
	b := en.Book()
	var pop float64
	if t.maxPop > 0 {
		pop = t.pop[b.ID] / t.maxPop
	}
	score := trendingFloor + trendingPopularity*pop + trendingRating*b.Rating/5
	if pop > 0 {
		return score, "Trending with readers right now"
	}
	return score, "Highly rated in the catalog"
}

func (t *trending) MatchType(uuid.UUID) domain.MatchType { return domain.MatchTrending }
