package interactions

import (
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/actuallystonmai/library-intelligence/internal/domain"
)

const secondsPerDay = 24 * 60 * 60

// Signal weights per event type.
var (
	popularityWeight = map[domain.EventType]float64{
		domain.EventBorrow:         1.0,
		domain.EventReadingSession: 0.3,
		domain.EventReview:         0.5,
	}
	affinityWeight = map[domain.EventType]float64{
		domain.EventBorrow:         1.0,
		domain.EventReadingSession: 0.5,
	}
)

func engages(t domain.EventType) bool {
	return t == domain.EventBorrow || t == domain.EventReadingSession || t == domain.EventReview
}

func dayOf(t time.Time) int64 {
	return int64(math.Floor(float64(t.Unix()) / secondsPerDay))
}

type userState struct {
	facts          []domain.Interaction
	affinity       map[domain.Genre]float64
	engaged        map[uuid.UUID]bool
	rated          map[uuid.UUID]bool
	active         map[uuid.UUID]int
	recent         []domain.RecentInteraction
	readingMinutes int
	lastActive     time.Time
	unresolved     int
}

func newUserState() *userState {
	return &userState{
		affinity: make(map[domain.Genre]float64),
		engaged:  make(map[uuid.UUID]bool),
		rated:    make(map[uuid.UUID]bool),
		active:   make(map[uuid.UUID]int),
	}
}

func (u *userState) apply(ev domain.Interaction, genre domain.Genre, known bool, recentLimit int) {
	u.facts = append(u.facts, ev)
	if ev.OccurredAt.After(u.lastActive) {
		u.lastActive = ev.OccurredAt
	}

	switch ev.Type {
	case domain.EventBorrow:
		u.active[ev.BookID]++
	case domain.EventReturn:
		u.active[ev.BookID]--
	case domain.EventReview:
		u.rated[ev.BookID] = true
	case domain.EventReadingSession:
		u.readingMinutes += ev.DurationMinutes
	}
	if engages(ev.Type) {
		u.engaged[ev.BookID] = true
		w := affinityWeight[ev.Type]
		if ev.Type == domain.EventReview {
			w = float64(ev.Rating) / 5
		}
		if known && genre != "" {
			u.affinity[genre] += w
		} else if !known {
			u.unresolved++
		}
	}

	u.recent = append(u.recent, domain.RecentInteraction{BookID: ev.BookID, Type: ev.Type, OccurredAt: ev.OccurredAt})
	slices.SortStableFunc(u.recent, func(a, b domain.RecentInteraction) int {
		return b.OccurredAt.Compare(a.OccurredAt)
	})
	if len(u.recent) > recentLimit {
		u.recent = u.recent[:recentLimit]
	}
}

func (u *userState) profile(id uuid.UUID) *domain.UserProfile {
	p := domain.NewProfile(id)
	for g, w := range u.affinity {
		p.GenreAffinity[g] = w
	}
	for b := range u.engaged {
		p.Engaged[b] = true
	}
	for b := range u.rated {
		p.Rated[b] = true
	}
	for b, n := range u.active {
		if n > 0 {
			p.ActiveBorrows[b] = true
		}
	}
	p.Recent = slices.Clone(u.recent)
	p.ReadingMinutes = u.readingMinutes
	p.LastActiveAt = u.lastActive
	return p
}

type bookState struct {
	popularity  float64
	popRef      time.Time
	ratingSum   int
	ratingCount int
	daily       map[int64]int
	firstBorrow int64
	readers     map[uuid.UUID]struct{}
}

func newBookState() *bookState {
	return &bookState{
		daily:       make(map[int64]int),
		firstBorrow: math.MaxInt64,
		readers:     make(map[uuid.UUID]struct{}),
	}
}

func (b *bookState) apply(ev domain.Interaction, halfLife time.Duration) {
	if w := popularityWeight[ev.Type]; w > 0 {
		b.addPopularity(w, ev.OccurredAt, halfLife)
	}
	switch ev.Type {
	case domain.EventBorrow:
		d := dayOf(ev.OccurredAt)
		b.daily[d]++
		b.firstBorrow = min(b.firstBorrow, d)
	case domain.EventReview:
		b.ratingSum += ev.Rating
		b.ratingCount++
	}
	if engages(ev.Type) {
		b.readers[ev.UserID] = struct{}{}
	}
}

// addPopularity folds an event into the decayed sum. The sum is kept relative
// to the latest event time, so the result does not depend on arrival order.
func (b *bookState) addPopularity(w float64, at time.Time, halfLife time.Duration) {
	switch {
	case b.popRef.IsZero():
		b.popularity, b.popRef = w, at
	case at.After(b.popRef):
		b.popularity = b.popularity*decay(at.Sub(b.popRef), halfLife) + w
		b.popRef = at
	default:
		b.popularity += w * decay(b.popRef.Sub(at), halfLife)
	}
}

func (b *bookState) popularityAt(now time.Time, halfLife time.Duration) float64 {
	if b.popRef.IsZero() {
		return 0
	}
	if !now.After(b.popRef) {
		return b.popularity
	}
	return b.popularity * decay(now.Sub(b.popRef), halfLife)
}

func decay(d, halfLife time.Duration) float64 {
	return math.Exp2(-float64(d) / float64(halfLife))
}
