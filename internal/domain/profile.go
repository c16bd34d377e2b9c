package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AgeGroup string

const (
	AgeGroupChild  AgeGroup = "child"
	AgeGroupTeen   AgeGroup = "teen"
	AgeGroupAdult  AgeGroup = "adult"
	AgeGroupSenior AgeGroup = "senior"
)

// Preference keys recognised in a user's stored preferences map.
//
//	genre.<genre>  non-negative relative weight for one genre
//	age_group      one of child, teen, adult, senior
const (
	PreferenceGenrePrefix = "genre."
	PreferenceAgeGroup    = "age_group"
)

// Preferences is the validated form of a user's open preference map.
type Preferences struct {
	Genres   map[Genre]float64 `json:"genres,omitempty"`
	AgeGroup AgeGroup          `json:"age_group,omitempty"`
}

// ParsePreferences validates a loosely typed preference map. Weights may be
// numbers or numeric strings; they must be non-negative and need not sum to 1.
func ParsePreferences(raw map[string]any) (Preferences, error) {
	p := Preferences{Genres: make(map[Genre]float64)}
	for key, val := range raw {
		switch {
		case key == PreferenceAgeGroup:
			s, _ := val.(string)
			switch ag := AgeGroup(strings.ToLower(s)); ag {
			case AgeGroupChild, AgeGroupTeen, AgeGroupAdult, AgeGroupSenior:
				p.AgeGroup = ag
			default:
				return Preferences{}, fmt.Errorf("%w: age_group %v", ErrInvalidParameter, val)
			}
		case strings.HasPrefix(key, PreferenceGenrePrefix):
			g, err := ParseGenre(strings.TrimPrefix(key, PreferenceGenrePrefix))
			if err != nil {
				return Preferences{}, fmt.Errorf("%w: preference %q", ErrInvalidParameter, key)
			}
			w, err := toWeight(val)
			if err != nil {
				return Preferences{}, fmt.Errorf("%w: preference %q: %v", ErrInvalidParameter, key, err)
			}
			p.Genres[g] = w
		default:
			return Preferences{}, fmt.Errorf("%w: unrecognised preference key %q", ErrInvalidParameter, key)
		}
	}
	return p, nil
}

func toWeight(v any) (float64, error) {
	var w float64
	switch t := v.(type) {
	case float64:
		w = t
	case float32:
		w = float64(t)
	case int:
		w = float64(t)
	case int64:
		w = float64(t)
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, err
		}
		w = f
	default:
		return 0, fmt.Errorf("unsupported weight type %T", v)
	}
	if w < 0 {
		return 0, fmt.Errorf("negative weight %v", w)
	}
	return w, nil
}

type RecentInteraction struct {
	BookID     uuid.UUID `json:"book_id"`
	Type       EventType `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
}

// UserProfile is the read projection the engines score against.
type UserProfile struct {
	UserID         uuid.UUID           `json:"user_id"`
	AgeGroup       AgeGroup            `json:"age_group,omitempty"`
	GenreAffinity  map[Genre]float64   `json:"genre_affinity"`
	Engaged        map[uuid.UUID]bool  `json:"-"`
	Rated          map[uuid.UUID]bool  `json:"-"`
	ActiveBorrows  map[uuid.UUID]bool  `json:"-"`
	Recent         []RecentInteraction `json:"recent"`
	ReadingMinutes int                 `json:"reading_minutes"`
	LastActiveAt   time.Time           `json:"last_active_at,omitempty"`
}

// NewProfile returns an empty, cold-start profile for id.
func NewProfile(id uuid.UUID) *UserProfile {
	return &UserProfile{
		UserID:        id,
		GenreAffinity: make(map[Genre]float64),
		Engaged:       make(map[uuid.UUID]bool),
		Rated:         make(map[uuid.UUID]bool),
		ActiveBorrows: make(map[uuid.UUID]bool),
	}
}

// ColdStart reports whether the profile carries no usable signal.
func (p *UserProfile) ColdStart() bool {
	if p == nil {
		return true
	}
	for _, w := range p.GenreAffinity {
		if w > 0 {
			return false
		}
	}
	return len(p.Engaged) == 0
}

// Excluded reports whether a book must not be recommended to this user.
func (p *UserProfile) Excluded(bookID uuid.UUID) bool {
	return p.ActiveBorrows[bookID] || p.Engaged[bookID] || p.Rated[bookID]
}
