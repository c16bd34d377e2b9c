package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Filter restricts candidate books. The zero value matches everything.
type Filter struct {
	Genre         Genre
	AvailableOnly bool
}

// Recognised filter keys for ParseFilter.
const (
	FilterKeyGenre     = "genre"
	FilterKeyAvailable = "available"
)

// ParseFilter builds a Filter from loosely typed key/value pairs such as
// query parameters. Unknown keys and unknown genres wrap ErrInvalidFilter.
func ParseFilter(raw map[string]string) (Filter, error) {
	var f Filter
	for k, v := range raw {
		switch strings.ToLower(k) {
		case FilterKeyGenre:
			if v == "" {
				continue
			}
			g, err := ParseGenre(v)
			if err != nil {
				return Filter{}, err
			}
			f.Genre = g
		case FilterKeyAvailable:
			if v == "" {
				continue
			}
			b, err := strconv.ParseBool(v)
			if err != nil {
				return Filter{}, fmt.Errorf("%w: available=%q is not a boolean", ErrInvalidFilter, v)
			}
			f.AvailableOnly = b
		default:
			return Filter{}, fmt.Errorf("%w: unknown filter key %q", ErrInvalidFilter, k)
		}
	}
	return f, nil
}

// Validate rejects a filter carrying a genre outside the enum.
func (f Filter) Validate() error {
	if f.Genre == "" || f.Genre.Valid() {
		return nil
	}
	return fmt.Errorf("%w: unknown genre %q", ErrInvalidFilter, f.Genre)
}

func (f Filter) Match(b *Book) bool {
	if f.Genre != "" && b.Genre != f.Genre {
		return false
	}
	if f.AvailableOnly && b.AvailableCopies <= 0 {
		return false
	}
	return true
}
