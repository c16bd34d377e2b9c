package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Genre string

const (
	GenreFiction    Genre = "fiction"
	GenreNonFiction Genre = "non_fiction"
	GenreRomance    Genre = "romance"
	GenreHorror     Genre = "horror"
	GenreSciFi      Genre = "scifi"
	GenreFantasy    Genre = "fantasy"
	GenreBiography  Genre = "biography"
	GenreSelfHelp   Genre = "self_help"
	GenreReference  Genre = "reference"
)

// Genres lists every catalog genre in a stable order.
var Genres = []Genre{
	GenreFiction, GenreNonFiction, GenreRomance, GenreHorror, GenreSciFi,
	GenreFantasy, GenreBiography, GenreSelfHelp, GenreReference,
}

var genreAliases = map[string]Genre{
	"non-fiction":     GenreNonFiction,
	"nonfiction":      GenreNonFiction,
	"sci-fi":          GenreSciFi,
	"science_fiction": GenreSciFi,
	"self-help":       GenreSelfHelp,
	"selfhelp":        GenreSelfHelp,
}

// genreTerms are folded into a book's indexed text so that queries like
// "science fiction" reach scifi books without naming the enum value.
var genreTerms = map[Genre]string{
	GenreFiction:    "fiction novel",
	GenreNonFiction: "non fiction nonfiction",
	GenreRomance:    "romance love",
	GenreHorror:     "horror scary",
	GenreSciFi:      "scifi science fiction",
	GenreFantasy:    "fantasy magic",
	GenreBiography:  "biography life memoir",
	GenreSelfHelp:   "self help selfhelp",
	GenreReference:  "reference guide",
}

// ParseGenre accepts the enum value case-insensitively plus a few common
// spellings. Unknown values wrap ErrInvalidFilter.
func ParseGenre(s string) (Genre, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, g := range Genres {
		if string(g) == key {
			return g, nil
		}
	}
	if g, ok := genreAliases[key]; ok {
		return g, nil
	}
	return "", fmt.Errorf("%w: unknown genre %q", ErrInvalidFilter, s)
}

// Valid reports whether g is one of the canonical enum values.
func (g Genre) Valid() bool {
	return slices.Contains(Genres, g)
}

// Terms returns the descriptive words indexed for the genre.
func (g Genre) Terms() string {
	return genreTerms[g]
}

type Book struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	ISBN            string    `json:"isbn,omitempty"`
	Genre           Genre     `json:"genre"`
	SubGenre        string    `json:"sub_genre,omitempty"`
	Description     string    `json:"description,omitempty"`
	PublicationYear int       `json:"publication_year,omitempty"`
	Language        string    `json:"language,omitempty"`
	Pages           int       `json:"pages,omitempty"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	Views           int64     `json:"views"`
	Rating          float64   `json:"rating"`
	TotalRatings    int       `json:"total_ratings"`
	CoverImageURL   string    `json:"cover_image_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Validate checks the catalog invariants a book must satisfy before indexing.
func (b *Book) Validate() error {
	if b.ID == uuid.Nil {
		return fmt.Errorf("%w: book id is required", ErrInvalidParameter)
	}
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("%w: book %s has no title", ErrInvalidParameter, b.ID)
	}
	if b.Genre != "" && !b.Genre.Valid() {
		return fmt.Errorf("%w: book %s has unknown genre %q", ErrInvalidParameter, b.ID, b.Genre)
	}
	if b.TotalCopies < 0 || b.AvailableCopies < 0 || b.AvailableCopies > b.TotalCopies {
		return fmt.Errorf("%w: book %s copies %d/%d", ErrInvalidParameter, b.ID, b.AvailableCopies, b.TotalCopies)
	}
	if b.Rating < 0 || b.Rating > 5 {
		return fmt.Errorf("%w: book %s rating %.2f out of range", ErrInvalidParameter, b.ID, b.Rating)
	}
	return nil
}

// BookResponse is the public projection of a book returned by the API.
type BookResponse struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	ISBN            string    `json:"isbn,omitempty"`
	Genre           Genre     `json:"genre,omitempty"`
	Description     string    `json:"description,omitempty"`
	Rating          float64   `json:"rating"`
	Views           int64     `json:"views"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	CoverImageURL   string    `json:"cover_image_url,omitempty"`
}

func (b *Book) Response() BookResponse {
	return BookResponse{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		Genre:           b.Genre,
		Description:     b.Description,
		Rating:          b.Rating,
		Views:           b.Views,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		CoverImageURL:   b.CoverImageURL,
	}
}
