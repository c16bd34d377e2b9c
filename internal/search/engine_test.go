package search

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/actuallystonmai/library-intelligence/internal/catalog"
	"github.com/actuallystonmai/library-intelligence/internal/domain"
)

func book(title, author string, genre domain.Genre, desc string, rating float64) domain.Book {
	return domain.Book{
		ID:              uuid.New(),
		Title:           title,
		Author:          author,
		Genre:           genre,
		Description:     desc,
		TotalCopies:     2,
		AvailableCopies: 1,
		Rating:          rating,
	}
}

func scenario(t *testing.T) (*Engine, domain.Book, domain.Book, domain.Book) {
	t.Helper()
	ix := catalog.New()
	a := book("Starship Voyager", "Ada Quill", domain.GenreSciFi, "A space adventure across distant galaxies.", 4.5)
	b := book("Red Dust", "Milo Hart", domain.GenreSciFi, "Colonists fight to survive on a hostile planet in deep space.", 3.0)
	c := book("Summer in Paris", "Clara Dove", domain.GenreRomance, "A romantic adventure by the Seine.", 4.8)
	_, err := ix.UpsertMany([]domain.Book{a, b, c})
	require.NoError(t, err)
	_, err = ix.Reembed(context.Background())
	require.NoError(t, err)
	return New(ix, DefaultConfig(), zerolog.Nop()), a, b, c
}

func TestSearchGenreFilterScenario(t *testing.T) {
	eng, a, b, c := scenario(t)

	got, partial, err := eng.Search(context.Background(), "space adventure", 10, domain.Filter{Genre: domain.GenreSciFi})
	require.NoError(t, err)
	assert.False(t, partial)
	require.Len(t, got, 2)
	ids := []uuid.UUID{got[0].Book.ID, got[1].Book.ID}
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, ids)
	assert.Equal(t, a.ID, got[0].Book.ID, "title and description both match")

	all, _, err := eng.Search(context.Background(), "space adventure", 10, domain.Filter{})
	require.NoError(t, err)
	var sawC bool
	for _, r := range all {
		sawC = sawC || r.Book.ID == c.ID
	}
	assert.True(t, sawC, "romance book shares 'adventure' and is returned without a filter")
}

func TestSearchLimitBoundaries(t *testing.T) {
	eng, _, _, _ := scenario(t)
	ctx := context.Background()

	for _, limit := range []int{0, -1, 101} {
		_, _, err := eng.Search(ctx, "space", limit, domain.Filter{})
		assert.ErrorIs(t, err, domain.ErrInvalidParameter, "limit %d", limit)
	}
	for _, limit := range []int{1, 100} {
		got, _, err := eng.Search(ctx, "space", limit, domain.Filter{})
		require.NoError(t, err, "limit %d", limit)
		assert.LessOrEqual(t, len(got), limit)
	}
}

func TestSearchErrors(t *testing.T) {
	eng, _, _, _ := scenario(t)
	ctx := context.Background()

	_, _, err := eng.Search(ctx, "   ", 10, domain.Filter{})
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)

	_, _, err = eng.Search(ctx, "space", 10, domain.Filter{Genre: "poetry"})
	assert.ErrorIs(t, err, domain.ErrInvalidFilter)

	empty := New(catalog.New(), DefaultConfig(), zerolog.Nop())
	assert.False(t, empty.Ready())
	_, _, err = empty.Search(ctx, "space", 10, domain.Filter{})
	assert.ErrorIs(t, err, domain.ErrNotReady)
}

func TestSearchExcludesBooksWithoutOverlap(t *testing.T) {
	eng, _, _, _ := scenario(t)
	got, _, err := eng.Search(context.Background(), "zzqx", 10, domain.Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, _, err = eng.Search(context.Background(), "the of and", 10, domain.Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchWithoutVectorsUsesLexicalOnly(t *testing.T) {
	ix := catalog.New()
	_, err := ix.UpsertMany([]domain.Book{book("Dune", "Frank Herbert", domain.GenreSciFi, "desert planet spice", 4.5)})
	require.NoError(t, err)
	require.Positive(t, ix.Stale())

	eng := New(ix, DefaultConfig(), zerolog.Nop())
	got, _, err := eng.Search(context.Background(), "dune desert", 5, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Greater(t, got[0].SimilarityScore, 0.0)
	assert.LessOrEqual(t, got[0].SimilarityScore, 1.0)
}

func TestSearchCancelledContextIsPartial(t *testing.T) {
	eng, _, _, _ := scenario(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	got, partial, err := eng.Search(ctx, "space", 10, domain.Filter{})
	require.NoError(t, err)
	assert.True(t, partial)
	assert.Empty(t, got)
}

func TestNewNormalisesWeights(t *testing.T) {
	eng := New(catalog.New(), Config{LexicalWeight: 2, SemanticWeight: 6}, zerolog.Nop())
	assert.InDelta(t, 0.25, eng.lexical, 1e-9)
	assert.InDelta(t, 0.75, eng.semantic, 1e-9)

	eng = New(catalog.New(), Config{}, zerolog.Nop())
	assert.InDelta(t, 0.4, eng.lexical, 1e-9)
}

var vocabulary = []string{
	"space", "adventure", "dragon", "love", "murder", "history", "war", "ship",
	"planet", "magic", "garden", "cook", "ghost", "queen", "robot", "ocean",
}

func TestSearchRankingProperties(t *testing.T) {
	ix := catalog.New()
	var books []domain.Book
	for i := 0; i < 120; i++ {
		w1, w2 := vocabulary[i%len(vocabulary)], vocabulary[(i*7+3)%len(vocabulary)]
		g := domain.Genres[i%len(domain.Genres)]
		books = append(books, book(
			fmt.Sprintf("%s %s %d", strings.ToUpper(w1[:1])+w1[1:], w2, i),
			fmt.Sprintf("Author %d", i%9),
			g,
			fmt.Sprintf("A tale of %s and %s.", w2, w1),
			float64(i%5),
		))
	}
	_, err := ix.UpsertMany(books)
	require.NoError(t, err)
	_, err = ix.Reembed(context.Background())
	require.NoError(t, err)
	eng := New(ix, DefaultConfig(), zerolog.Nop())

	rapid.Check(t, func(t *rapid.T) {
		words := rapid.SliceOfN(rapid.SampledFrom(vocabulary), 1, 3).Draw(t, "words")
		limit := rapid.IntRange(MinLimit, MaxLimit).Draw(t, "limit")

		got, _, err := eng.Search(context.Background(), strings.Join(words, " "), limit, domain.Filter{})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(got) > limit {
			t.Fatalf("got %d results for limit %d", len(got), limit)
		}
		for i, r := range got {
			if r.SimilarityScore <= 0 || r.SimilarityScore > 1 {
				t.Fatalf("score %v out of range", r.SimilarityScore)
			}
			if i == 0 {
				continue
			}
			prev := got[i-1]
			if prev.SimilarityScore < r.SimilarityScore {
				t.Fatalf("results not sorted at %d: %v < %v", i, prev.SimilarityScore, r.SimilarityScore)
			}
			if prev.SimilarityScore != r.SimilarityScore {
				continue
			}
			if prev.Book.Rating < r.Book.Rating {
				t.Fatalf("equal score %v: rating %v listed before %v", r.SimilarityScore, prev.Book.Rating, r.Book.Rating)
			}
			if prev.Book.Rating == r.Book.Rating && prev.Book.ID.String() > r.Book.ID.String() {
				t.Fatalf("equal score and rating at %d: ids out of order", i)
			}
		}
	})
}

func TestSearchEqualScoresOrderByRatingThenID(t *testing.T) {
	ix := catalog.New()
	var books []domain.Book
	for i, rating := range []float64{2.7, 3.4, 3.4, 4.1} {
		b := book("Galaxy Tides", "Ada Quill", domain.GenreSciFi, "space galaxy voyage", rating)
		b.ID = uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-00000000000%d", 4-i))
		books = append(books, b)
	}
	_, err := ix.UpsertMany(books)
	require.NoError(t, err)
	_, err = ix.Reembed(context.Background())
	require.NoError(t, err)
	eng := New(ix, DefaultConfig(), zerolog.Nop())

	got, _, err := eng.Search(context.Background(), "space galaxy", 10, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 4)
	for _, r := range got[1:] {
		assert.Equal(t, got[0].SimilarityScore, r.SimilarityScore)
	}
	assert.Equal(t, []float64{4.1, 3.4, 3.4, 2.7}, []float64{got[0].Book.Rating, got[1].Book.Rating, got[2].Book.Rating, got[3].Book.Rating})
	assert.Less(t, got[1].Book.ID.String(), got[2].Book.ID.String())
}
