// Package catalog keeps the in-memory, queryable representation of the book
// catalog used by the search, recommendation and analytics paths.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/actuallystonmai/library-intelligence/internal/domain"
	"github.com/actuallystonmai/library-intelligence/internal/ranking"
)

const shardCount = 32

// Field weights applied to term frequencies.
const (
	titleWeight       = 2.0
	authorWeight      = 1.5
	genreWeight       = 1.0
	descriptionWeight = 1.0
)

// Entry is the indexed form of one book. Entries are never mutated after they
// are published; updates replace the pointer.
type Entry struct {
	book         domain.Book
	terms        map[string]float64 // L2-normalised weighted term frequencies
	feats        map[string]struct{}
	vec          []float32
	embedVersion string
	rev          uint64 // index version at which this entry was published
}

func (e *Entry) Book() *domain.Book { return &e.book }

// Rev is the index version that published this entry.
func (e *Entry) Rev() uint64 { return e.rev }

func (e *Entry) HasVector() bool { return len(e.vec) > 0 }

type shard struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
}

type Index struct {
	shards [shardCount]*shard

	dfMu sync.RWMutex
	df   map[string]int

	size    atomic.Int64
	version atomic.Uint64
	ready   atomic.Bool

	embedder Embedder
	logger   zerolog.Logger
}

type Option func(*Index)

func WithEmbedder(e Embedder) Option {
	return func(ix *Index) { ix.embedder = e }
}

func WithLogger(l zerolog.Logger) Option {
	return func(ix *Index) { ix.logger = l.With().Str("component", "catalog").Logger() }
}

func New(opts ...Option) *Index {
	ix := &Index{
		df:       make(map[string]int),
		embedder: NewHashEmbedder(defaultDims),
		logger:   zerolog.Nop(),
	}
	for i := range ix.shards {
		ix.shards[i] = &shard{entries: make(map[uuid.UUID]*Entry)}
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

func (ix *Index) shardFor(id uuid.UUID) *shard {
	return ix.shards[xxhash.Sum64(id[:])%shardCount]
}

// Upsert indexes book, replacing any previous version. Re-indexing a book with
// unchanged fields is a no-op.
func (ix *Index) Upsert(book domain.Book) error {
	return ix.upsert(book, true)
}

// UpsertMany indexes books without computing embeddings; Reembed fills them in
// later. Invalid books are skipped and reported together.
func (ix *Index) UpsertMany(books []domain.Book) (int, error) {
	var errs []error
	n := 0
	for _, b := range books {
		if err := ix.upsert(b, false); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func (ix *Index) upsert(book domain.Book, embed bool) error {
	if err := book.Validate(); err != nil {
		return err
	}
	sh := ix.shardFor(book.ID)

	sh.mu.RLock()
	old := sh.entries[book.ID]
	sh.mu.RUnlock()
	if old != nil && sameBook(&old.book, &book) {
		return nil
	}

	e := ix.buildEntry(book, embed)

	sh.mu.Lock()
	old = sh.entries[book.ID]
	if old != nil && sameBook(&old.book, &book) {
		sh.mu.Unlock()
		return nil
	}
	if old != nil && !embed && old.HasVector() && sameText(&old.book, &book) {
		e.vec, e.embedVersion = old.vec, old.embedVersion
	}
	e.rev = ix.version.Add(1)
	sh.entries[book.ID] = e
	ix.adjustDF(old, e)
	sh.mu.Unlock()

	if old == nil {
		ix.size.Add(1)
	}
	ix.ready.Store(true)
	return nil
}

// AdjustCopies moves a book's available copies by delta under the book's
// shard lock. Changes that would leave the count outside [0, total] are
// refused. It returns the resulting count and whether the change applied.
func (ix *Index) AdjustCopies(id uuid.UUID, delta int) (int, bool) {
	sh := ix.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	old, ok := sh.entries[id]
	if !ok {
		return 0, false
	}
	next := old.book.AvailableCopies + delta
	if next < 0 || next > old.book.TotalCopies {
		return old.book.AvailableCopies, false
	}
	if delta == 0 {
		return next, true
	}
	e := *old
	e.book.AvailableCopies = next
	e.rev = ix.version.Add(1)
	sh.entries[id] = &e
	return next, true
}

// Remove evicts a book. Unknown ids are ignored.
func (ix *Index) Remove(id uuid.UUID) {
	ix.remove(id, func(*Entry) bool { return true })
}

// RemoveUnchangedSince evicts a book only if its entry was published at or
// before rev, so writes that landed after rev survive. It reports whether
// the book was removed.
func (ix *Index) RemoveUnchangedSince(id uuid.UUID, rev uint64) bool {
	return ix.remove(id, func(e *Entry) bool { return e.rev <= rev })
}

func (ix *Index) remove(id uuid.UUID, match func(*Entry) bool) bool {
	sh := ix.shardFor(id)
	sh.mu.Lock()
	old, ok := sh.entries[id]
	ok = ok && match(old)
	if ok {
		delete(sh.entries, id)
		ix.adjustDF(old, nil)
	}
	sh.mu.Unlock()
	if ok {
		ix.size.Add(-1)
		ix.version.Add(1)
	}
	return ok
}

// adjustDF is called with the owning shard locked.
func (ix *Index) adjustDF(old, cur *Entry) {
	ix.dfMu.Lock()
	defer ix.dfMu.Unlock()
	if old != nil {
		for t := range old.terms {
			if ix.df[t]--; ix.df[t] <= 0 {
				delete(ix.df, t)
			}
		}
	}
	if cur != nil {
		for t := range cur.terms {
			ix.df[t]++
		}
	}
}

func (ix *Index) buildEntry(book domain.Book, embed bool) *Entry {
	tf := make(map[string]float64)
	var all []string
	add := func(text string, w float64) {
		toks := tokenize(text)
		for _, t := range toks {
			tf[t] += w
		}
		all = append(all, toks...)
	}
	add(book.Title, titleWeight)
	add(book.Author, authorWeight)
	add(book.Genre.Terms()+" "+book.SubGenre, genreWeight)
	add(book.Description, descriptionWeight)

	normalize(tf)
	e := &Entry{book: book, terms: tf, feats: features(all)}
	if embed {
		e.vec = ix.embedder.Embed(indexedText(&book))
		e.embedVersion = ix.embedder.Version()
	}
	return e
}

func indexedText(b *domain.Book) string {
	return b.Title + " " + b.Author + " " + b.Genre.Terms() + " " + b.SubGenre + " " + b.Description
}

func normalize(v map[string]float64) {
	var sum float64
	for _, w := range v {
		sum += w * w
	}
	if sum == 0 {
		return
	}
	n := math.Sqrt(sum)
	for k, w := range v {
		v[k] = w / n
	}
}

func sameBook(a, b *domain.Book) bool {
	x, y := *a, *b
	x.CreatedAt, y.CreatedAt = time.Time{}, time.Time{}
	return x == y && a.CreatedAt.Equal(b.CreatedAt)
}

func sameText(a, b *domain.Book) bool {
	return indexedText(a) == indexedText(b)
}

// Get returns a copy of the indexed book.
func (ix *Index) Get(id uuid.UUID) (domain.Book, bool) {
	sh := ix.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.entries[id]
	if !ok {
		return domain.Book{}, false
	}
	return e.book, true
}

func (ix *Index) Entry(id uuid.UUID) (*Entry, bool) {
	sh := ix.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.entries[id]
	return e, ok
}

// GenreOf reports a book's genre; the interaction store uses it to build
// affinity vectors.
func (ix *Index) GenreOf(id uuid.UUID) (domain.Genre, bool) {
	e, ok := ix.Entry(id)
	if !ok {
		return "", false
	}
	return e.book.Genre, true
}

func (ix *Index) Len() int { return int(ix.size.Load()) }

// Version increases on every observable change.
func (ix *Index) Version() uint64 { return ix.version.Load() }

// Ready reports whether a catalog has been loaded, even an empty one.
func (ix *Index) Ready() bool { return ix.ready.Load() }

// MarkReady flags the index as loaded after a snapshot without books.
func (ix *Index) MarkReady() { ix.ready.Store(true) }

// Entries returns the published entries matching filter, in no particular
// order.
func (ix *Index) Entries(filter domain.Filter) []*Entry {
	out := make([]*Entry, 0, ix.Len())
	for _, sh := range ix.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			if filter.Match(&e.book) {
				out = append(out, e)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// Books copies every indexed book.
func (ix *Index) Books() []domain.Book {
	entries := ix.Entries(domain.Filter{})
	out := make([]domain.Book, len(entries))
	for i, e := range entries {
		out[i] = e.book
	}
	return out
}

// ByGenre yields the books of one genre. The sequence reads each shard when it
// reaches it, and ranging over it again starts a fresh pass.
func (ix *Index) ByGenre(genre domain.Genre) iter.Seq[domain.Book] {
	return func(yield func(domain.Book) bool) {
		for _, sh := range ix.shards {
			sh.mu.RLock()
			batch := make([]domain.Book, 0, len(sh.entries))
			for _, e := range sh.entries {
				if e.book.Genre == genre {
					batch = append(batch, e.book)
				}
			}
			sh.mu.RUnlock()
			for _, b := range batch {
				if !yield(b) {
					return
				}
			}
		}
	}
}

// SimilarText returns the k books whose indexed text is closest to query by
// TF-IDF cosine, restricted to filter.
func (ix *Index) SimilarText(ctx context.Context, query string, k int, filter domain.Filter) ([]ranking.Result, bool, error) {
	if err := filter.Validate(); err != nil {
		return nil, false, err
	}
	if k <= 0 {
		return nil, false, fmt.Errorf("%w: k must be positive", domain.ErrInvalidParameter)
	}
	q := ix.NewQuery(query)
	if q.Empty() {
		return nil, false, nil
	}
	res, partial := ranking.Rank(ctx, ix.Entries(filter), ranking.ScorerFunc[*Entry](func(e *Entry) (float64, string) {
		return q.Lexical(e), "text match"
	}), k)
	return res, partial, nil
}

// Reembed computes embeddings for entries that lack one or were built by a
// different embedder version. Readers keep using the old entries until each
// replacement is published.
func (ix *Index) Reembed(ctx context.Context) (int, error) {
	want := ix.embedder.Version()
	done := 0
	for _, sh := range ix.shards {
		sh.mu.RLock()
		var stale []*Entry
		for _, e := range sh.entries {
			if !e.HasVector() || e.embedVersion != want {
				stale = append(stale, e)
			}
		}
		sh.mu.RUnlock()

		for _, old := range stale {
			if err := ctx.Err(); err != nil {
				return done, err
			}
			next := *old
			next.vec = ix.embedder.Embed(indexedText(&old.book))
			next.embedVersion = want

			sh.mu.Lock()
			if sh.entries[old.book.ID] == old {
				sh.entries[old.book.ID] = &next
				done++
			}
			sh.mu.Unlock()
		}
	}
	if done > 0 {
		ix.logger.Debug().Int("entries", done).Msg("re-embedded catalog entries")
	}
	return done, nil
}

// Stale counts entries that Reembed would rebuild.
func (ix *Index) Stale() int {
	want := ix.embedder.Version()
	n := 0
	for _, sh := range ix.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			if !e.HasVector() || e.embedVersion != want {
				n++
			}
		}
		sh.mu.RUnlock()
	}
	return n
}
