package catalog

import (
	"math"

	"github.com/google/uuid"
)

// Query is a prepared text probe. Term weights carry the IDF of the index at
// preparation time; document vectors are TF-only, so both sides are unit
// vectors and Lexical stays in [0,1].
type Query struct {
	weights map[string]float64
	feats   map[string]struct{}
	vec     []float32
}

// NewQuery tokenises text and weights its terms by the current IDF.
func (ix *Index) NewQuery(text string) *Query {
	tokens := tokenize(text)
	tf := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	ix.applyIDF(tf)
	q := &Query{weights: tf, feats: features(tokens)}
	if len(tokens) > 0 {
		q.vec = ix.embedder.Embed(text)
	}
	return q
}

// ProfileQuery builds a probe from the union of the given books' indexed
// features. It is how a reader's history is compared against other books.
func (ix *Index) ProfileQuery(ids []uuid.UUID) *Query {
	tf := make(map[string]float64)
	feats := make(map[string]struct{})
	var vec []float32
	for _, id := range ids {
		e, ok := ix.Entry(id)
		if !ok {
			continue
		}
		for t, w := range e.terms {
			tf[t] += w
		}
		for f := range e.feats {
			feats[f] = struct{}{}
		}
		if e.HasVector() {
			if vec == nil {
				vec = make([]float32, len(e.vec))
			}
			if len(vec) == len(e.vec) {
				for i, v := range e.vec {
					vec[i] += v
				}
			}
		}
	}
	ix.applyIDF(tf)
	return &Query{weights: tf, feats: feats, vec: unit(vec)}
}

func (ix *Index) applyIDF(tf map[string]float64) {
	n := float64(ix.size.Load())
	ix.dfMu.RLock()
	for t, w := range tf {
		df := float64(ix.df[t])
		tf[t] = w * math.Log(1+(n+1)/(df+1))
	}
	ix.dfMu.RUnlock()
	normalize(tf)
}

func unit(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return nil
	}
	n := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
	return v
}

func (q *Query) Empty() bool { return len(q.weights) == 0 }

// Lexical is the cosine between the query and the entry's term vector.
func (q *Query) Lexical(e *Entry) float64 {
	a, b := q.weights, e.terms
	if len(b) < len(a) {
		a, b = b, a
	}
	var sum float64
	for t, w := range a {
		sum += w * b[t]
	}
	return clamp01(sum)
}

// Dense is the cosine between embeddings; ok is false when either side has
// no vector.
func (q *Query) Dense(e *Entry) (score float64, ok bool) {
	if len(q.vec) == 0 || !e.HasVector() {
		return 0, false
	}
	return clamp01(dot(q.vec, e.vec)), true
}

// Overlaps reports whether the query and entry share a token or trigram.
func (q *Query) Overlaps(e *Entry) bool {
	a, b := q.feats, e.feats
	if len(b) < len(a) {
		a, b = b, a
	}
	for f := range a {
		if _, ok := b[f]; ok {
			return true
		}
	}
	return false
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x) || x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
