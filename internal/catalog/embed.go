package catalog

import (
	"math"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Embedder maps text to a dense, L2-normalised, non-negative vector.
type Embedder interface {
	Embed(text string) []float32
	// Version changes whenever Embed would produce different vectors.
	Version() string
}

// HashEmbedder is a feature-hashing embedder over tokens and character
// trigrams. It needs no model files, so it is always available.
type HashEmbedder struct {
	dims int
}

const defaultDims = 256

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = defaultDims
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Version() string {
	return "hash-v1-" + strconv.Itoa(h.dims)
}

func (h *HashEmbedder) Embed(text string) []float32 {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	vec := make([]float32, h.dims)
	for _, t := range tokens {
		vec[xxhash.Sum64String("w:"+t)%uint64(h.dims)] += 2
		for _, g := range trigrams(t) {
			vec[xxhash.Sum64String("g:"+g)%uint64(h.dims)]++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
