// Package vector persists embeddings and answers nearest-neighbour queries.
package vector

import (
	"context"
	"math"
)

// Metadata is stored next to each embedding.
type Metadata struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
	Index    int    `json:"index"`
}

type Entry struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Hit is one query match. Distance is the cosine distance in [0, 2].
type Hit struct {
	ID       string
	Distance float64
	Metadata Metadata
}

// Store is a single named collection of embeddings.
type Store interface {
	// Add writes entries in one batch, replacing entries with the same id.
	Add(ctx context.Context, entries []Entry) error
	// Query returns up to k entries closest to vector, nearest first.
	Query(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Count(ctx context.Context) (int, error)
	// Clear removes every entry of the collection.
	Clear(ctx context.Context) error
	Name() string
}

// cosineDistance returns 1 - cos(a, b). Vectors of zero length are treated as
// orthogonal to everything.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return 1 - max(-1, min(1, cos))
}
