// Package index holds gallery embeddings for nearest-neighbour lookup.
//
// Similarity is reported on a single scale everywhere: the cosine of the two
// L2-normalized vectors rescaled to [0, 1] as (cos+1)/2. Results are ordered by
// similarity descending, ties broken by ascending id.
package index

import (
	"context"
	"math"
	"sort"

	"github.com/timmy/eventgallery/internal/domain"
)

// Match is one index hit.
type Match struct {
	ID         string
	Similarity float32
}

// Index is a similarity index over fixed-dimension embeddings.
type Index interface {
	// Upsert inserts or atomically replaces the vector stored under id.
	Upsert(ctx context.Context, id string, vector []float32) error
	// Remove deletes id. Removing an unknown id is not an error.
	Remove(ctx context.Context, id string) error
	// Query returns at most k matches for vector.
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)
	// Len returns the number of indexed vectors.
	Len(ctx context.Context) (int, error)
	// Dimensions returns the vector dimension accepted by the index.
	Dimensions() int
}

// CheckDimension returns a dimension_mismatch error when len(vector) != dim.
func CheckDimension(op string, vector []float32, dim int) error {
	if len(vector) != dim {
		return domain.Errorf(domain.KindDimensionMismatch, op,
			"vector dimension mismatch: expected %d, got %d", dim, len(vector))
	}
	return nil
}

// Normalize returns an L2-normalized copy of v and false if v has zero norm.
func Normalize(v []float32) ([]float32, bool) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, false
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, true
}

// Dot returns the dot product of two equal-length vectors.
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// ScoreFromCosine maps a cosine in [-1, 1] onto [0, 1].
func ScoreFromCosine(cos float64) float32 {
	s := (cos + 1) / 2
	switch {
	case s < 0 || math.IsNaN(s):
		return 0
	case s > 1:
		return 1
	}
	return float32(s)
}

// SortMatches orders matches by similarity descending, then id ascending.
func SortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})
}
