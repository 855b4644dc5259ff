package index

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"

	"github.com/timmy/eventgallery/internal/domain"
)

// snapshot is an immutable view of the index. Writers build a new one and
// publish it; readers never see a partially written snapshot.
type snapshot struct {
	ids     []string
	vectors [][]float32 // L2-normalized, parallel to ids
	pos     map[string]int
}

var emptySnapshot = &snapshot{pos: map[string]int{}}

// Memory is an exact, brute-force index. Queries scan a copy-on-write snapshot
// and never block on writers. Writes are serialized.
type Memory struct {
	dim  int
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// NewMemory creates an empty in-memory index for vectors of dimension dim.
func NewMemory(dim int) *Memory {
	m := &Memory{dim: dim}
	m.snap.Store(emptySnapshot)
	return m
}

// Dimensions returns the accepted vector dimension.
func (m *Memory) Dimensions() int {
	return m.dim
}

// Len returns the number of indexed vectors.
func (m *Memory) Len(context.Context) (int, error) {
	return len(m.snap.Load().ids), nil
}

// Upsert inserts or replaces the vector for id.
func (m *Memory) Upsert(_ context.Context, id string, vector []float32) error {
	const op = "index.Upsert"
	if id == "" {
		return domain.Errorf(domain.KindInvalidRequest, op, "empty id")
	}
	if err := CheckDimension(op, vector, m.dim); err != nil {
		return err
	}
	normalized, ok := Normalize(vector)
	if !ok {
		return domain.Errorf(domain.KindInvalidRequest, op, "zero or non-finite vector")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.snap.Load()
	next := &snapshot{
		ids:     make([]string, len(cur.ids), len(cur.ids)+1),
		vectors: make([][]float32, len(cur.vectors), len(cur.vectors)+1),
		pos:     make(map[string]int, len(cur.pos)+1),
	}
	copy(next.ids, cur.ids)
	copy(next.vectors, cur.vectors)
	for k, v := range cur.pos {
		next.pos[k] = v
	}

	if i, exists := next.pos[id]; exists {
		next.vectors[i] = normalized
	} else {
		next.pos[id] = len(next.ids)
		next.ids = append(next.ids, id)
		next.vectors = append(next.vectors, normalized)
	}

	m.snap.Store(next)
	return nil
}

// Remove deletes id from the index.
func (m *Memory) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.snap.Load()
	i, exists := cur.pos[id]
	if !exists {
		return nil
	}

	n := len(cur.ids) - 1
	next := &snapshot{
		ids:     make([]string, 0, n),
		vectors: make([][]float32, 0, n),
		pos:     make(map[string]int, n),
	}
	for j := range cur.ids {
		if j == i {
			continue
		}
		next.pos[cur.ids[j]] = len(next.ids)
		next.ids = append(next.ids, cur.ids[j])
		next.vectors = append(next.vectors, cur.vectors[j])
	}

	m.snap.Store(next)
	return nil
}

// Query returns the k most similar vectors by exact linear scan.
func (m *Memory) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	const op = "index.Query"
	if err := CheckDimension(op, vector, m.dim); err != nil {
		return nil, err
	}

	snap := m.snap.Load()
	if k <= 0 || len(snap.ids) == 0 {
		return []Match{}, nil
	}
	query, ok := Normalize(vector)
	if !ok {
		return []Match{}, nil
	}

	top := make(matchHeap, 0, k+1)
	for i, v := range snap.vectors {
		if i%4096 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		candidate := Match{ID: snap.ids[i], Similarity: ScoreFromCosine(Dot(query, v))}
		if len(top) < k {
			heap.Push(&top, candidate)
			continue
		}
		if worse(top[0], candidate) {
			top[0] = candidate
			heap.Fix(&top, 0)
		}
	}

	out := make([]Match, len(top))
	copy(out, top)
	SortMatches(out)
	return out, nil
}

// worse reports whether a ranks below b.
func worse(a, b Match) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity < b.Similarity
	}
	return a.ID > b.ID
}

// matchHeap is a min-heap on rank: the root is the worst kept match.
type matchHeap []Match

func (h matchHeap) Len() int            { return len(h) }
func (h matchHeap) Less(i, j int) bool  { return worse(h[i], h[j]) }
func (h matchHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *matchHeap) Push(x interface{}) { *h = append(*h, x.(Match)) }
func (h *matchHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
