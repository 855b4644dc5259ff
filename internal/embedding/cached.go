package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/timmy/eventgallery/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// CachedExtractor memoizes embeddings by content hash. Extraction is
// deterministic, so a cached vector is exactly what a fresh call would return.
// Concurrent requests for the same bytes share one extraction, which a
// cancelled caller does not abort for the others.
type CachedExtractor struct {
	next  Extractor
	cache *lru.Cache[string, []float32]
	group singleflight.Group
}

// NewCachedExtractor wraps next with an LRU of the given size.
func NewCachedExtractor(next Extractor, size int) (*CachedExtractor, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction cache: %w", err)
	}
	return &CachedExtractor{next: next, cache: cache}, nil
}

// Dimensions delegates to the wrapped extractor.
func (c *CachedExtractor) Dimensions() int {
	return c.next.Dimensions()
}

// Model delegates to the wrapped extractor.
func (c *CachedExtractor) Model() string {
	return c.next.Model()
}

// Extract returns a cached embedding or computes and caches one. Failures are
// not cached.
func (c *CachedExtractor) Extract(ctx context.Context, data []byte) ([]float32, error) {
	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])

	if v, ok := c.cache.Get(key); ok {
		metrics.ExtractionCacheTotal.WithLabelValues("hit").Inc()
		return clone(v), nil
	}
	metrics.ExtractionCacheTotal.WithLabelValues("miss").Inc()

	// The shared extraction outlives any one caller; each caller waits on its
	// own context.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		vector, err := c.next.Extract(shared, data)
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, vector)
		return vector, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.([]float32)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of cached embeddings.
func (c *CachedExtractor) Len() int {
	return c.cache.Len()
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
