package embed

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cached memoises another embedder. Vectors are keyed by the inner
// embedder's name and the text.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache
}

func NewCached(inner Embedder, maxEntries int64) (*Cached, error) {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Name() string {
	return c.inner.Name()
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.inner.Name() + "\x00" + text
	if v, ok := c.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec, 1)
	c.cache.Wait()
	return vec, nil
}

func (c *Cached) Close() {
	c.cache.Close()
}
