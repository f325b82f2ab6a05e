package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
)

// DefaultQueryCacheSize is the default number of query embeddings to cache.
const DefaultQueryCacheSize = 1000

// Cached embeds single query strings through a provider with an LRU in front.
// It is for query-time lookups only; the pipeline always calls the provider.
type Cached struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

// NewCached wraps inner with an LRU of the given size.
func NewCached(inner Provider, size int) *Cached {
	if size <= 0 {
		size = DefaultQueryCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &Cached{inner: inner, cache: cache}
}

// cacheKey is keyed by text and model so a model switch never reuses vectors.
func (c *Cached) cacheKey(text string) string {
	combined := text + "\x00" + c.inner.Fingerprint().Key()
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// Embed returns the vector for text, from cache when possible.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	results, err := c.inner.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(results) != 1 {
		return nil, amanerrors.New(amanerrors.ErrCodeUnknown, "provider returned no result", nil)
	}
	if results[0].Err != nil {
		return nil, results[0].Err
	}
	if len(results[0].Vector) == 0 {
		return nil, amanerrors.New(amanerrors.ErrCodeEmptyVector, "provider returned an empty vector", nil)
	}

	c.cache.Add(key, results[0].Vector)
	return results[0].Vector, nil
}

// Len returns the number of cached entries.
func (c *Cached) Len() int { return c.cache.Len() }

// Inner returns the wrapped provider.
func (c *Cached) Inner() Provider { return c.inner }
