package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the default number of embeddings to keep in
// the in-process LRU tier.
const DefaultEmbeddingCacheSize = 1000

// CachedEmbedder wraps an Embedder with a content-addressed cache keyed on
// sha256(profile_json || 0x00 || text) (§4.5). Keying on the profile, not
// just the model name, means the cache cannot return a vector computed under
// a different backend/revision/dimension combination even if the text is
// identical — a stale hit here would silently corrupt cross-layer search.
type CachedEmbedder struct {
	inner   Embedder
	cache   *lru.Cache[string, []float32]
	profile Profile
}

// NewCachedEmbedder creates a cached embedder wrapping the given embedder.
// cacheSize bounds the number of unique texts kept in memory.
func NewCachedEmbedder(inner Embedder, cacheSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedEmbedder{
		inner:   inner,
		cache:   cache,
		profile: inner.Profile(),
	}
}

// NewCachedEmbedderWithDefaults creates a cached embedder with default settings.
func NewCachedEmbedderWithDefaults(inner Embedder) *CachedEmbedder {
	return NewCachedEmbedder(inner, DefaultEmbeddingCacheSize)
}

// cacheKey computes sha256(profile_json || 0x00 || text) hex-encoded.
func (c *CachedEmbedder) cacheKey(text string) string {
	profileJSON, _ := json.Marshal(c.profile)
	combined := make([]byte, 0, len(profileJSON)+1+len(text))
	combined = append(combined, profileJSON...)
	combined = append(combined, 0x00)
	combined = append(combined, text...)
	hash := sha256.Sum256(combined)
	return hex.EncodeToString(hash[:])
}

// Embed returns the cached embedding if available, otherwise computes and caches it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts, caching each result
// individually so that overlapping batches maximize reuse.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	uncachedIndices := make([]int, 0, len(texts))
	uncachedTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		key := c.cacheKey(text)
		if vec, ok := c.cache.Get(key); ok {
			results[i] = vec
		} else {
			uncachedIndices = append(uncachedIndices, i)
			uncachedTexts = append(uncachedTexts, text)
		}
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	newEmbeddings, err := c.inner.EmbedBatch(ctx, uncachedTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range uncachedIndices {
		results[idx] = newEmbeddings[j]
		key := c.cacheKey(texts[idx])
		c.cache.Add(key, newEmbeddings[j])
	}

	return results, nil
}

// Dimensions returns the embedding dimension (passthrough to inner).
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// Profile returns the wrapped embedder's profile (passthrough to inner).
func (c *CachedEmbedder) Profile() Profile {
	return c.profile
}

// Available checks if the embedder is ready (passthrough to inner).
func (c *CachedEmbedder) Available(ctx context.Context) bool {
	return c.inner.Available(ctx)
}

// Close releases resources and closes the inner embedder.
func (c *CachedEmbedder) Close() error {
	return c.inner.Close()
}

// Inner returns the underlying embedder.
func (c *CachedEmbedder) Inner() Embedder {
	return c.inner
}
