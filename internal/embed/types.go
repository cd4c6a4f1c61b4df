package embed

import (
	"context"
	"math"
	"time"
)

// Batch and timeout defaults shared by all embedder backends (§4.5).
const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion).
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultWarmTimeout is the timeout for requests once a backend is known
	// to be loaded and responsive.
	DefaultWarmTimeout = 30 * time.Second

	// DefaultColdTimeout is the timeout for the first request against a
	// backend that may still be loading model weights.
	DefaultColdTimeout = 120 * time.Second

	// DefaultMaxRetries is the default total number of attempts, the first
	// try included, that the local backend makes on transient failures.
	DefaultMaxRetries = 3
)

// HashDimensions is the embedding dimension produced by the deterministic
// "hash" backend, also the config default (§4.5, SPEC_FULL.md §Embedding).
const HashDimensions = 256

// Embedder generates vector embeddings for text under a single profile
// (backend, model, revision, dimensions — §4.4). A Store pins one Embedder
// per open session; cross-layer search requires the querying layer's
// profile to match the layer being scanned.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call where
	// the backend supports batching; callers should prefer this over
	// repeated Embed calls for bulk append paths.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension this backend produces.
	Dimensions() int

	// Profile returns the canonical profile identifying this embedder's
	// output space for cache keys and compatibility checks.
	Profile() Profile

	// Available checks whether the embedder is ready to serve requests.
	Available(ctx context.Context) bool

	// Close releases any held resources (HTTP clients, file handles).
	Close() error
}

// Profile identifies an embedder's output space. Two embedders with equal
// profiles are assumed to produce vectors in the same space and are safe to
// compare; this is also the cache key material (§4.5).
type Profile struct {
	V        int    `json:"v"`
	Backend  string `json:"backend"`
	Model    string `json:"model"`
	Revision string `json:"revision"`
	Dim      int    `json:"dim"`
}

// normalizeVector normalizes a vector to unit length so that cosine
// similarity reduces to a dot product at query time.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
