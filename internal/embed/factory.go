package embed

import (
	"context"
	"strings"

	agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"
)

// Options configures embedder construction; the fields mirror
// config.EmbeddingConfig and config.CacheConfig so the caller can pass a
// rolled-up options record straight through (§4.4, §4.5).
type Options struct {
	Backend        string
	Model          string
	Revision       string
	Dimensions     int
	LocalEndpoint  string
	RemoteEndpoint string
	APIKeyEnv      string
	CacheEnabled   bool
	CacheSize      int

	// ModelsDir/ModelFileName/ModelURL/Allowlist configure the "local"
	// backend's optional weight-pinning pre-flight (see LocalConfig).
	ModelsDir     string
	ModelFileName string
	ModelURL      string
	Allowlist     []string
}

// New resolves and constructs the embedder named by opts.Backend ("hash",
// "local", or "remote"), wrapping it with the content-addressed cache unless
// disabled.
func New(ctx context.Context, opts Options) (Embedder, error) {
	var embedder Embedder
	var err error

	switch strings.ToLower(opts.Backend) {
	case "", "hash":
		embedder = NewHashEmbedder()

	case "local":
		embedder, err = NewLocalEmbedder(ctx, LocalConfig{
			Endpoint:      opts.LocalEndpoint,
			Model:         opts.Model,
			Revision:      opts.Revision,
			ModelsDir:     opts.ModelsDir,
			ModelFileName: opts.ModelFileName,
			ModelURL:      opts.ModelURL,
			Allowlist:     opts.Allowlist,
		})

	case "remote":
		embedder, err = NewRemoteEmbedder(ctx, RemoteConfig{
			Endpoint:   opts.RemoteEndpoint,
			Model:      opts.Model,
			Revision:   opts.Revision,
			APIKeyEnv:  opts.APIKeyEnv,
			Dimensions: opts.Dimensions,
		})

	default:
		return nil, agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeBackendUnavailable, nil, "unknown embedder backend %q", opts.Backend)
	}

	if err != nil {
		return nil, err
	}

	if opts.CacheEnabled {
		embedder = NewCachedEmbedder(embedder, opts.CacheSize)
	}

	return embedder, nil
}

// Info summarizes a constructed embedder's identity, for diagnostics.
type Info struct {
	Profile   Profile
	Available bool
}

// GetInfo returns diagnostic information about an embedder.
func GetInfo(ctx context.Context, embedder Embedder) Info {
	return Info{
		Profile:   embedder.Profile(),
		Available: embedder.Available(ctx),
	}
}

// MustNew creates an embedder and panics on failure. Use only in tests or
// initialization code where failure is fatal.
func MustNew(ctx context.Context, opts Options) Embedder {
	embedder, err := New(ctx, opts)
	if err != nil {
		panic(err)
	}
	return embedder
}
