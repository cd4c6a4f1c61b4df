package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"
)

// LocalConfig configures the loopback/on-device inference backend.
type LocalConfig struct {
	// Endpoint is the local inference server URL, e.g. http://localhost:11434.
	Endpoint string
	// Model identifies the model the server should use.
	Model string
	// Revision disambiguates retrained weights under the same model name.
	Revision string
	// SkipHealthCheck skips the startup health check (for testing).
	SkipHealthCheck bool

	// ModelsDir is the weights cache directory agentsdb manages on the
	// operator's behalf. Empty means DefaultModelsDir(). Only consulted
	// when ModelFileName is set.
	ModelsDir string
	// ModelFileName, when non-empty, names a weight file the inference
	// server reads from ModelsDir. agentsdb ensures it is present and
	// pinned to Allowlist before ever starting a session against the
	// server that loads it (§4.5 — local backend allowlist enforcement).
	ModelFileName string
	// ModelURL is where ModelFileName is downloaded from if not already
	// cached.
	ModelURL string
	// Allowlist holds lowercase hex SHA-256 digests of weight files
	// permitted to load. Required whenever ModelFileName is set.
	Allowlist []string
}

// LocalEmbedder generates embeddings via a loopback HTTP inference server —
// e.g. an on-device model runner the operator manages outside agentsdb.
// agentsdb never launches or manages the server process itself; it only
// speaks its embed/embed_batch protocol (§4.5 — local backend).
type LocalEmbedder struct {
	client   *http.Client
	config   LocalConfig
	dims     int
	mu       sync.RWMutex
	closed   bool
	lastCall time.Time
}

var _ Embedder = (*LocalEmbedder)(nil)

// NewLocalEmbedder creates a new local embedder.
func NewLocalEmbedder(ctx context.Context, cfg LocalConfig) (*LocalEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeBackendUnavailable, nil, "local backend requires a non-empty endpoint")
	}

	if cfg.ModelFileName != "" {
		modelsDir := cfg.ModelsDir
		if modelsDir == "" {
			modelsDir = DefaultModelsDir()
		}
		mgr := NewModelManager(modelsDir, cfg.Allowlist)
		if _, err := mgr.EnsureModel(ctx, cfg.ModelFileName, cfg.ModelURL, nil); err != nil {
			return nil, agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeModelNotAllowed, err, "local backend model weights not pinned")
		}
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	e := &LocalEmbedder{client: client, config: cfg}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, DefaultColdTimeout)
		defer cancel()

		if err := e.healthCheck(checkCtx); err != nil {
			return nil, agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeBackendUnavailable, err, "local backend health check failed")
		}

		dims, err := e.detectDimensions(checkCtx)
		if err != nil {
			return nil, agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeBackendUnavailable, err, "local backend dimension detection failed")
		}
		e.dims = dims
	}

	slog.Debug("local_embedder_created",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", cfg.Model),
		slog.Int("dimensions", e.dims))

	return e, nil
}

func (e *LocalEmbedder) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Endpoint+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeBackendUnavailable, nil, "unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

func (e *LocalEmbedder) detectDimensions(ctx context.Context) (int, error) {
	embeddings, err := e.doEmbedBatch(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return 0, agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeBackendUnavailable, nil, "empty embedding returned during dimension probe")
	}
	return len(embeddings[0]), nil
}

// Embed generates an embedding for a single text.
func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeEmbedderClosed, nil, "local embedder is closed")
	}
	e.mu.RUnlock()

	embeddings, err := e.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts with retry logic.
func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeEmbedderClosed, nil, "local embedder is closed")
	}
	e.mu.RUnlock()

	return e.embedWithRetry(ctx, texts)
}

func (e *LocalEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	cfg := agentsdberrors.DefaultRetryConfig()
	cfg.MaxRetries = DefaultMaxRetries - 1
	cfg.Jitter = true

	attempt := 0
	embeddings, err := agentsdberrors.RetryWithResult(ctx, cfg, func() ([][]float32, error) {
		attempt++
		timeout := e.currentTimeout()
		timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		result, err := e.doEmbedBatch(timeoutCtx, texts)
		if err != nil {
			slog.Debug("local_embed_attempt_failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}
		return result, err
	})
	if err != nil {
		return nil, agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeBackendUnavailable, err, "local backend failed after %d attempts", DefaultMaxRetries)
	}

	e.mu.Lock()
	e.lastCall = time.Now()
	e.mu.Unlock()
	return embeddings, nil
}

// currentTimeout returns the warm timeout if the backend answered recently,
// otherwise the cold timeout (model may still be loading weights).
func (e *LocalEmbedder) currentTimeout() time.Duration {
	e.mu.RLock()
	lastCall := e.lastCall
	e.mu.RUnlock()

	if lastCall.IsZero() || time.Since(lastCall) > ModelUnloadThreshold {
		return DefaultColdTimeout
	}
	return DefaultWarmTimeout
}

func (e *LocalEmbedder) doEmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := localEmbedBatchRequest{Texts: texts, Model: e.config.Model}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Endpoint+"/embed_batch", bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeRemoteHTTP, nil, "local backend batch embedding failed (status %d): %s", resp.StatusCode, string(body))
	}

	var result localEmbedBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = make([]float32, len(emb))
		for j, v := range emb {
			embeddings[i][j] = float32(v)
		}
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *LocalEmbedder) Dimensions() int {
	return e.dims
}

// Profile returns the canonical profile for this embedder.
func (e *LocalEmbedder) Profile() Profile {
	return Profile{V: 1, Backend: "local", Model: e.config.Model, Revision: e.config.Revision, Dim: e.dims}
}

// Available checks if the local backend is reachable.
func (e *LocalEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return e.healthCheck(checkCtx) == nil
}

// Close releases resources.
func (e *LocalEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if transport, ok := e.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

type localEmbedBatchRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type localEmbedBatchResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}
