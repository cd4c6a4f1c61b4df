package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"
)

// RemoteConfig configures the hosted HTTP embedding provider backend.
type RemoteConfig struct {
	// Endpoint is the provider's embeddings API URL.
	Endpoint string
	// Model identifies the model to request from the provider.
	Model string
	// Revision disambiguates retrained weights under the same model name.
	Revision string
	// APIKeyEnv names the environment variable holding the provider API key.
	APIKeyEnv string
	// Dimensions, if non-zero, skips auto-detection via a probe request.
	Dimensions int
	// SkipHealthCheck skips the startup probe request (for testing).
	SkipHealthCheck bool
}

// RemoteEmbedder generates embeddings via a hosted HTTP provider. Requests
// run through a circuit breaker so a provider outage fails fast instead of
// blocking every append/search call behind repeated timeouts (§4.5 — remote
// backend).
type RemoteEmbedder struct {
	client  *http.Client
	config  RemoteConfig
	apiKey  string
	dims    int
	breaker *agentsdberrors.CircuitBreaker

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*RemoteEmbedder)(nil)

// NewRemoteEmbedder creates a new remote embedder. The API key is read from
// the environment variable named by cfg.APIKeyEnv; it is never logged.
func NewRemoteEmbedder(ctx context.Context, cfg RemoteConfig) (*RemoteEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeBackendUnavailable, nil, "remote backend requires a non-empty endpoint")
	}

	var apiKey string
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeBackendUnavailable, nil, "remote backend: environment variable %s is unset", cfg.APIKeyEnv)
		}
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        16,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	e := &RemoteEmbedder{
		client:  client,
		config:  cfg,
		apiKey:  apiKey,
		dims:    cfg.Dimensions,
		breaker: agentsdberrors.NewCircuitBreaker("embed-remote-"+cfg.Model, agentsdberrors.WithMaxFailures(5), agentsdberrors.WithResetTimeout(30*time.Second)),
	}

	if !cfg.SkipHealthCheck && e.dims == 0 {
		checkCtx, cancel := context.WithTimeout(ctx, DefaultColdTimeout)
		defer cancel()

		embeddings, err := e.doEmbedBatch(checkCtx, []string{"dimension probe"})
		if err != nil {
			return nil, agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeBackendUnavailable, err, "remote backend dimension probe failed")
		}
		if len(embeddings) == 0 || len(embeddings[0]) == 0 {
			return nil, agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeBackendUnavailable, nil, "remote backend returned an empty embedding during probe")
		}
		e.dims = len(embeddings[0])
	}

	return e, nil
}

// Embed generates an embedding for a single text.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts, guarded by the circuit breaker.
func (e *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeEmbedderClosed, nil, "remote embedder is closed")
	}
	e.mu.RUnlock()

	if !e.breaker.Allow() {
		return nil, agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeBackendUnavailable, agentsdberrors.ErrCircuitOpen, "remote backend circuit open after repeated failures")
	}

	var result [][]float32
	err := e.breaker.Execute(func() error {
		embeddings, embedErr := agentsdberrors.RetryWithResult(ctx, agentsdberrors.DefaultRetryConfig(), func() ([][]float32, error) {
			timeoutCtx, cancel := context.WithTimeout(ctx, DefaultWarmTimeout)
			defer cancel()
			return e.doEmbedBatch(timeoutCtx, texts)
		})
		if embedErr != nil {
			return embedErr
		}
		result = embeddings
		return nil
	})
	if err != nil {
		slog.Debug("remote_embed_failed", slog.String("error", err.Error()))
		return nil, agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeRemoteHTTP, err, "remote backend request failed")
	}

	return result, nil
}

func (e *RemoteEmbedder) doEmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := remoteEmbedRequest{Model: e.config.Model, Input: texts}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", e.apiKey))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeRemoteHTTP, nil, "remote backend returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result remoteEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		embeddings[i] = normalizeVector(vec)
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *RemoteEmbedder) Dimensions() int {
	return e.dims
}

// Profile returns the canonical profile for this embedder.
func (e *RemoteEmbedder) Profile() Profile {
	return Profile{V: 1, Backend: "remote", Model: e.config.Model, Revision: e.config.Revision, Dim: e.dims}
}

// Available reports whether the circuit breaker currently allows requests.
func (e *RemoteEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed && e.breaker.Allow()
}

// Close releases resources.
func (e *RemoteEmbedder) Close() error {
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

type remoteEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type remoteEmbedResponse struct {
	Data []remoteEmbedDatum `json:"data"`
}

type remoteEmbedDatum struct {
	Embedding []float64 `json:"embedding"`
}
