// Package embed provides pluggable embedder backends for agentsdb.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"
)

// DefaultModelDownloadTimeout is the maximum time to wait for a local model
// weight download.
const DefaultModelDownloadTimeout = 10 * time.Minute

// ModelManager downloads and caches local embedder model weights, verifying
// each download's SHA-256 digest against an operator-supplied allowlist
// before it is ever loaded (§4.5 — local backend allowlist enforcement).
// A digest outside the allowlist is refused even if the download itself
// succeeded; agentsdb never trusts a model file it cannot pin.
type ModelManager struct {
	modelsDir string
	allowlist map[string]bool
	lock      *FileLock
	mu        sync.Mutex
}

// NewModelManager creates a new model manager. modelsDir is typically
// ~/.agentsdb/models/. allowlist holds lowercase hex SHA-256 digests of
// weight files permitted to load.
func NewModelManager(modelsDir string, allowlist []string) *ModelManager {
	set := make(map[string]bool, len(allowlist))
	for _, digest := range allowlist {
		set[digest] = true
	}
	return &ModelManager{
		modelsDir: modelsDir,
		allowlist: set,
	}
}

// ModelPath returns the path to the cached model weight file.
func (m *ModelManager) ModelPath(fileName string) string {
	return filepath.Join(m.modelsDir, fileName)
}

// EnsureModel ensures the named model file is present, downloading it from
// url if missing, and verifies its digest is on the allowlist. Returns the
// path to the verified model file.
func (m *ModelManager) EnsureModel(ctx context.Context, fileName, url string, progressFn func(downloaded, total int64)) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	modelPath := m.ModelPath(fileName)

	if digest, ok := m.existingDigest(modelPath); ok {
		if err := m.checkAllowlist(digest); err != nil {
			return "", err
		}
		return modelPath, nil
	}

	if err := os.MkdirAll(m.modelsDir, 0755); err != nil {
		return "", agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeBackendUnavailable, err, "create models directory %s", m.modelsDir)
	}

	m.lock = NewFileLock(m.modelsDir)
	if err := m.lock.Lock(); err != nil {
		return "", agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeBackendUnavailable, err, "acquire model download lock")
	}
	defer func() { _ = m.lock.Unlock() }()

	if digest, ok := m.existingDigest(modelPath); ok {
		if err := m.checkAllowlist(digest); err != nil {
			return "", err
		}
		return modelPath, nil
	}

	err := DownloadWithRetry(ctx, DefaultRetryConfig(), func() error {
		return m.downloadModel(ctx, modelPath, url, progressFn)
	})
	if err != nil {
		return "", agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeBackendUnavailable, err, "download model %s", fileName)
	}

	digest, err := sha256File(modelPath)
	if err != nil {
		return "", agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeBackendUnavailable, err, "hash downloaded model %s", fileName)
	}
	if err := m.checkAllowlist(digest); err != nil {
		_ = os.Remove(modelPath)
		return "", err
	}

	return modelPath, nil
}

// existingDigest returns the SHA-256 digest of an already-downloaded model
// file, or false if it is absent or empty.
func (m *ModelManager) existingDigest(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return "", false
	}
	digest, err := sha256File(path)
	if err != nil {
		return "", false
	}
	return digest, true
}

// checkAllowlist rejects an empty allowlist (nothing may load) or a digest
// not present in it.
func (m *ModelManager) checkAllowlist(digest string) error {
	if len(m.allowlist) == 0 {
		return agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeModelNotAllowed, nil, "local backend has no configured allowlist; refusing to load model with digest %s", digest)
	}
	if !m.allowlist[digest] {
		return agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeModelNotAllowed, nil, "model digest %s is not in the allowlist", digest)
	}
	return nil
}

// sha256File computes the lowercase hex SHA-256 digest of a file.
func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// downloadModel downloads a model file to destPath using an atomic
// temp-file-then-rename so a crash mid-download never leaves a partial file
// at the final path.
func (m *ModelManager) downloadModel(ctx context.Context, destPath, url string, progressFn func(downloaded, total int64)) error {
	tmpPath := destPath + ".tmp"
	defer os.Remove(tmpPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "agentsdb/1.0")

	client := &http.Client{Timeout: DefaultModelDownloadTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return agentsdberrors.EmbedErrorf(agentsdberrors.ErrCodeRemoteHTTP, nil, "model download failed with status %s", resp.Status)
	}

	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	defer file.Close()

	totalSize := resp.ContentLength

	var downloaded int64
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			downloaded += int64(n)
			if progressFn != nil {
				progressFn(downloaded, totalSize)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	if err := file.Sync(); err != nil {
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, destPath)
}

// ModelExists checks if a model file exists and is non-empty.
func (m *ModelManager) ModelExists(fileName string) bool {
	info, err := os.Stat(m.ModelPath(fileName))
	return err == nil && info.Size() > 0
}

// DeleteModel removes a cached model file.
func (m *ModelManager) DeleteModel(fileName string) error {
	return os.Remove(m.ModelPath(fileName))
}

// DefaultModelsDir returns the default local model weights directory.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".agentsdb", "models")
}
