package embed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"
)

func TestModelManager_EnsureModel_DownloadsAndVerifiesAgainstAllowlist(t *testing.T) {
	body := []byte("pretend-model-weights")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()

	// First call with an empty allowlist: download succeeds but the digest
	// is rejected and the partial file is removed.
	mgr := NewModelManager(dir, nil)
	_, err := mgr.EnsureModel(context.Background(), "weights.bin", srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, agentsdberrors.ErrCodeModelNotAllowed, agentsdberrors.GetCode(err))
	assert.False(t, mgr.ModelExists("weights.bin"))

	// Compute the real digest out-of-band and retry with it allowlisted.
	refPath := filepath.Join(t.TempDir(), "ref.bin")
	require.NoError(t, os.WriteFile(refPath, body, 0o644))
	digest, err := sha256File(refPath)
	require.NoError(t, err)

	mgr2 := NewModelManager(dir, []string{digest})
	path, err := mgr2.EnsureModel(context.Background(), "weights.bin", srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "weights.bin"), path)
	assert.True(t, mgr2.ModelExists("weights.bin"))

	require.NoError(t, mgr2.DeleteModel("weights.bin"))
	assert.False(t, mgr2.ModelExists("weights.bin"))
}

func TestModelManager_EnsureModel_RetriesTransientDownloadFailure(t *testing.T) {
	body := []byte("retried-model-weights")
	var attempts int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	refPath := filepath.Join(t.TempDir(), "ref.bin")
	require.NoError(t, os.WriteFile(refPath, body, 0o644))
	digest, err := sha256File(refPath)
	require.NoError(t, err)

	dir := t.TempDir()
	mgr := NewModelManager(dir, []string{digest})
	path, err := mgr.EnsureModel(context.Background(), "weights.bin", srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "weights.bin"), path)
	assert.Equal(t, int32(2), attempts, "download should have been retried once before succeeding")
}

func TestModelManager_EnsureModel_CachedFileSkipsDownload(t *testing.T) {
	body := []byte("already-cached-weights")
	dir := t.TempDir()

	cachedPath := filepath.Join(dir, "weights.bin")
	require.NoError(t, os.WriteFile(cachedPath, body, 0o644))
	digest, err := sha256File(cachedPath)
	require.NoError(t, err)

	mgr := NewModelManager(dir, []string{digest})
	// No server is reachable at this URL; EnsureModel must not need it
	// because the file is already cached with an allowlisted digest.
	path, err := mgr.EnsureModel(context.Background(), "weights.bin", "http://127.0.0.1:1/unreachable", nil)
	require.NoError(t, err)
	assert.Equal(t, cachedPath, path)
}
