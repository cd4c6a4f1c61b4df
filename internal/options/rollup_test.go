package options_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsdb/agentsdb/internal/config"
	"github.com/agentsdb/agentsdb/internal/layer"
	"github.com/agentsdb/agentsdb/internal/options"
	"github.com/agentsdb/agentsdb/internal/writer"
)

func buildOptionsLayer(t *testing.T, name string, contents ...string) *layer.Handle {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	chunks := make([]writer.NewChunk, len(contents))
	for i, c := range contents {
		chunks[i] = writer.NewChunk{Kind: options.OptionsKind, Content: c}
	}
	_, err := writer.Append(path, chunks, writer.Options{AllowBaseWrite: filepath.Base(path) == writer.BaseLayerFileName})
	require.NoError(t, err)

	h, err := layer.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestRollUp_DeepMergesAcrossPrecedence(t *testing.T) {
	base := buildOptionsLayer(t, "AGENTS.db", `{"embedding":{"backend":"hash","dim":256}}`)
	user := buildOptionsLayer(t, "AGENTS.user.db", `{"embedding":{"model":"my-model","allowlist":{"my-model":{"revision":"v1","sha256":"abc"}}}}`)

	// Highest precedence first: local > user > delta > base.
	opts, prov, err := options.RollUp([]*layer.Handle{user, base})
	require.NoError(t, err)

	assert.Equal(t, "hash", opts.Embedding.Backend)
	assert.Equal(t, 256, opts.Embedding.Dim)
	assert.Equal(t, "my-model", opts.Embedding.Model)
	require.Contains(t, opts.Embedding.Allowlist, "my-model")
	assert.Equal(t, "v1", opts.Embedding.Allowlist["my-model"].Revision)

	assert.Equal(t, base.Path(), prov["embedding.backend"])
	assert.Equal(t, user.Path(), prov["embedding.model"])
}

func TestRollUp_HigherPrecedenceOverridesScalar(t *testing.T) {
	base := buildOptionsLayer(t, "AGENTS.db", `{"embedding":{"backend":"hash","dim":256}}`)
	local := buildOptionsLayer(t, "AGENTS.local.db", `{"embedding":{"backend":"remote"}}`)

	opts, prov, err := options.RollUp([]*layer.Handle{local, base})
	require.NoError(t, err)

	assert.Equal(t, "remote", opts.Embedding.Backend)
	assert.Equal(t, 256, opts.Embedding.Dim)
	assert.Equal(t, local.Path(), prov["embedding.backend"])
}

func TestRollUp_NoOptionsChunks_ReturnsEmptyDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AGENTS.db")
	_, err := writer.Append(path, []writer.NewChunk{{Kind: "note", Content: "x"}}, writer.Options{AllowBaseWrite: true})
	require.NoError(t, err)

	h, err := layer.Open(path)
	require.NoError(t, err)
	defer h.Close()

	opts, prov, err := options.RollUp([]*layer.Handle{h})
	require.NoError(t, err)
	assert.Equal(t, "", opts.Embedding.Backend)
	assert.Empty(t, prov)
}

func TestApplyConfigDefaults_FillsUnsetLeavesOnly(t *testing.T) {
	opts := &options.EffectiveOptions{}
	opts.Embedding.Backend = "remote" // already set by a layer

	prov := options.Provenance{}
	cfg := config.NewConfig()
	options.ApplyConfigDefaults(opts, prov, cfg)

	assert.Equal(t, "remote", opts.Embedding.Backend) // untouched
	assert.Equal(t, cfg.Embedding.Dimensions, opts.Embedding.Dim)
	assert.Equal(t, "config", prov["embedding.dim"])
	assert.NotContains(t, prov, "embedding.backend")
}
