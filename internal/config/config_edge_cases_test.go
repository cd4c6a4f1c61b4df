package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonMarshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func jsonUnmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// Edge Case Tests - These test scenarios that could cause silent failures
// or unexpected behavior.

// =============================================================================
// Config Merge Edge Cases
// =============================================================================

// TestLoad_MergeAllowlist_ReplacesNotAppends tests that a project config's
// allowlist replaces rather than appends to the user config's allowlist —
// the allowlist is a security boundary, not an additive list like excludes.
func TestLoad_MergeAllowlist_ReplacesNotAppends(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	agentsdbDir := filepath.Join(configDir, "agentsdb")
	require.NoError(t, os.MkdirAll(agentsdbDir, 0o755))
	userConfig := `
version: 1
embedding:
  allowlist:
    - "aaaa"
`
	require.NoError(t, os.WriteFile(filepath.Join(agentsdbDir, "config.yaml"), []byte(userConfig), 0o644))

	projectConfig := `
version: 1
embedding:
  allowlist:
    - "bbbb"
`
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".agentsdb.yaml"), []byte(projectConfig), 0o644))

	cfg, err := Load(projectDir)

	require.NoError(t, err)
	assert.Equal(t, []string{"bbbb"}, cfg.Embedding.Allowlist)
}

// TestLoad_ZeroValuesNotMerged tests that explicit zero values in config
// don't override defaults (potential silent failure).
func TestLoad_ZeroValuesNotMerged(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
embedding:
  dimensions: 0
  batch_size: 0
`
	err := os.WriteFile(filepath.Join(tmpDir, ".agentsdb.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Embedding.Dimensions, "zero should not override default dimensions")
	assert.Equal(t, 32, cfg.Embedding.BatchSize, "zero should not override default batch_size")
}

// TestLoad_NegativeBatchSize_Validated tests that a negative batch size is
// rejected by validation.
func TestLoad_NegativeBatchSize_Validated(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
embedding:
  batch_size: -10
`
	err := os.WriteFile(filepath.Join(tmpDir, ".agentsdb.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	require.Nil(t, cfg)
	assert.Contains(t, err.Error(), "batch_size must be non-negative")
}

// =============================================================================
// Config File Permission Edge Cases
// =============================================================================

// TestLoad_UnreadableConfigFile_ReturnsError tests that unreadable config
// files return an error.
func TestLoad_UnreadableConfigFile_ReturnsError(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("Test requires non-root user")
	}

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ".agentsdb.yaml")
	err := os.WriteFile(configPath, []byte("version: 1"), 0o000)
	require.NoError(t, err)
	defer func() { _ = os.Chmod(configPath, 0o644) }()

	cfg, err := Load(tmpDir)

	require.Error(t, err, "Load should fail for unreadable config file")
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "read", "Error should mention read failure")
}

// =============================================================================
// Config JSON Marshaling Edge Cases
// =============================================================================

// TestConfig_JSON_RoundTrip tests that config can be marshaled to JSON
// and back without data loss.
func TestConfig_JSON_RoundTrip(t *testing.T) {
	cfg := NewConfig()
	cfg.Embedding.Dimensions = 2000
	cfg.Embedding.Backend = "remote"
	cfg.Embedding.Model = "text-embed-3"
	cfg.Embedding.Allowlist = []string{"deadbeef"}

	data, err := jsonMarshal(cfg)
	require.NoError(t, err)

	var parsed Config
	err = jsonUnmarshal(data, &parsed)
	require.NoError(t, err)

	assert.Equal(t, 2000, parsed.Embedding.Dimensions)
	assert.Equal(t, "remote", parsed.Embedding.Backend)
	assert.Equal(t, "text-embed-3", parsed.Embedding.Model)
	assert.Equal(t, []string{"deadbeef"}, parsed.Embedding.Allowlist)
}

// TestConfig_UnmarshalJSON_InvalidJSON_ReturnsError tests that invalid JSON
// returns an error.
func TestConfig_UnmarshalJSON_InvalidJSON_ReturnsError(t *testing.T) {
	invalidJSON := []byte("{invalid json")

	var cfg Config
	err := jsonUnmarshal(invalidJSON, &cfg)

	require.Error(t, err, "Unmarshal should fail for invalid JSON")
}

// =============================================================================
// Cache Config Edge Cases
// =============================================================================

// TestNewConfig_CacheDir_UsesHomeDir tests that the cache directory defaults
// to a path under the home directory.
func TestNewConfig_CacheDir_UsesHomeDir(t *testing.T) {
	cfg := NewConfig()

	assert.NotEmpty(t, cfg.Cache.Dir)
	assert.Contains(t, cfg.Cache.Dir, "cache")
}

// TestNewConfig_CacheEnabled_DefaultsToTrue tests that cache.enabled defaults to true.
func TestNewConfig_CacheEnabled_DefaultsToTrue(t *testing.T) {
	cfg := NewConfig()

	assert.True(t, cfg.Cache.Enabled)
}
