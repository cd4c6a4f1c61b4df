package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the process-level agentsdb configuration. It supplies
// embedding and cache defaults used only when no layer carries an options
// chunk for a given leaf key (§4.4) — a fresh store with no options chunks
// still opens with sane embedding defaults without a bootstrap write.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// EmbeddingConfig configures the default embedder backend (§4.5).
type EmbeddingConfig struct {
	// Backend selects the embedder: "hash" (deterministic, default),
	// "local" (on-device/loopback HTTP), or "remote" (HTTP provider).
	Backend string `yaml:"backend" json:"backend"`
	Model   string `yaml:"model" json:"model"`
	// Revision disambiguates retrained weights under the same model name.
	Revision   string `yaml:"revision" json:"revision"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`

	// LocalEndpoint is the loopback inference server used by the "local" backend.
	LocalEndpoint string `yaml:"local_endpoint" json:"local_endpoint"`
	// RemoteEndpoint is the HTTP provider used by the "remote" backend.
	RemoteEndpoint string `yaml:"remote_endpoint" json:"remote_endpoint"`
	// APIKeyEnv names the environment variable holding the remote provider's API key.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	// Allowlist is the set of SHA-256 digests of model weights the "local"
	// backend is permitted to load.
	Allowlist            []string      `yaml:"allowlist" json:"allowlist"`
	ModelDownloadTimeout time.Duration `yaml:"model_download_timeout" json:"model_download_timeout"`
	BatchSize            int           `yaml:"batch_size" json:"batch_size"`

	// ModelsDir caches local backend weight files; empty means
	// embed.DefaultModelsDir(). ModelFileName/ModelURL are only consulted
	// when the "local" backend manages its own weights file rather than
	// assuming the inference server already has it loaded.
	ModelsDir     string `yaml:"models_dir" json:"models_dir"`
	ModelFileName string `yaml:"model_file_name" json:"model_file_name"`
	ModelURL      string `yaml:"model_url" json:"model_url"`
}

// CacheConfig configures the content-addressed embedding cache (§4.5).
type CacheConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Dir is the on-disk cache directory. It is carried into the rolled-up
	// options as embedding.cache_dir; embed.CachedEmbedder keeps vectors in
	// the in-process LRU only and does not read or write this directory.
	Dir string `yaml:"dir" json:"dir"`
	// MaxEntries bounds the in-process LRU (github.com/hashicorp/golang-lru/v2).
	MaxEntries int `yaml:"max_entries" json:"max_entries"`
}

// LoggingConfig configures structured logging (internal/logging).
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Embedding: EmbeddingConfig{
			Backend:              "hash",
			Model:                "",
			Revision:             "",
			Dimensions:           256,
			LocalEndpoint:        "http://localhost:11434",
			RemoteEndpoint:       "",
			APIKeyEnv:            "",
			Allowlist:            nil,
			ModelDownloadTimeout: 10 * time.Minute,
			BatchSize:            32,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Dir:        defaultCacheDir(),
			MaxEntries: 4096,
		},
		Logging: LoggingConfig{
			Level:    "info",
			FilePath: "",
		},
	}
}

// defaultCacheDir returns the default on-disk embedding cache directory.
func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".agentsdb", "cache")
	}
	return filepath.Join(home, ".agentsdb", "cache")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/agentsdb/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/agentsdb/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentsdb", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "agentsdb", "config.yaml")
	}
	return filepath.Join(home, ".config", "agentsdb", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory. It applies
// configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/agentsdb/config.yaml)
//  3. Project config (.agentsdb.yaml in dir)
//  4. Environment variables (AGENTSDB_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .agentsdb.yaml or .agentsdb.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".agentsdb.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".agentsdb.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Embedding.Backend != "" {
		c.Embedding.Backend = other.Embedding.Backend
	}
	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.Revision != "" {
		c.Embedding.Revision = other.Embedding.Revision
	}
	if other.Embedding.Dimensions != 0 {
		c.Embedding.Dimensions = other.Embedding.Dimensions
	}
	if other.Embedding.LocalEndpoint != "" {
		c.Embedding.LocalEndpoint = other.Embedding.LocalEndpoint
	}
	if other.Embedding.RemoteEndpoint != "" {
		c.Embedding.RemoteEndpoint = other.Embedding.RemoteEndpoint
	}
	if other.Embedding.APIKeyEnv != "" {
		c.Embedding.APIKeyEnv = other.Embedding.APIKeyEnv
	}
	if len(other.Embedding.Allowlist) > 0 {
		c.Embedding.Allowlist = other.Embedding.Allowlist
	}
	if other.Embedding.ModelDownloadTimeout != 0 {
		c.Embedding.ModelDownloadTimeout = other.Embedding.ModelDownloadTimeout
	}
	if other.Embedding.BatchSize != 0 {
		c.Embedding.BatchSize = other.Embedding.BatchSize
	}
	if other.Embedding.ModelsDir != "" {
		c.Embedding.ModelsDir = other.Embedding.ModelsDir
	}
	if other.Embedding.ModelFileName != "" {
		c.Embedding.ModelFileName = other.Embedding.ModelFileName
	}
	if other.Embedding.ModelURL != "" {
		c.Embedding.ModelURL = other.Embedding.ModelURL
	}

	if other.Cache.Dir != "" {
		c.Cache.Dir = other.Cache.Dir
	}
	if other.Cache.MaxEntries != 0 {
		c.Cache.MaxEntries = other.Cache.MaxEntries
	}
	// Enabled can be explicitly set to false, so only merge if the rest of
	// the cache block was present.
	if other.Cache.Dir != "" || other.Cache.MaxEntries != 0 {
		c.Cache.Enabled = other.Cache.Enabled
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = other.Logging.FilePath
	}
}

// applyEnvOverrides applies AGENTSDB_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AGENTSDB_EMBEDDING_BACKEND"); v != "" {
		c.Embedding.Backend = v
	}
	if v := os.Getenv("AGENTSDB_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("AGENTSDB_EMBEDDING_REVISION"); v != "" {
		c.Embedding.Revision = v
	}
	if v := os.Getenv("AGENTSDB_EMBEDDING_DIMENSIONS"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			c.Embedding.Dimensions = d
		}
	}
	if v := os.Getenv("AGENTSDB_LOCAL_ENDPOINT"); v != "" {
		c.Embedding.LocalEndpoint = v
	}
	if v := os.Getenv("AGENTSDB_REMOTE_ENDPOINT"); v != "" {
		c.Embedding.RemoteEndpoint = v
	}
	if v := os.Getenv("AGENTSDB_API_KEY_ENV"); v != "" {
		c.Embedding.APIKeyEnv = v
	}
	if v := os.Getenv("AGENTSDB_CACHE_ENABLED"); v != "" {
		c.Cache.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("AGENTSDB_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv("AGENTSDB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	validBackends := map[string]bool{"hash": true, "local": true, "remote": true}
	if !validBackends[strings.ToLower(c.Embedding.Backend)] {
		return fmt.Errorf("embedding.backend must be 'hash', 'local', or 'remote', got %s", c.Embedding.Backend)
	}

	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}

	if c.Embedding.BatchSize < 0 {
		return fmt.Errorf("embedding.batch_size must be non-negative, got %d", c.Embedding.BatchSize)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// MergeNewDefaults adds new default fields while preserving existing values.
// Returns a list of field names that were added with their default values.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Embedding.Dimensions == 0 {
		c.Embedding.Dimensions = defaults.Embedding.Dimensions
		added = append(added, "embedding.dimensions")
	}
	if c.Embedding.ModelDownloadTimeout == 0 {
		c.Embedding.ModelDownloadTimeout = defaults.Embedding.ModelDownloadTimeout
		added = append(added, "embedding.model_download_timeout")
	}
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = defaults.Embedding.BatchSize
		added = append(added, "embedding.batch_size")
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = defaults.Cache.MaxEntries
		added = append(added, "cache.max_entries")
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = defaults.Cache.Dir
		added = append(added, "cache.dir")
	}

	return added
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
