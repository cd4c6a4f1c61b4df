package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBackupUserConfig(t *testing.T) {
	tmpDir := t.TempDir()

	origXDG := os.Getenv("XDG_CONFIG_HOME")
	os.Setenv("XDG_CONFIG_HOME", tmpDir)
	defer os.Setenv("XDG_CONFIG_HOME", origXDG)

	configDir := filepath.Join(tmpDir, "agentsdb")
	configPath := filepath.Join(configDir, "config.yaml")

	t.Run("no config exists", func(t *testing.T) {
		backupPath, err := BackupUserConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if backupPath != "" {
			t.Errorf("expected empty backup path for non-existent config, got %s", backupPath)
		}
	})

	t.Run("backup existing config", func(t *testing.T) {
		if err := os.MkdirAll(configDir, 0755); err != nil {
			t.Fatalf("failed to create config dir: %v", err)
		}
		testContent := "version: 1\nembedding:\n  backend: local\n"
		if err := os.WriteFile(configPath, []byte(testContent), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		backupPath, err := BackupUserConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if backupPath == "" {
			t.Fatal("expected non-empty backup path")
		}

		backupContent, err := os.ReadFile(backupPath)
		if err != nil {
			t.Fatalf("failed to read backup: %v", err)
		}
		if string(backupContent) != testContent {
			t.Errorf("backup content mismatch:\ngot: %s\nwant: %s", backupContent, testContent)
		}

		if !filepath.IsAbs(backupPath) {
			t.Errorf("backup path should be absolute: %s", backupPath)
		}
	})
}

func TestListUserConfigBackups(t *testing.T) {
	tmpDir := t.TempDir()

	origXDG := os.Getenv("XDG_CONFIG_HOME")
	os.Setenv("XDG_CONFIG_HOME", tmpDir)
	defer os.Setenv("XDG_CONFIG_HOME", origXDG)

	configDir := filepath.Join(tmpDir, "agentsdb")
	configPath := filepath.Join(configDir, "config.yaml")

	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}

	t.Run("no backups exist", func(t *testing.T) {
		backups, err := ListUserConfigBackups()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(backups) != 0 {
			t.Errorf("expected 0 backups, got %d", len(backups))
		}
	})

	t.Run("list multiple backups", func(t *testing.T) {
		timestamps := []string{"20260101-100000", "20260101-110000", "20260101-120000"}
		for _, ts := range timestamps {
			backupName := filepath.Join(configDir, "config.yaml.bak."+ts)
			if err := os.WriteFile(backupName, []byte("test"), 0644); err != nil {
				t.Fatalf("failed to create backup: %v", err)
			}
			time.Sleep(10 * time.Millisecond)
		}

		backups, err := ListUserConfigBackups()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(backups) != 3 {
			t.Errorf("expected 3 backups, got %d", len(backups))
		}

		for i := 1; i < len(backups); i++ {
			info1, _ := os.Stat(backups[i-1])
			info2, _ := os.Stat(backups[i])
			if info1.ModTime().Before(info2.ModTime()) {
				t.Errorf("backups not sorted correctly: %s before %s", backups[i-1], backups[i])
			}
		}
	})

	t.Run("cleanup old backups", func(t *testing.T) {
		if err := os.WriteFile(configPath, []byte("version: 1"), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		for i := 0; i < 4; i++ {
			_, err := BackupUserConfig()
			if err != nil {
				t.Fatalf("failed to create backup: %v", err)
			}
			time.Sleep(10 * time.Millisecond)
		}

		backups, err := ListUserConfigBackups()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(backups) > MaxBackups {
			t.Errorf("expected at most %d backups, got %d", MaxBackups, len(backups))
		}
	})
}

func TestMergeNewDefaults(t *testing.T) {
	t.Run("adds missing embedding fields", func(t *testing.T) {
		cfg := &Config{
			Version: 1,
			Embedding: EmbeddingConfig{
				Backend: "local",
				Model:   "test-model",
				// Dimensions, ModelDownloadTimeout, BatchSize are 0 (not set)
			},
		}

		added := cfg.MergeNewDefaults()

		if cfg.Embedding.Dimensions != 256 {
			t.Errorf("Dimensions should be 256, got %d", cfg.Embedding.Dimensions)
		}
		if cfg.Embedding.ModelDownloadTimeout != 10*time.Minute {
			t.Errorf("ModelDownloadTimeout should be 10m, got %v", cfg.Embedding.ModelDownloadTimeout)
		}
		if cfg.Embedding.BatchSize != 32 {
			t.Errorf("BatchSize should be 32, got %d", cfg.Embedding.BatchSize)
		}

		hasDim, hasTimeout, hasBatch := false, false, false
		for _, field := range added {
			switch field {
			case "embedding.dimensions":
				hasDim = true
			case "embedding.model_download_timeout":
				hasTimeout = true
			case "embedding.batch_size":
				hasBatch = true
			}
		}
		if !hasDim {
			t.Error("should report embedding.dimensions as added")
		}
		if !hasTimeout {
			t.Error("should report embedding.model_download_timeout as added")
		}
		if !hasBatch {
			t.Error("should report embedding.batch_size as added")
		}
	})

	t.Run("adds missing cache fields", func(t *testing.T) {
		cfg := &Config{
			Version: 1,
			Embedding: EmbeddingConfig{
				Backend:              "hash",
				Dimensions:           256,
				ModelDownloadTimeout: 10 * time.Minute,
				BatchSize:            32,
			},
		}

		added := cfg.MergeNewDefaults()

		if cfg.Cache.MaxEntries != 4096 {
			t.Error("MaxEntries should be set to default")
		}
		if cfg.Cache.Dir == "" {
			t.Error("Dir should be set to default")
		}

		hasMaxEntries, hasDir := false, false
		for _, field := range added {
			if field == "cache.max_entries" {
				hasMaxEntries = true
			}
			if field == "cache.dir" {
				hasDir = true
			}
		}
		if !hasMaxEntries {
			t.Error("should report cache.max_entries as added")
		}
		if !hasDir {
			t.Error("should report cache.dir as added")
		}
	})

	t.Run("preserves existing values", func(t *testing.T) {
		cfg := &Config{
			Version: 1,
			Embedding: EmbeddingConfig{
				Backend:              "remote",
				Dimensions:           1536, // Custom value
				ModelDownloadTimeout: 5 * time.Minute,
				BatchSize:            16, // Custom value
			},
			Cache: CacheConfig{
				Dir:        "/custom/cache",
				MaxEntries: 8192, // Custom value
			},
		}

		added := cfg.MergeNewDefaults()

		if cfg.Embedding.Dimensions != 1536 {
			t.Errorf("Dimensions changed from 1536 to %d", cfg.Embedding.Dimensions)
		}
		if cfg.Embedding.BatchSize != 16 {
			t.Errorf("BatchSize changed from 16 to %d", cfg.Embedding.BatchSize)
		}
		if cfg.Cache.MaxEntries != 8192 {
			t.Errorf("MaxEntries changed from 8192 to %d", cfg.Cache.MaxEntries)
		}

		for _, field := range added {
			if field == "embedding.dimensions" || field == "embedding.batch_size" || field == "cache.max_entries" {
				t.Errorf("should not report %s as added (was already set)", field)
			}
		}
	})

	t.Run("returns empty for complete config", func(t *testing.T) {
		cfg := NewConfig()

		added := cfg.MergeNewDefaults()

		if len(added) != 0 {
			t.Errorf("expected 0 added fields for complete config, got %v", added)
		}
	})
}

func TestWriteYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := &Config{
		Version: 1,
		Embedding: EmbeddingConfig{
			Backend: "local",
			Model:   "test-model",
		},
	}

	if err := cfg.WriteYAML(configPath); err != nil {
		t.Fatalf("failed to write YAML: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read written file: %v", err)
	}
	if len(data) == 0 {
		t.Error("written file is empty")
	}

	content := string(data)
	if !contains(content, "backend: local") {
		t.Error("written file should contain backend: local")
	}
	if !contains(content, "model: test-model") {
		t.Error("written file should contain model: test-model")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(s) > 0 && containsHelper(s, substr))
}

func containsHelper(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
