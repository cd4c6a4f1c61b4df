package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.agentsdb/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".agentsdb", "logs")
	}
	return filepath.Join(home, ".agentsdb", "logs")
}

// DefaultLogPath returns the default store log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "agentsdb.log")
}

// LocalBackendLogPath returns the log path for the local embedder backend's
// own inference process (§4.5, "local" backend).
func LocalBackendLogPath() string {
	return filepath.Join(DefaultLogDir(), "local-embed.log")
}

// LogSource represents the source of logs to view.
type LogSource string

const (
	// LogSourceCore is the agentsdb core logs (default).
	LogSourceCore LogSource = "core"
	// LogSourceLocal is the local embedder backend's logs.
	LogSourceLocal LogSource = "local"
	// LogSourceAll combines all log sources.
	LogSourceAll LogSource = "all"
)

// FindLogFile attempts to find the log file for viewing.
// Priority:
// 1. Explicit path (if provided)
// 2. ~/.agentsdb/logs/agentsdb.log (global)
//
// Returns an error if no log file is found.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	globalPath := DefaultLogPath()
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", fmt.Errorf("no log file found.\nExpected at: %s", globalPath)
}

// FindLogFileBySource finds log files based on the source type.
// Returns a list of log file paths that exist.
func FindLogFileBySource(source LogSource, explicit string) ([]string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return []string{explicit}, nil
		}
		return nil, fmt.Errorf("log file not found: %s", explicit)
	}

	var paths []string
	var checked []string

	switch source {
	case LogSourceCore:
		corePath := DefaultLogPath()
		checked = append(checked, corePath)
		if _, err := os.Stat(corePath); err == nil {
			paths = append(paths, corePath)
		}

	case LogSourceLocal:
		localPath := LocalBackendLogPath()
		checked = append(checked, localPath)
		if _, err := os.Stat(localPath); err == nil {
			paths = append(paths, localPath)
		}

	case LogSourceAll:
		corePath := DefaultLogPath()
		localPath := LocalBackendLogPath()
		checked = append(checked, corePath, localPath)

		if _, err := os.Stat(corePath); err == nil {
			paths = append(paths, corePath)
		}
		if _, err := os.Stat(localPath); err == nil {
			paths = append(paths, localPath)
		}

	default:
		return nil, fmt.Errorf("unknown log source: %s (use: core, local, all)", source)
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("no log files found for source '%s'.\nChecked: %v", source, checked)
	}

	return paths, nil
}

// ParseLogSource parses a string into a LogSource.
func ParseLogSource(s string) LogSource {
	switch s {
	case "local":
		return LogSourceLocal
	case "all":
		return LogSourceAll
	default:
		return LogSourceCore
	}
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	dir := DefaultLogDir()
	return os.MkdirAll(dir, 0o755)
}
