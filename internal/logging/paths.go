package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.amanrag/logs, or a temp dir when home is unknown.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanrag", "logs")
	}
	return filepath.Join(home, ".amanrag", "logs")
}

// DefaultLogPath returns the CLI log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "amanrag.log")
}

// ServeLogPath returns the log path used by `amanrag serve`.
func ServeLogPath() string {
	return filepath.Join(DefaultLogDir(), "serve.log")
}

// LogSource selects which log files `amanrag logs` reads.
type LogSource string

const (
	LogSourceCLI   LogSource = "cli"
	LogSourceServe LogSource = "serve"
	LogSourceAll   LogSource = "all"
)

// ParseLogSource parses s, defaulting to LogSourceServe.
func ParseLogSource(s string) (LogSource, error) {
	switch s {
	case "", string(LogSourceServe):
		return LogSourceServe, nil
	case string(LogSourceCLI):
		return LogSourceCLI, nil
	case string(LogSourceAll):
		return LogSourceAll, nil
	default:
		return "", fmt.Errorf("unknown log source %q (use: cli, serve, all)", s)
	}
}

// FindLogFiles returns the existing log files for source. An explicit path
// takes precedence over the source.
func FindLogFiles(source LogSource, explicit string) ([]string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("log file not found: %s", explicit)
		}
		return []string{explicit}, nil
	}

	var candidates []string
	switch source {
	case LogSourceCLI:
		candidates = []string{DefaultLogPath()}
	case LogSourceServe:
		candidates = []string{ServeLogPath()}
	case LogSourceAll:
		candidates = []string{DefaultLogPath(), ServeLogPath()}
	default:
		return nil, fmt.Errorf("unknown log source: %s", source)
	}

	var found []string
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			found = append(found, p)
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no log files found for source %q\nchecked: %v\nhint: run `amanrag serve` or pass --log-file", source, candidates)
	}
	return found, nil
}

// sourceFromPath labels a file for merged views.
func sourceFromPath(path string) string {
	switch filepath.Base(path) {
	case filepath.Base(DefaultLogPath()):
		return string(LogSourceCLI)
	case filepath.Base(ServeLogPath()):
		return string(LogSourceServe)
	default:
		return "file"
	}
}
