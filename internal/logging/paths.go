package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.relindex/logs/).
// Falls back to the temp directory if the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".relindex", "logs")
	}
	return filepath.Join(home, ".relindex", "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "relindex.log")
}
