package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// Backend represents the index backend type.
type Backend string

const (
	// BackendSQLite uses SQLite FTS5 (default).
	// Enables concurrent multi-process access via WAL mode.
	BackendSQLite Backend = "sqlite"

	// BackendBleve uses Bleve v2.
	// Has exclusive file locking via BoltDB - single process only.
	BackendBleve Backend = "bleve"
)

// sqliteFile is the database file name inside the data directory.
const sqliteFile = "indexes.db"

// NewTransport creates a Transport for backend rooted at dataDir.
//
// backend options:
//   - "sqlite" (default): dataDir/indexes.db holding one FTS5 table per index
//   - "bleve": dataDir/<index>.bleve directories
//
// If dataDir is empty, indexes live in memory (tests).
func NewTransport(dataDir string, backend string) (Transport, error) {
	switch Backend(backend) {
	case BackendSQLite, "":
		var path string
		if dataDir != "" {
			path = filepath.Join(dataDir, sqliteFile)
		}
		return NewSQLiteTransport(path)

	case BackendBleve:
		return NewBleveTransport(dataDir)

	default:
		return nil, fmt.Errorf("unknown index backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// DetectBackend reports which backend already holds data in dataDir.
// Returns an empty string if no index exists.
func DetectBackend(dataDir string) Backend {
	if fileExists(filepath.Join(dataDir, sqliteFile)) {
		return BackendSQLite
	}
	matches, _ := filepath.Glob(filepath.Join(dataDir, "*.bleve"))
	for _, m := range matches {
		if dirExists(m) {
			return BackendBleve
		}
	}
	return ""
}

// fileExists checks if a file exists at the given path.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// dirExists checks if a directory exists at the given path.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
