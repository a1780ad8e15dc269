// Package cache remembers the run documents of Completed runs so later scans
// skip re-deriving them. Presence of a run name means the run is Completed;
// absence only means it is not known to be complete yet.
package cache

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rescale/runwatch/internal/logging"
	"github.com/rescale/runwatch/internal/models"
)

// Store is a completion cache keyed by run name. Implementations are safe
// for concurrent use and never evict entries on their own.
type Store interface {
	// Get returns a copy of the cached document.
	Get(runName string) (*models.RunDocument, bool)
	// Put stores doc under runName, replacing any previous entry.
	Put(runName string, doc *models.RunDocument) error
	// PatchPath updates only fullPath of a cached document. It reports
	// whether the stored path changed.
	PatchPath(runName, path string) (bool, error)
	// Names returns the cached run names, sorted.
	Names() []string
	// Len returns the number of cached runs.
	Len() int
	// Flush persists pending changes, if the store has a backing file.
	Flush() error
	// Close releases resources. The store must not be used afterwards.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// ErrUnknownBackend is returned by Open for an unrecognised backend name.
var ErrUnknownBackend = errors.New("unknown cache backend")

// ErrNotCached is returned by PatchPath for a run that is not in the cache.
var ErrNotCached = errors.New("run not cached")

// Open creates the store for backend. path is required for file and sqlite.
func Open(backend, path string, log *logging.Logger) (Store, error) {
	switch strings.ToLower(backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		if path == "" {
			return nil, fmt.Errorf("file cache: path is required")
		}
		s := NewFileStore(path, log)
		if err := s.Load(); err != nil {
			return nil, err
		}
		return s, nil
	case BackendSQLite:
		if path == "" {
			return nil, fmt.Errorf("sqlite cache: path is required")
		}
		return NewSQLiteStore(path, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
