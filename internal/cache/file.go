package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/runwatch/internal/logging"
	"github.com/rescale/runwatch/internal/models"
)

const snapshotVersion = "1.0.0"

// snapshotFile is the on-disk format of a FileStore.
type snapshotFile struct {
	Version string                     `json:"version"`
	SavedAt time.Time                  `json:"saved_at"`
	Runs    map[string]json.RawMessage `json:"runs"`
}

// FileStore is a MemoryStore persisted as a JSON snapshot. Flush writes the
// snapshot atomically (temp file + rename) when something changed.
type FileStore struct {
	*MemoryStore
	filePath string
	log      *logging.Logger
	dirty    atomic.Bool
	saveMu   sync.Mutex
}

// NewFileStore creates a store backed by filePath. Call Load to read an
// existing snapshot.
func NewFileStore(filePath string, log *logging.Logger) *FileStore {
	return &FileStore{
		MemoryStore: NewMemoryStore(),
		filePath:    filePath,
		log:         logging.OrNop(log),
	}
}

// Path returns the snapshot location.
func (s *FileStore) Path() string { return s.filePath }

// Load reads the snapshot. A missing file yields an empty cache.
func (s *FileStore) Load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.replace(make(map[string][]byte))
			return nil
		}
		return fmt.Errorf("failed to read cache file: %w", err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse cache file: %w", err)
	}
	runs := make(map[string][]byte, len(snap.Runs))
	for name, raw := range snap.Runs {
		runs[name] = []byte(raw)
	}
	s.replace(runs)
	s.dirty.Store(false)
	s.log.Debug().Str("path", s.filePath).Int("runs", len(runs)).Msg("loaded completion cache")
	return nil
}

func (s *FileStore) Put(runName string, doc *models.RunDocument) error {
	if err := s.MemoryStore.Put(runName, doc); err != nil {
		return err
	}
	s.dirty.Store(true)
	return nil
}

func (s *FileStore) PatchPath(runName, path string) (bool, error) {
	changed, err := s.MemoryStore.PatchPath(runName, path)
	if changed {
		s.dirty.Store(true)
	}
	return changed, err
}

// Flush writes the snapshot if the cache changed since the last flush.
func (s *FileStore) Flush() error {
	if !s.dirty.Load() {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	// Clear before snapshotting so concurrent Puts re-mark the store
	s.dirty.Store(false)
	if err := s.save(); err != nil {
		s.dirty.Store(true)
		return err
	}
	return nil
}

// Close flushes pending changes.
func (s *FileStore) Close() error {
	return s.Flush()
}

func (s *FileStore) save() error {
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	raw := s.snapshot()
	snap := snapshotFile{
		Version: snapshotVersion,
		SavedAt: time.Now().UTC(),
		Runs:    make(map[string]json.RawMessage, len(raw)),
	}
	for name, data := range raw {
		snap.Runs[name] = json.RawMessage(data)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	// Write to temp file first, then rename for atomicity
	tmpFile := s.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmpFile, s.filePath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	s.log.Debug().Str("path", s.filePath).Int("runs", len(raw)).Msg("saved completion cache")
	return nil
}
