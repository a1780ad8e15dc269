package cache

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rescale/runwatch/internal/models"
)

// MemoryStore keeps serialized documents in a map.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string][]byte)}
}

func (s *MemoryStore) Get(runName string) (*models.RunDocument, bool) {
	s.mu.RLock()
	data, ok := s.runs[runName]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	doc, err := models.UnmarshalRunDocument(data)
	if err != nil {
		return nil, false
	}
	return doc, true
}

func (s *MemoryStore) Put(runName string, doc *models.RunDocument) error {
	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize run %s: %w", runName, err)
	}
	s.mu.Lock()
	s.runs[runName] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) PatchPath(runName, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.runs[runName]
	if !ok {
		return false, ErrNotCached
	}
	doc, err := models.UnmarshalRunDocument(data)
	if err != nil {
		return false, fmt.Errorf("failed to parse cached run %s: %w", runName, err)
	}
	if doc.FullPath == path {
		return false, nil
	}
	doc.FullPath = path
	if data, err = doc.Marshal(); err != nil {
		return false, err
	}
	s.runs[runName] = data
	return true, nil
}

func (s *MemoryStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.runs))
	for name := range s.runs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

func (s *MemoryStore) Flush() error { return nil }
func (s *MemoryStore) Close() error { return nil }

// snapshot returns a copy of the raw entries.
func (s *MemoryStore) snapshot() map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.runs))
	for k, v := range s.runs {
		out[k] = v
	}
	return out
}

// replace swaps in a full set of raw entries.
func (s *MemoryStore) replace(runs map[string][]byte) {
	s.mu.Lock()
	s.runs = runs
	s.mu.Unlock()
}
