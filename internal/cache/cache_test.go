package cache

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rescale/runwatch/internal/models"
)

func sampleDoc(name, path string) *models.RunDocument {
	doc := &models.RunDocument{
		RunName:        name,
		FullPath:       path,
		SequencerName:  "INSTR",
		ContainerID:    "AAAA",
		CompletionDate: "01/02/2015,10:11:12",
	}
	models.SetInt(&doc.NumCycles, 300)
	return doc
}

// stores returns one fresh instance of every backend.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	file, err := Open(BackendFile, filepath.Join(dir, "cache.json"), nil)
	if err != nil {
		t.Fatalf("Open file store: %v", err)
	}
	sqlite, err := Open(BackendSQLite, filepath.Join(dir, "cache.db"), nil)
	if err != nil {
		t.Fatalf("Open sqlite store: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		BackendMemory: NewMemoryStore(),
		BackendFile:   file,
		BackendSQLite: sqlite,
	}
}

func TestStore_PutGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok := s.Get("run1"); ok {
				t.Error("Empty store should miss")
			}
			if err := s.Put("run1", sampleDoc("run1", "/a/run1")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			doc, ok := s.Get("run1")
			if !ok {
				t.Fatal("Expected cache hit")
			}
			if doc.FullPath != "/a/run1" || doc.Cycles() != 300 || doc.SequencerName != "INSTR" {
				t.Errorf("Unexpected cached document: %+v", doc)
			}
			if s.Len() != 1 {
				t.Errorf("Expected 1 entry, got %d", s.Len())
			}
		})
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s.Put("run1", sampleDoc("run1", "/a/run1"))
			doc, _ := s.Get("run1")
			doc.FullPath = "/mutated"

			again, _ := s.Get("run1")
			if again.FullPath != "/a/run1" {
				t.Error("Mutating a returned document changed the cache")
			}
		})
	}
}

func TestStore_PatchPath(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.PatchPath("missing", "/x"); !errors.Is(err, ErrNotCached) {
				t.Errorf("Expected ErrNotCached, got %v", err)
			}

			original := sampleDoc("run1", "/a/run1")
			s.Put("run1", original)

			changed, err := s.PatchPath("run1", "/a/run1")
			if err != nil || changed {
				t.Errorf("Same path should not change: changed=%v err=%v", changed, err)
			}

			changed, err = s.PatchPath("run1", "/archive/run1")
			if err != nil || !changed {
				t.Fatalf("Expected path change: changed=%v err=%v", changed, err)
			}

			doc, _ := s.Get("run1")
			if doc.FullPath != "/archive/run1" {
				t.Errorf("Expected patched path, got %s", doc.FullPath)
			}
			original.FullPath = "/archive/run1"
			want, _ := original.Marshal()
			got, _ := doc.Marshal()
			if string(want) != string(got) {
				t.Errorf("Only fullPath may change:\nwant %s\ngot  %s", want, got)
			}
		})
	}
}

func TestStore_Names(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s.Put("b", sampleDoc("b", "/b"))
			s.Put("a", sampleDoc("a", "/a"))
			names := s.Names()
			if len(names) != 2 || names[0] != "a" || names[1] != "b" {
				t.Errorf("Expected [a b], got %v", names)
			}
		})
	}
}

func TestStore_ConcurrentPut(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					run := fmt.Sprintf("run%02d", i)
					if err := s.Put(run, sampleDoc(run, "/p/"+run)); err != nil {
						t.Errorf("Put %s failed: %v", run, err)
					}
					s.Get(run)
				}(i)
			}
			wg.Wait()
			if s.Len() != 20 {
				t.Errorf("Expected 20 entries, got %d", s.Len())
			}
		})
	}
}

func TestFileStore_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "cache.json")

	s := NewFileStore(path, nil)
	if err := s.Load(); err != nil {
		t.Fatalf("Load on missing file failed: %v", err)
	}
	s.Put("run1", sampleDoc("run1", "/a/run1"))
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	s2 := NewFileStore(path, nil)
	if err := s2.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	doc, ok := s2.Get("run1")
	if !ok || doc.FullPath != "/a/run1" {
		t.Errorf("Expected persisted run1, got %+v", doc)
	}
}

func TestSQLiteStore_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	s.Put("run1", sampleDoc("run1", "/a/run1"))
	s.Close()

	s2, err := NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer s2.Close()
	if _, ok := s2.Get("run1"); !ok {
		t.Error("Expected run1 to survive reopen")
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open("redis", "", nil); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Expected ErrUnknownBackend, got %v", err)
	}
	if _, err := Open(BackendFile, "", nil); err == nil {
		t.Error("File backend without path should fail")
	}
	if _, err := Open(BackendSQLite, "", nil); err == nil {
		t.Error("SQLite backend without path should fail")
	}
}
