package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rescale/runwatch/internal/cache"
	"github.com/rescale/runwatch/internal/testutil"
)

type stubDecoder struct {
	calls atomic.Int32
	fail  bool
}

func (d *stubDecoder) Decode(runDir string) (json.RawMessage, error) {
	d.calls.Add(1)
	if d.fail {
		return nil, errors.New("bad metrics")
	}
	return json.RawMessage(`{"run":"` + filepath.Base(runDir) + `"}`), nil
}

func TestScanInterOp_UncachedRuns(t *testing.T) {
	root := t.TempDir()
	a := running(t, root, "run-a")
	b := running(t, root, "run-b")

	dec := &stubDecoder{}
	records, err := New(Config{}).ScanInterOp(context.Background(), []string{a.Path, b.Path}, dec)
	if err != nil {
		t.Fatalf("ScanInterOp failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].RunName != "run-a" || string(records[0].Metrix) != `{"run":"run-a"}` {
		t.Errorf("Unexpected first record: %+v", records[0])
	}
	if records[1].Error != "" {
		t.Errorf("Unexpected error: %s", records[1].Error)
	}
}

func TestScanInterOp_ParseFailure(t *testing.T) {
	run := running(t, t.TempDir(), "run-a")

	records, err := New(Config{}).ScanInterOp(context.Background(), []string{run.Path}, &stubDecoder{fail: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Error != InterOpParseFailed || records[0].Metrix != nil {
		t.Errorf("Expected parse failure record, got %+v", records)
	}
}

func TestScanInterOp_CachedRunAttachesMetrics(t *testing.T) {
	root := t.TempDir()
	run := completed(t, root, completedRun)

	store := cache.NewMemoryStore()
	s := New(Config{Cache: store})
	if _, err := s.Scan(context.Background(), []string{run.Path}); err != nil {
		t.Fatal(err)
	}

	dec := &stubDecoder{}
	for i := 0; i < 2; i++ {
		records, err := s.ScanInterOp(context.Background(), []string{run.Path}, dec)
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 1 || records[0].Metrix == nil {
			t.Fatalf("Expected metrics record, got %+v", records)
		}
	}
	if dec.calls.Load() != 1 {
		t.Errorf("Expected metrics decoded once and reused, got %d decodes", dec.calls.Load())
	}

	doc, _ := store.Get(completedRun)
	if len(doc.Metrix) == 0 {
		t.Error("Expected metrics attached to cached document")
	}
}

func TestScanInterOp_PermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	run := testutil.NewRunDir(t, "locked")
	if err := os.Chmod(run.Path, 0); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(run.Path, 0755)

	records, err := New(Config{}).ScanInterOp(context.Background(), []string{run.Path}, &stubDecoder{})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Error != InterOpPermissionDenied || records[0].RunName != "locked" {
		t.Errorf("Expected permission record, got %+v", records)
	}
}

func TestScanInterOp_SkipsNonDirectories(t *testing.T) {
	records, err := New(Config{}).ScanInterOp(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("Expected no records, got %+v", records)
	}
}
