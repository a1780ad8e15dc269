package scanner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rescale/runwatch/internal/cache"
	"github.com/rescale/runwatch/internal/events"
	"github.com/rescale/runwatch/internal/fsutil"
	"github.com/rescale/runwatch/internal/models"
	"github.com/rescale/runwatch/internal/testutil"
)

const completedRun = "150101_INSTR_0001_AAAA"

func completed(t *testing.T, parent, name string) *testutil.RunDir {
	t.Helper()
	return testutil.NewRunDirIn(t, parent, name).
		RunInfo("INSTR", "AAAA", 150, 150).
		ReadMarkers(2).
		Touch("Basecalling_Netcopy_complete.txt", "Logs/"+name+"_Cycle300_Log.00.log")
}

func running(t *testing.T, parent, name string) *testutil.RunDir {
	t.Helper()
	return testutil.NewRunDirIn(t, parent, name).RunInfo("INSTR", "BBBB", 150, 150)
}

func TestScan_Buckets(t *testing.T) {
	root := t.TempDir()
	done := completed(t, root, completedRun)
	live := running(t, root, "150102_INSTR_0002_BBBB")
	empty := testutil.NewRunDirIn(t, root, "150103_INSTR_0003_CCCC")

	s := New(Config{})
	report, err := s.Scan(context.Background(), []string{live.Path, done.Path, empty.Path})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	tests := []struct {
		state models.RunState
		want  []string
	}{
		{models.StateRunning, []string{"150102_INSTR_0002_BBBB"}},
		{models.StateCompleted, []string{completedRun}},
		{models.StateFailed, nil},
		{models.StateUnknown, []string{"150103_INSTR_0003_CCCC"}},
	}
	for _, tt := range tests {
		docs := report.Runs(tt.state)
		if len(docs) != len(tt.want) {
			t.Errorf("%s: expected %d runs, got %d", tt.state, len(tt.want), len(docs))
			continue
		}
		for i, name := range tt.want {
			if docs[i].RunName != name {
				t.Errorf("%s[%d]: expected %s, got %s", tt.state, i, name, docs[i].RunName)
			}
		}
	}

	if _, ok := s.Cache().Get(completedRun); !ok {
		t.Error("Completed run should be cached")
	}
	if s.Cache().Len() != 1 {
		t.Errorf("Only completed runs should be cached, got %v", s.Cache().Names())
	}
}

func TestScan_PreservesInputOrder(t *testing.T) {
	root := t.TempDir()
	var paths []string
	for _, name := range []string{"run-c", "run-a", "run-b", "run-e", "run-d"} {
		paths = append(paths, running(t, root, name).Path)
	}

	report, err := New(Config{Concurrency: 3}).Scan(context.Background(), paths)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	docs := report.Runs(models.StateRunning)
	if len(docs) != len(paths) {
		t.Fatalf("Expected %d running runs, got %d", len(paths), len(docs))
	}
	for i, doc := range docs {
		if doc.FullPath != paths[i] {
			t.Errorf("Position %d: expected %s, got %s", i, paths[i], doc.FullPath)
		}
	}
}

func TestScan_IdempotentWithFreshCache(t *testing.T) {
	root := t.TempDir()
	paths := []string{
		completed(t, root, completedRun).Path,
		running(t, root, "150102_INSTR_0002_BBBB").Path,
	}

	first, err := New(Config{}).Scan(context.Background(), paths)
	if err != nil {
		t.Fatal(err)
	}
	second, err := New(Config{}).Scan(context.Background(), paths)
	if err != nil {
		t.Fatal(err)
	}

	a, _ := first.MarshalJSON()
	b, _ := second.MarshalJSON()
	if string(a) != string(b) {
		t.Errorf("Expected identical reports:\n%s\n%s", a, b)
	}
}

func TestScan_CacheHitPatchesPath(t *testing.T) {
	root := t.TempDir()
	run := completed(t, root, completedRun)

	store := cache.NewMemoryStore()
	s := New(Config{Cache: store})
	if _, err := s.Scan(context.Background(), []string{run.Path}); err != nil {
		t.Fatal(err)
	}

	// Move the run and strip its evidence: only the cache can still call it Completed.
	archive := filepath.Join(t.TempDir(), "archive")
	if err := os.MkdirAll(archive, 0755); err != nil {
		t.Fatal(err)
	}
	moved := filepath.Join(archive, completedRun)
	if err := os.Rename(run.Path, moved); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(filepath.Join(moved, "RunInfo.xml")); err != nil {
		t.Fatal(err)
	}

	report, err := s.Scan(context.Background(), []string{moved})
	if err != nil {
		t.Fatal(err)
	}
	docs := report.Runs(models.StateCompleted)
	if len(docs) != 1 {
		t.Fatalf("Expected cached run in Completed, got %v", report.Counts())
	}
	want, _ := filepath.EvalSymlinks(moved)
	if docs[0].FullPath != want {
		t.Errorf("Expected patched path %s, got %s", want, docs[0].FullPath)
	}
	if docs[0].Cycles() != 300 {
		t.Errorf("Cached document should be reused, got numCycles=%d", docs[0].Cycles())
	}
	if report.CacheHits != 1 {
		t.Errorf("Expected 1 cache hit, got %d", report.CacheHits)
	}
	cached, _ := store.Get(completedRun)
	if cached.FullPath != want {
		t.Errorf("Expected cache path %s, got %s", want, cached.FullPath)
	}
}

func TestScan_SkipsBadPaths(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(root, "missing")
	live := running(t, root, "live")

	report, err := New(Config{}).Scan(context.Background(), []string{file, missing, live.Path})
	if err != nil {
		t.Fatal(err)
	}
	if report.Len() != 1 {
		t.Errorf("Expected 1 classified run, got %d", report.Len())
	}
	if len(report.Skipped) != 2 {
		t.Fatalf("Expected 2 skipped paths, got %+v", report.Skipped)
	}
	if report.Skipped[0].Reason != ReasonNotDirectory || report.Skipped[1].Reason != ReasonNotFound {
		t.Errorf("Unexpected skip reasons: %+v", report.Skipped)
	}
}

func TestScan_DeadlineExcludesRuns(t *testing.T) {
	root := t.TempDir()
	live := running(t, root, "live")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := New(Config{}).Scan(ctx, []string{live.Path})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if report.Len() != 0 {
		t.Errorf("Expected no classified runs after deadline, got %v", report.Counts())
	}
	if len(report.Skipped) != 1 || report.Skipped[0].Reason != ReasonDeadlineExceeded {
		t.Errorf("Expected deadline skip, got %+v", report.Skipped)
	}
}

// stallingStore blocks Get for one run until release is closed.
type stallingStore struct {
	*cache.MemoryStore
	stall   string
	entered chan struct{}
	release chan struct{}
}

func (s *stallingStore) Get(runName string) (*models.RunDocument, bool) {
	if runName == s.stall {
		close(s.entered)
		<-s.release
	}
	return s.MemoryStore.Get(runName)
}

func TestScan_DeadlineDoesNotWaitForStalledRun(t *testing.T) {
	root := t.TempDir()
	stuck := completed(t, root, completedRun)
	live := running(t, root, "150102_INSTR_0002_BBBB")

	store := &stallingStore{
		MemoryStore: cache.NewMemoryStore(),
		stall:       completedRun,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	defer close(store.release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-store.entered
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	type outcome struct {
		report *Report
		err    error
	}
	out := make(chan outcome, 1)
	go func() {
		r, err := New(Config{Cache: store, Concurrency: 2}).Scan(ctx, []string{stuck.Path, live.Path})
		out <- outcome{r, err}
	}()

	var got outcome
	select {
	case got = <-out:
	case <-time.After(5 * time.Second):
		t.Fatal("Scan did not return after the deadline")
	}
	if got.err != nil {
		t.Fatalf("Scan failed: %v", got.err)
	}
	if n := len(got.report.Runs(models.StateRunning)); n != 1 {
		t.Errorf("Expected the finished run in the report, got %v", got.report.Counts())
	}
	if len(got.report.Skipped) != 1 || got.report.Skipped[0].Reason != ReasonDeadlineExceeded {
		t.Errorf("Expected stalled run skipped for deadline, got %+v", got.report.Skipped)
	}
	if store.Len() != 0 {
		t.Errorf("Expected nothing cached for the stalled run, got %v", store.Names())
	}
}

func TestScan_DuplicateRunNames(t *testing.T) {
	first := completed(t, t.TempDir(), completedRun)
	second := completed(t, t.TempDir(), completedRun)
	alias := filepath.Join(t.TempDir(), "latest")
	if err := os.Symlink(first.Path, alias); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	want, err := fsutil.Canonical(first.Path)
	if err != nil {
		t.Fatalf("Canonical failed: %v", err)
	}

	report, err := New(Config{Concurrency: 1}).Scan(context.Background(), []string{first.Path, second.Path, alias})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	done := report.Runs(models.StateCompleted)
	if len(done) != 1 {
		t.Fatalf("Expected the run classified once, got %d", len(done))
	}
	if done[0].FullPath != want {
		t.Errorf("Expected first path %s to win, got %s", want, done[0].FullPath)
	}
	if len(report.Skipped) != 2 {
		t.Fatalf("Expected 2 duplicate skips, got %+v", report.Skipped)
	}
	for _, sk := range report.Skipped {
		if sk.Reason != ReasonDuplicate {
			t.Errorf("Expected duplicate skip, got %+v", sk)
		}
	}
}

func TestScan_PublishesEvents(t *testing.T) {
	bus := events.NewEventBus(10)
	defer bus.Close()
	states := bus.Subscribe(events.EventRunState)
	complete := bus.Subscribe(events.EventScanComplete)

	root := t.TempDir()
	run := completed(t, root, completedRun)

	report, err := New(Config{Bus: bus}).Scan(context.Background(), []string{run.Path})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-states:
		ev := e.(*events.RunStateEvent)
		if ev.RunName != completedRun || ev.State != "Completed" || ev.ScanID != report.ScanID {
			t.Errorf("Unexpected run state event: %+v", ev)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for run state event")
	}

	select {
	case e := <-complete:
		ev := e.(*events.ScanCompleteEvent)
		if ev.Counts["Completed"] != 1 {
			t.Errorf("Expected 1 completed in summary, got %v", ev.Counts)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for scan complete event")
	}
}

func TestScan_Progress(t *testing.T) {
	root := t.TempDir()
	paths := []string{running(t, root, "a").Path, running(t, root, "b").Path}

	var calls []int
	s := New(Config{Concurrency: 1, Progress: func(n, total int) {
		if total != 2 {
			t.Errorf("Expected total 2, got %d", total)
		}
		calls = append(calls, n)
	}})
	if _, err := s.Scan(context.Background(), paths); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 || calls[1] != 2 {
		t.Errorf("Expected progress [1 2], got %v", calls)
	}
}

func TestReport_Serialization(t *testing.T) {
	root := t.TempDir()
	report, err := New(Config{}).Scan(context.Background(), []string{completed(t, root, completedRun).Path})
	if err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	s := string(data)
	idx := []int{
		strings.Index(s, `"Running"`),
		strings.Index(s, `"Completed"`),
		strings.Index(s, `"Failed"`),
		strings.Index(s, `"Unknown"`),
	}
	for i := 1; i < len(idx); i++ {
		if idx[i-1] < 0 || idx[i-1] >= idx[i] {
			t.Fatalf("Expected bucket keys in state order, got %s", s)
		}
	}
	if !strings.HasPrefix(s, `{"Running":[]`) {
		t.Errorf("Empty bucket should render as [], got %s", s)
	}

	wire, err := report.Wire()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(wire), "}\r\n") {
		t.Errorf("Wire form should end with CRLF, got %q", wire[len(wire)-4:])
	}

	text, err := report.TextMap()
	if err != nil {
		t.Fatal(err)
	}
	if text["Failed"] != "[]" || !strings.Contains(text["Completed"], completedRun) {
		t.Errorf("Unexpected text map: %v", text)
	}

	out, err := yaml.Marshal(report)
	if err != nil {
		t.Fatalf("MarshalYAML failed: %v", err)
	}
	y := string(out)
	if !strings.HasPrefix(y, "Running: []") || !strings.Contains(y, "runName: "+completedRun) {
		t.Errorf("Unexpected YAML:\n%s", y)
	}
}

func TestClampConcurrency(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 8},
		{-3, 8},
		{1, 1},
		{16, 16},
		{1000, 64},
	}
	for _, tt := range tests {
		if got := ClampConcurrency(tt.in); got != tt.want {
			t.Errorf("ClampConcurrency(%d): expected %d, got %d", tt.in, tt.want, got)
		}
	}
}
