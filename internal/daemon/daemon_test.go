package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rescale/runwatch/internal/events"
	"github.com/rescale/runwatch/internal/scanner"
	"github.com/rescale/runwatch/internal/sink"
)

func sinkFiles(t *testing.T, dir, prefix string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*.json"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	return matches
}

func newTestDaemon(t *testing.T, cfg *Config, bus *events.EventBus) (*Daemon, string) {
	t.Helper()
	out := t.TempDir()
	pub, err := sink.NewFilePublisher(out)
	if err != nil {
		t.Fatalf("NewFilePublisher failed: %v", err)
	}
	d, err := New(cfg, scanner.New(scanner.Config{Bus: bus}), pub, bus, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d, out
}

func TestDaemon_RunOncePublishes(t *testing.T) {
	root := t.TempDir()
	completedRun(t, root, doneRun)
	runningRun(t, root, liveRun)

	d, out := newTestDaemon(t, &Config{Roots: []string{root}, PollInterval: time.Hour}, nil)

	report, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Len() != 2 {
		t.Errorf("Expected 2 classified runs, got %d", report.Len())
	}

	reports := sinkFiles(t, out, sink.KindReport)
	if len(reports) != 1 {
		t.Fatalf("Expected 1 report message, got %d", len(reports))
	}
	body, err := os.ReadFile(reports[0])
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.HasSuffix(body, []byte("\r\n")) {
		t.Error("Expected report body to end with CRLF")
	}
	if !strings.HasPrefix(string(body), `{"Running":`) {
		t.Errorf("Expected buckets in state order, got %s", body)
	}

	done := sinkFiles(t, out, sink.KindCompletedRuns)
	if len(done) != 1 {
		t.Fatalf("Expected 1 completed-runs message, got %d", len(done))
	}
	body, _ = os.ReadFile(done[0])
	var names []string
	if err := json.Unmarshal(bytes.TrimSpace(body), &names); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(names) != 1 || names[0] != doneRun {
		t.Errorf("Expected [%s], got %v", doneRun, names)
	}

	// Unchanged runs produce no new completed-runs message
	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if got := len(sinkFiles(t, out, sink.KindCompletedRuns)); got != 1 {
		t.Errorf("Expected still 1 completed-runs message, got %d", got)
	}

	status := d.GetStatus()
	if status.Passes != 2 {
		t.Errorf("Expected 2 passes, got %d", status.Passes)
	}
	if status.CachedRuns != 1 {
		t.Errorf("Expected 1 cached run, got %d", status.CachedRuns)
	}
	if status.Runs["Running"] != 1 || status.Runs["Completed"] != 1 {
		t.Errorf("Unexpected run counts: %v", status.Runs)
	}
	if status.Sink != sink.KindFile {
		t.Errorf("Expected sink %s, got %s", sink.KindFile, status.Sink)
	}
}

func TestDaemon_CompletedRunNames(t *testing.T) {
	root := t.TempDir()
	miseq := "150101_M01234_0001_000000000-ABCDE"
	completedRun(t, root, miseq)
	completedRun(t, root, "scratch-run")

	d, out := newTestDaemon(t, &Config{Roots: []string{root}, PollInterval: time.Hour}, nil)
	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	done := sinkFiles(t, out, sink.KindCompletedRuns)
	if len(done) != 1 {
		t.Fatalf("Expected 1 completed-runs message, got %d", len(done))
	}
	body, err := os.ReadFile(done[0])
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var names []string
	if err := json.Unmarshal(bytes.TrimSpace(body), &names); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	expected := []string{miseq, "scratch-run"}
	if len(names) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, names)
	}
	for i := range expected {
		if names[i] != expected[i] {
			t.Errorf("Expected %s at %d, got %s", expected[i], i, names[i])
		}
	}
}

func TestDaemon_StatusDocumentsForChangedRuns(t *testing.T) {
	root := t.TempDir()
	runningRun(t, root, liveRun).CurrentStatus(liveRun, 2, 300, 120, 118, 118)
	completedRun(t, root, doneRun)

	d, out := newTestDaemon(t, &Config{Roots: []string{root}, PollInterval: time.Hour}, nil)
	for i := 0; i < 2; i++ {
		if _, err := d.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce failed: %v", err)
		}
	}

	docs := sinkFiles(t, out, sink.KindStatusDocuments)
	if len(docs) != 1 {
		t.Fatalf("Expected 1 status-documents message, got %d", len(docs))
	}
	body, err := os.ReadFile(docs[0])
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var texts []string
	if err := json.Unmarshal(bytes.TrimSpace(body), &texts); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(texts) != 1 || !strings.Contains(texts[0], "<RunName>"+liveRun+"</RunName>") {
		t.Errorf("Expected the status document of %s, got %v", liveRun, texts)
	}
}

func TestDaemon_StartStop(t *testing.T) {
	root := t.TempDir()
	completedRun(t, root, doneRun)
	statePath := filepath.Join(t.TempDir(), "state.json")

	bus := events.NewEventBus(100)
	defer bus.Close()

	d, _ := newTestDaemon(t, &Config{
		Roots:        []string{root},
		PollInterval: time.Hour,
		StatusAddr:   "127.0.0.1:0",
		StateFile:    statePath,
	}, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !d.IsRunning() {
		t.Error("Expected daemon to be running")
	}
	if err := d.Start(ctx); err == nil {
		t.Error("Expected error starting a running daemon")
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/runs/Completed", d.server.Addr()))
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 after initial poll, got %d", resp.StatusCode)
	}

	d.Stop()
	if d.IsRunning() {
		t.Error("Expected daemon to be stopped")
	}
	if _, err := os.Stat(statePath); err != nil {
		t.Errorf("Expected state file to be saved: %v", err)
	}
	d.Stop()
}

func TestDaemon_RequiresScanner(t *testing.T) {
	if _, err := New(nil, nil, nil, nil, nil); err == nil {
		t.Error("Expected error without a scanner")
	}
}

func TestStatus_WriteStatus(t *testing.T) {
	var buf bytes.Buffer
	st := &Status{
		Running:      true,
		Passes:       4,
		Runs:         map[string]int{"Running": 2, "Completed": 5},
		PollInterval: "5m0s",
		Sink:         "s3",
		SinkTarget:   "s3://bucket/runs",
	}
	st.WriteStatus(&buf)

	out := buf.String()
	for _, want := range []string{"Running: Yes", "Last Poll: Never", "Passes: 4", "Completed: 5", "Failed: 0", "Sink: s3 (s3://bucket/runs)"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}
