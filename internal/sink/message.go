// Package sink ships scan results to downstream consumers.
package sink

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rescale/runwatch/internal/constants"
	"github.com/rescale/runwatch/internal/logformat"
)

// Message kinds
const (
	KindReport          = "report"
	KindCompletedRuns   = "completed-runs"
	KindStatusDocuments = "status-documents"
)

// Message is one outbound payload.
type Message struct {
	ID        string
	Kind      string
	CreatedAt time.Time
	// Items is the string set carried by set messages; nil for reports.
	Items []string
	Body  []byte
}

// NewMessage wraps a set of strings. Duplicates and empty strings are
// dropped and the remaining items sorted. The body is a JSON array
// terminated by CRLF.
func NewMessage(kind string, items []string) *Message {
	seen := make(map[string]struct{}, len(items))
	set := make([]string, 0, len(items))
	for _, it := range items {
		if it == "" {
			continue
		}
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		set = append(set, it)
	}
	sort.Strings(set)

	body, _ := json.Marshal(set)
	return &Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
		Items:     set,
		Body:      append(body, '\r', '\n'),
	}
}

// NewReportMessage wraps an already encoded report (see scanner.Report.Wire).
func NewReportMessage(id string, wire []byte) *Message {
	if id == "" {
		id = uuid.NewString()
	}
	return &Message{
		ID:        id,
		Kind:      KindReport,
		CreatedAt: time.Now().UTC(),
		Body:      wire,
	}
}

// RunNamesFromPaths extracts the run name from marker-file paths such as
// "/data/<run>/Run.completed". Paths that do not name a run are ignored.
func RunNamesFromPaths(paths []string) []string {
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		if name, ok := logformat.RunNameFromPath(p); ok {
			names = append(names, name)
		}
	}
	return names
}

// CompletedRunsMessage builds the set of run names from marker-file paths.
func CompletedRunsMessage(paths []string) *Message {
	return NewMessage(KindCompletedRuns, RunNamesFromPaths(paths))
}

// StatusDocumentsMessage carries the raw text of each run's status
// document. Runs without a readable status document are left out.
func StatusDocumentsMessage(runDirs []string) *Message {
	texts := make([]string, 0, len(runDirs))
	for _, dir := range runDirs {
		for _, rel := range []string{constants.NewStatusFile, constants.OldStatusFile} {
			data, err := os.ReadFile(filepath.Join(dir, rel))
			if err == nil {
				texts = append(texts, string(data))
				break
			}
		}
	}
	return NewMessage(KindStatusDocuments, texts)
}

// objectName is the file or object name a message is stored under.
func (m *Message) objectName() string {
	return m.Kind + "-" + m.CreatedAt.Format("20060102T150405Z") + "-" + m.ID + ".json"
}
