package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rescale/runwatch/internal/config"
	"github.com/rescale/runwatch/internal/models"
	"github.com/rescale/runwatch/internal/scanner"
)

const stateVersion = "1.0.0"

// RunRecord is the last observed state of one run.
type RunRecord struct {
	RunName string    `json:"run_name"`
	Path    string    `json:"path"`
	State   string    `json:"state"`
	Since   time.Time `json:"since"` // When the run entered State
}

// Transition is a change of state between two passes. From is empty for
// a run seen for the first time.
type Transition struct {
	RunName string
	Path    string
	From    string
	To      string
}

// State maintains the daemon's persistent state: the last observed state
// of every run and poll bookkeeping. The latest report is kept in memory only.
type State struct {
	mu sync.RWMutex

	// Runs keyed by run name
	Runs map[string]*RunRecord `json:"runs"`

	// Version for state file format migration
	Version string `json:"version"`

	// LastPoll records the last completed pass
	LastPoll time.Time `json:"last_poll"`

	// Passes counts completed passes since the state file was created
	Passes int `json:"passes"`

	lastReport *scanner.Report
	filePath   string // empty keeps state in memory only
}

// NewState creates a new state instance.
func NewState(filePath string) *State {
	return &State{
		Runs:     make(map[string]*RunRecord),
		Version:  stateVersion,
		filePath: filePath,
	}
}

// Load reads state from the file system.
// If the file doesn't exist, returns an empty state.
func (s *State) Load() error {
	if s.filePath == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.Runs = make(map[string]*RunRecord)
			s.Version = stateVersion
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	if err := json.Unmarshal(data, s); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	if s.Runs == nil {
		s.Runs = make(map[string]*RunRecord)
	}
	return nil
}

// Save writes state to the file system.
func (s *State) Save() error {
	if s.filePath == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write to temp file first, then rename for atomicity
	tmpFile := s.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmpFile, s.filePath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}

// Apply records the outcome of a pass and returns the runs whose state
// changed, in report order. Runs missing from the report keep their record;
// they may have been skipped for this pass only.
func (s *State) Apply(report *scanner.Report) []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var transitions []Transition
	for _, st := range models.States() {
		for _, doc := range report.Runs(st) {
			rec, ok := s.Runs[doc.RunName]
			if ok && rec.State == st.String() {
				rec.Path = doc.FullPath
				continue
			}
			t := Transition{RunName: doc.RunName, Path: doc.FullPath, To: st.String()}
			if ok {
				t.From = rec.State
			}
			transitions = append(transitions, t)
			s.Runs[doc.RunName] = &RunRecord{
				RunName: doc.RunName,
				Path:    doc.FullPath,
				State:   st.String(),
				Since:   now,
			}
		}
	}

	s.lastReport = report
	s.LastPoll = now
	s.Passes++
	return transitions
}

// LastReport returns the report of the most recent pass, or nil.
func (s *State) LastReport() *scanner.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReport
}

// GetLastPoll returns the time of the last completed pass.
func (s *State) GetLastPoll() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastPoll
}

// GetPasses returns the number of completed passes.
func (s *State) GetPasses() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Passes
}

// Counts returns the number of tracked runs per state name.
func (s *State) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int, 4)
	for _, st := range models.States() {
		counts[st.String()] = 0
	}
	for _, rec := range s.Runs {
		counts[rec.State]++
	}
	return counts
}

// Records returns the tracked runs sorted by name.
func (s *State) Records() []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RunRecord, 0, len(s.Runs))
	for _, rec := range s.Runs {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunName < out[j].RunName })
	return out
}

// DefaultStateFilePath returns the default path for the daemon state file.
func DefaultStateFilePath() string {
	dir, err := config.ConfigDirectory()
	if err != nil {
		return ".runwatch-state.json"
	}
	return filepath.Join(dir, "daemon-state.json")
}
