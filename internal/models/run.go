// Package models defines data structures shared by the run status engine.
package models

import (
	"encoding/json"
)

// CompletionDateUnknown is stored in RunDocument.CompletionDate when no log
// source produced a completion date. It is equivalent to "no completion date".
const CompletionDateUnknown = "null"

// RunState is the lifecycle bucket a run is filed into for one scan pass.
type RunState string

const (
	StateRunning   RunState = "Running"
	StateCompleted RunState = "Completed"
	StateFailed    RunState = "Failed"
	StateUnknown   RunState = "Unknown"
)

// States returns every run state in report order.
func States() []RunState {
	return []RunState{StateRunning, StateCompleted, StateFailed, StateUnknown}
}

// Valid reports whether s is one of the four known states.
func (s RunState) Valid() bool {
	switch s {
	case StateRunning, StateCompleted, StateFailed, StateUnknown:
		return true
	}
	return false
}

func (s RunState) String() string { return string(s) }

// ParseRunState converts a state name (as used in reports and URLs) into a RunState.
func ParseRunState(name string) (RunState, bool) {
	s := RunState(name)
	return s, s.Valid()
}

// RunDirectory is one instrument run output folder as observed during a scan.
type RunDirectory struct {
	Name string // Base name of the directory, used as the run name
	Path string // Canonical absolute path (symlinks resolved)
}

// RunDocument is the attribute document describing one run.
// Field order is the serialization order.
//
// Fields are filled set-if-absent: once a value is present, lower-precedence
// sources never replace it. CompletionDate is the one exception and may be
// replaced by a chronologically later date during resolution.
type RunDocument struct {
	RunName        string          `json:"runName" yaml:"runName"`
	FullPath       string          `json:"fullPath,omitempty" yaml:"fullPath,omitempty"`
	RunInfo        string          `json:"runinfo,omitempty" yaml:"runinfo,omitempty"`
	RunParams      string          `json:"runparams,omitempty" yaml:"runparams,omitempty"`
	Status         string          `json:"status,omitempty" yaml:"status,omitempty"`
	SequencerName  string          `json:"sequencerName,omitempty" yaml:"sequencerName,omitempty"`
	ContainerID    string          `json:"containerId,omitempty" yaml:"containerId,omitempty"`
	LaneCount      *int            `json:"laneCount,omitempty" yaml:"laneCount,omitempty"`
	NumCycles      *int            `json:"numCycles,omitempty" yaml:"numCycles,omitempty"`
	StartDate      string          `json:"startDate,omitempty" yaml:"startDate,omitempty"`
	CompletionDate string          `json:"completionDate,omitempty" yaml:"completionDate,omitempty"`
	Metrix         json.RawMessage `json:"metrix,omitempty" yaml:"-"`
}

// NewRunDocument starts a document for a run directory.
func NewRunDocument(dir RunDirectory) *RunDocument {
	return &RunDocument{
		RunName:  dir.Name,
		FullPath: dir.Path,
	}
}

// SetString assigns v to *field when the field is still empty.
// Returns true if the value was stored.
func SetString(field *string, v string) bool {
	if *field != "" || v == "" {
		return false
	}
	*field = v
	return true
}

// SetInt assigns v to *field when the field is still unset.
func SetInt(field **int, v int) bool {
	if *field != nil {
		return false
	}
	*field = &v
	return true
}

// HasNumCycles reports whether a total cycle count is known.
func (d *RunDocument) HasNumCycles() bool {
	return d.NumCycles != nil
}

// Cycles returns the total cycle count, or 0 when unknown.
func (d *RunDocument) Cycles() int {
	if d.NumCycles == nil {
		return 0
	}
	return *d.NumCycles
}

// HasCompletionDate reports whether a real completion date was resolved.
// The CompletionDateUnknown sentinel counts as absent.
func (d *RunDocument) HasCompletionDate() bool {
	return d.CompletionDate != "" && d.CompletionDate != CompletionDateUnknown
}

// Clone returns a deep copy of the document.
func (d *RunDocument) Clone() *RunDocument {
	if d == nil {
		return nil
	}
	c := *d
	if d.LaneCount != nil {
		v := *d.LaneCount
		c.LaneCount = &v
	}
	if d.NumCycles != nil {
		v := *d.NumCycles
		c.NumCycles = &v
	}
	if d.Metrix != nil {
		c.Metrix = append(json.RawMessage(nil), d.Metrix...)
	}
	return &c
}

// Marshal serializes the document in field order.
func (d *RunDocument) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalRunDocument parses a serialized document.
func UnmarshalRunDocument(data []byte) (*RunDocument, error) {
	var d RunDocument
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
