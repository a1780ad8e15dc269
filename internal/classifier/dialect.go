package classifier

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rescale/runwatch/internal/constants"
	"github.com/rescale/runwatch/internal/fsutil"
	"github.com/rescale/runwatch/internal/metadata"
	"github.com/rescale/runwatch/internal/models"
)

// ErrUnreachableDialect is returned when a run reaches classification with
// no known status dialect. Such runs are left out of every bucket.
var ErrUnreachableDialect = errors.New("unreachable status dialect")

// Evidence is everything the decision rules look at for one run.
type Evidence struct {
	ReadsComplete     bool // Every per-read basecalling marker exists (or the single-read marker)
	Aggregate         bool // Basecalling_Netcopy_complete.txt exists
	Override          bool // Run.completed exists
	Failed            bool // Stale run-parameters variant or RTA exited before completion
	RunInfoPresent    bool
	LastCycle         bool // Last-cycle log evidence (Inferred)
	CyclesMismatch    bool // Status cycle counters disagree (Current)
	HasCompletionDate bool // A real completion date was resolved (Legacy)
}

// Dialect is the status-artifact layout of a run directory.
// It is one of Legacy, Current or Inferred.
type Dialect interface {
	// Name is used in logs.
	Name() string
	// Status tells the extractor which status document to read.
	Status() metadata.StatusSource
	// Classify applies the dialect's decision rules.
	Classify(ev Evidence) (models.RunState, error)

	isDialect()
}

// Legacy runs have Data/Status.xml.
type Legacy struct{}

// Current runs have Data/reports/Status.xml.
type Current struct{}

// Inferred runs have no status document; state is inferred from run-info,
// markers and logs (typically MiSeq/NextSeq class instruments).
type Inferred struct{}

func (Legacy) isDialect()   {}
func (Current) isDialect()  {}
func (Inferred) isDialect() {}

func (Legacy) Name() string   { return "legacy" }
func (Current) Name() string  { return "current" }
func (Inferred) Name() string { return "inferred" }

func (Legacy) Status() metadata.StatusSource {
	return metadata.StatusSource{Layout: metadata.StatusLegacy, Path: constants.OldStatusFile}
}

func (Current) Status() metadata.StatusSource {
	return metadata.StatusSource{Layout: metadata.StatusCurrent, Path: constants.NewStatusFile}
}

func (Inferred) Status() metadata.StatusSource {
	return metadata.StatusSource{Layout: metadata.StatusNone}
}

// DetectDialect picks the dialect from which status document exists.
// The legacy location wins when both exist.
func DetectDialect(runDir string) Dialect {
	switch {
	case fsutil.Exists(filepath.Join(runDir, filepath.FromSlash(constants.OldStatusFile))):
		return Legacy{}
	case fsutil.Exists(filepath.Join(runDir, filepath.FromSlash(constants.NewStatusFile))):
		return Current{}
	default:
		return Inferred{}
	}
}

// Classify (Legacy): ready means a real completion date was resolved.
func (Legacy) Classify(ev Evidence) (models.RunState, error) {
	switch {
	case ev.Override, ev.HasCompletionDate:
		return models.StateCompleted, nil
	case ev.Failed:
		return models.StateFailed, nil
	default:
		return models.StateRunning, nil
	}
}

// Classify (Current): ready means the status cycle counters agree.
func (Current) Classify(ev Evidence) (models.RunState, error) {
	ready := !ev.CyclesMismatch
	return decide(ev, ready, !ev.Aggregate && !ready), nil
}

// Classify (Inferred): ready means there is last-cycle evidence.
func (Inferred) Classify(ev Evidence) (models.RunState, error) {
	ready := ev.LastCycle
	return decide(ev, ready, !ev.Aggregate && ev.RunInfoPresent && !ready), nil
}

// decide is the decision table shared by Current and Inferred. stillRunning
// is the dialect-specific condition for an incomplete run that is still
// making progress.
func decide(ev Evidence, ready, stillRunning bool) models.RunState {
	orFailed := func(s models.RunState) models.RunState {
		if ev.Failed {
			return models.StateFailed
		}
		return s
	}

	if ev.ReadsComplete {
		if ready {
			return models.StateCompleted
		}
		return orFailed(models.StateUnknown)
	}
	if ev.Override {
		return models.StateCompleted
	}
	if stillRunning {
		return orFailed(models.StateRunning)
	}
	return orFailed(models.StateUnknown)
}

// Decide dispatches to the dialect's rules. A nil dialect is an internal
// consistency error.
func Decide(d Dialect, ev Evidence) (models.RunState, error) {
	switch d := d.(type) {
	case Legacy, Current, Inferred:
		return d.Classify(ev)
	default:
		return "", fmt.Errorf("%w: %T", ErrUnreachableDialect, d)
	}
}
