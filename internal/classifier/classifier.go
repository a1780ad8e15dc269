// Package classifier assigns a lifecycle state to a run directory.
package classifier

import (
	"github.com/rescale/runwatch/internal/dates"
	"github.com/rescale/runwatch/internal/logging"
	"github.com/rescale/runwatch/internal/markers"
	"github.com/rescale/runwatch/internal/metadata"
	"github.com/rescale/runwatch/internal/models"
	"github.com/rescale/runwatch/internal/tailmatch"
)

// Outcome is the classification of one run.
type Outcome struct {
	Doc      *models.RunDocument
	State    models.RunState
	Dialect  Dialect
	Evidence Evidence
}

// Classifier builds the run document and applies the dialect rules.
// It keeps no per-run state and is safe for concurrent use.
type Classifier struct {
	log       *logging.Logger
	extractor *metadata.Extractor
	markers   *markers.Checker
	dates     *dates.Resolver
}

// New creates a classifier with the default extractor, marker checker and
// date resolver sharing one logger.
func New(log *logging.Logger) *Classifier {
	log = logging.OrNop(log)
	tail := tailmatch.New(log)
	return &Classifier{
		log:       log,
		extractor: metadata.NewExtractor(log),
		markers:   markers.NewChecker(log, tail),
		dates:     dates.NewResolver(log, tail),
	}
}

// Classify inspects one run directory. The returned error is non-nil only
// for ErrUnreachableDialect; all I/O problems degrade to missing evidence.
func (c *Classifier) Classify(dir models.RunDirectory) (*Outcome, error) {
	return c.classify(dir, DetectDialect(dir.Path))
}

func (c *Classifier) classify(dir models.RunDirectory, dialect Dialect) (*Outcome, error) {
	doc := models.NewRunDocument(dir)
	if dialect != nil {
		// The status document names the run when it can be read.
		if name := c.extractor.StatusRunName(dir.Path, dialect.Status()); name != "" {
			doc.RunName = name
		}
	}
	log := c.log.WithRun(doc.RunName)

	if dialect == nil {
		log.Error().Str("path", dir.Path).Msg("unexpected condition reached examining run")
		return nil, ErrUnreachableDialect
	}

	info := c.extractor.Extract(dir.Path, dialect.Status(), doc)
	c.dates.Resolve(dir.Path, doc)

	ev := Evidence{
		ReadsComplete:     c.markers.ReadsComplete(dir.Path, info.NumReads),
		Aggregate:         c.markers.AggregateComplete(dir.Path),
		Override:          c.markers.CompletionOverride(dir.Path),
		Failed:            info.StaleRunParameters,
		RunInfoPresent:    info.RunInfoPresent,
		CyclesMismatch:    info.CyclesMismatch,
		HasCompletionDate: doc.HasCompletionDate(),
	}
	if !ev.Failed {
		ev.Failed = c.markers.ExitedBeforeCompletion(dir.Path)
	}
	if _, ok := dialect.(Inferred); ok && info.RunInfoPresent {
		ev.LastCycle = c.markers.LastCycleEvidence(dir.Path, doc.RunName, doc.Cycles())
	}

	state, err := Decide(dialect, ev)
	if err != nil {
		log.Error().Err(err).Str("path", dir.Path).Msg("unexpected condition reached examining run")
		return nil, err
	}

	log.Debug().
		Str("dialect", dialect.Name()).
		Bool("readsComplete", ev.ReadsComplete).
		Bool("aggregate", ev.Aggregate).
		Bool("override", ev.Override).
		Bool("lastCycle", ev.LastCycle).
		Bool("cyclesMismatch", ev.CyclesMismatch).
		Bool("failed", ev.Failed).
		Str("state", state.String()).
		Msg("classified run")

	return &Outcome{Doc: doc, State: state, Dialect: dialect, Evidence: ev}, nil
}
