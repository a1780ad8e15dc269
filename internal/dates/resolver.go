// Package dates derives run start and completion dates.
//
// The completion date comes from an ordered chain of log sources. The first
// source that yields a date wins; RTA-derived dates are then reconciled
// against CycleTimes.txt so that a later End Imaging entry replaces them.
package dates

import (
	"path/filepath"
	"regexp"

	"github.com/rescale/runwatch/internal/constants"
	"github.com/rescale/runwatch/internal/fsutil"
	"github.com/rescale/runwatch/internal/logformat"
	"github.com/rescale/runwatch/internal/logging"
	"github.com/rescale/runwatch/internal/models"
	"github.com/rescale/runwatch/internal/tailmatch"
)

// Context is the per-run input to each source.
type Context struct {
	RunDir    string
	RunName   string
	NumCycles int
	HasCycles bool
	Log       *logging.Logger
}

// Source looks for a completion date in one place.
type Source func(r *Resolver, c *Context) (string, bool)

// Step is one link of the resolution chain.
type Step struct {
	Name      string
	Find      Source
	Reconcile bool // Compare the found date with the CycleTimes.txt date for the last cycle
}

// DefaultSteps is the resolution chain used by NewResolver.
func DefaultSteps() []Step {
	return []Step{
		{Name: "rta-completed", Find: rtaCompleted, Reconcile: true},
		{Name: "rta-last-entry", Find: rtaLastEntry, Reconcile: true},
		{Name: "events-log", Find: eventsLog},
		{Name: "rta-complete-file", Find: rtaCompleteFile},
	}
}

// Resolver fills start and completion dates.
type Resolver struct {
	log   *logging.Logger
	tail  *tailmatch.Matcher
	steps []Step
}

// NewResolver creates a resolver using DefaultSteps.
func NewResolver(log *logging.Logger, tail *tailmatch.Matcher) *Resolver {
	log = logging.OrNop(log)
	if tail == nil {
		tail = tailmatch.New(log)
	}
	return &Resolver{log: log, tail: tail, steps: DefaultSteps()}
}

// WithSteps returns a copy of the resolver using a different chain.
func (r *Resolver) WithSteps(steps []Step) *Resolver {
	c := *r
	c.steps = steps
	return &c
}

// Resolve sets doc.StartDate from the run name and doc.CompletionDate from
// the log chain. When no source yields a date the completion date is set to
// models.CompletionDateUnknown.
func (r *Resolver) Resolve(runDir string, doc *models.RunDocument) {
	if start, ok := logformat.StartDate(doc.RunName); ok {
		models.SetString(&doc.StartDate, start)
	}
	if doc.CompletionDate != "" {
		return
	}

	c := &Context{
		RunDir:    runDir,
		RunName:   doc.RunName,
		NumCycles: doc.Cycles(),
		HasCycles: doc.HasNumCycles(),
		Log:       r.log.WithRun(doc.RunName),
	}
	doc.CompletionDate = r.CompletionDate(c)
}

// CompletionDate runs the chain for one run.
func (r *Resolver) CompletionDate(c *Context) string {
	if c.Log == nil {
		c.Log = r.log
	}
	for _, step := range r.steps {
		date, ok := step.Find(r, c)
		if !ok {
			continue
		}
		c.Log.Debug().Str("source", step.Name).Str("date", date).Msg("completion date candidate")
		if step.Reconcile {
			date = r.reconcileCycleTimes(c, date)
		}
		return date
	}
	c.Log.Debug().Msg("no completion date source, marking unknown")
	return models.CompletionDateUnknown
}

// reconcileCycleTimes replaces date with the End Imaging date of the last
// cycle when that one is later.
func (r *Resolver) reconcileCycleTimes(c *Context, date string) string {
	if !c.HasCycles {
		return date
	}
	path := c.path(constants.CycleTimesLog)
	if !fsutil.ReadableFile(path) {
		return date
	}
	m, ok := r.tail.Match(path, logformat.EndImaging(c.NumCycles), constants.CycleTimesWindow)
	if !ok {
		return date
	}
	cycleDate := logformat.JoinDate(m.Group(1), m.Group(2))
	newer := Later(date, cycleDate)
	if newer != date {
		c.Log.Debug().Str("previous", date).Str("date", newer).Msg("cycle times completion date is newer")
	}
	return newer
}

// Later returns candidate when it parses and is chronologically after
// current; otherwise current. A parse failure on either side keeps current.
func Later(current, candidate string) string {
	cur, err := logformat.ParseDate(current)
	if err != nil {
		return current
	}
	cand, err := logformat.ParseDate(candidate)
	if err != nil {
		return current
	}
	if cand.After(cur) {
		return candidate
	}
	return current
}

func (c *Context) path(rel string) string {
	return filepath.Join(c.RunDir, filepath.FromSlash(rel))
}

// matchRTALogs searches the primary RTA log, or the secondary one when the
// primary cannot be read, and returns group 1 of the match. A readable
// primary log without a match does not fall back.
func (r *Resolver) matchRTALogs(c *Context, pattern *regexp.Regexp, window int) (string, bool) {
	for _, rel := range []string{constants.PrimaryRTALog, constants.SecondaryRTALog} {
		path := c.path(rel)
		if !fsutil.ReadableFile(path) {
			continue
		}
		m, ok := r.tail.Match(path, pattern, window)
		if !ok {
			return "", false
		}
		return m.Group(1), true
	}
	return "", false
}

func rtaCompleted(r *Resolver, c *Context) (string, bool) {
	return r.matchRTALogs(c, logformat.RunCompleted, constants.RTACompletedWindow)
}

func rtaLastEntry(r *Resolver, c *Context) (string, bool) {
	return r.matchRTALogs(c, logformat.LastEntry, constants.LastEntryWindow)
}

func eventsLog(r *Resolver, c *Context) (string, bool) {
	path := c.path(constants.EventsLogFile)
	if !fsutil.ReadableFile(path) {
		return "", false
	}
	m, ok := r.tail.Match(path, logformat.EventsLine, constants.EventsLogWindow)
	if !ok {
		return "", false
	}
	return logformat.JoinDate(m.Group(1), m.Group(2)), true
}

func rtaCompleteFile(r *Resolver, c *Context) (string, bool) {
	path := c.path(constants.RTACompleteFile)
	if !fsutil.ReadableFile(path) {
		return "", false
	}
	m, ok := r.tail.Match(path, logformat.RTACompleteLine, constants.RTACompleteWindow)
	if !ok {
		return "", false
	}
	return logformat.JoinDate(m.Group(1), m.Group(2)), true
}
