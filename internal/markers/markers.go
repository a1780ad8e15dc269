// Package markers answers completion questions from marker files and short
// log tails inside a run directory.
package markers

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rescale/runwatch/internal/constants"
	"github.com/rescale/runwatch/internal/fsutil"
	"github.com/rescale/runwatch/internal/logformat"
	"github.com/rescale/runwatch/internal/logging"
	"github.com/rescale/runwatch/internal/tailmatch"
)

// Checker inspects marker files. It holds no per-run state.
type Checker struct {
	log  *logging.Logger
	tail *tailmatch.Matcher
}

// NewChecker creates a checker. A nil logger disables logging; a nil
// matcher is replaced by one sharing the logger.
func NewChecker(log *logging.Logger, tail *tailmatch.Matcher) *Checker {
	log = logging.OrNop(log)
	if tail == nil {
		tail = tailmatch.New(log)
	}
	return &Checker{log: log, tail: tail}
}

// ReadsComplete reports whether every read has its basecalling marker.
// A single-read marker short-circuits to true; numReads < 1 is false.
// Both Read<i> and READ<i> spellings are accepted.
func (c *Checker) ReadsComplete(runDir string, numReads int) bool {
	if fsutil.Exists(filepath.Join(runDir, constants.BasecallingSingleReadFile)) {
		return true
	}
	if numReads < 1 {
		return false
	}
	for i := 1; i <= numReads; i++ {
		mixed := fmt.Sprintf(constants.BasecallingReadFileFormat, i)
		upper := fmt.Sprintf(constants.BasecallingREADFileFormat, i)
		if !fsutil.Exists(filepath.Join(runDir, mixed)) && !fsutil.Exists(filepath.Join(runDir, upper)) {
			c.log.Debug().
				Str("run", filepath.Base(runDir)).
				Int("read", i).
				Msgf("no %s / %s", mixed, upper)
			return false
		}
	}
	return true
}

// AggregateComplete reports whether Basecalling_Netcopy_complete.txt exists.
func (c *Checker) AggregateComplete(runDir string) bool {
	return fsutil.Exists(filepath.Join(runDir, constants.BasecallingCompleteFile))
}

// CompletionOverride reports whether the Run.completed marker exists.
func (c *Checker) CompletionOverride(runDir string) bool {
	return fsutil.Exists(filepath.Join(runDir, constants.RunCompletedFile))
}

// RTAComplete reports whether RTAComplete.txt exists.
func (c *Checker) RTAComplete(runDir string) bool {
	return fsutil.Exists(filepath.Join(runDir, constants.RTACompleteFile))
}

// LastCycleLogName returns the per-cycle log written after the given cycle.
func LastCycleLogName(runName string, cycle int) string {
	return fmt.Sprintf("%s_Cycle%d_Log.00.log", runName, cycle)
}

// LastCycleEvidence reports whether the instrument got past its last cycle:
// the per-cycle log for that cycle exists, a "Post Run Step" log exists, or
// CycleTimes.txt records End Imaging for that cycle.
func (c *Checker) LastCycleEvidence(runDir, runName string, lastCycle int) bool {
	logsDir := filepath.Join(runDir, constants.LogsDir)
	if fsutil.Exists(filepath.Join(logsDir, LastCycleLogName(runName, lastCycle))) {
		return true
	}
	if len(fsutil.Glob(logsDir, constants.PostRunStepGlob)) > 0 {
		return true
	}
	cycleTimes := filepath.Join(runDir, filepath.FromSlash(constants.CycleTimesLog))
	if !fsutil.ReadableFile(cycleTimes) {
		return false
	}
	_, ok := c.tail.Match(cycleTimes, logformat.EndImaging(lastCycle), constants.CycleTimesWindow)
	return ok
}

// ExitedBeforeCompletion reports whether any RTA log (Data/RTALogs/*Log_00.txt
// or Data/RTALogs/Log.txt) ends with "Application exited before completion".
func (c *Checker) ExitedBeforeCompletion(runDir string) bool {
	logDir := filepath.Join(runDir, filepath.FromSlash(constants.RTALogDir))
	if !fsutil.IsDir(logDir) {
		return false
	}
	for _, name := range fsutil.Glob(logDir, "*") {
		if !strings.HasSuffix(name, "Log_00.txt") && name != "Log.txt" {
			continue
		}
		if _, ok := c.tail.Match(filepath.Join(logDir, name), logformat.ExitedBeforeCompletion, constants.ExitedLogWindow); ok {
			c.log.Debug().Str("run", filepath.Base(runDir)).Str("log", name).Msg("RTA exited before completion")
			return true
		}
	}
	return false
}
