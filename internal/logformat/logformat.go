// Package logformat holds the line formats of instrument log files and the
// run directory naming convention.
package logformat

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rescale/runwatch/internal/constants"
)

var (
	// RunCompleted matches RTA's final line. Group 1 is "MM/DD/YYYY,HH:MM:SS".
	// Both the "Processing" and "Procesing" spellings occur in the wild.
	RunCompleted = regexp.MustCompile(`(\d{1,2}/\d{1,2}/\d{4},\d{2}:\d{2}:\d{2})\.\d{3},\d+,\d+,\d+,Proce[se]sing\s+completed\.\s+Run\s+has\s+finished\.`)

	// LastEntry matches any timestamped RTA log line. Group 1 is the date.
	LastEntry = regexp.MustCompile(`(\d{1,2}/\d{1,2}/\d{4},\d{2}:\d{2}:\d{2})\.\d{3},\d+,\d+,\d+,.*`)

	// EventsLine matches a timestamped Events.log line. Groups 1 and 2 are date and time.
	EventsLine = regexp.MustCompile(`\.*\s+(\d{1,2}/\d{2}/\d{4})\s+(\d{1,2}:\d{2}:\d{2}).\d+.*`)

	// RTACompleteLine matches the timestamp in RTAComplete.txt. Groups 1 and 2 are date and time.
	RTACompleteLine = regexp.MustCompile(`\.*(\d{1,2}/\d{1,2}/\d{4}),(\d{1,2}:\d{1,2}:\d{1,2}).\d+.*`)

	// ExitedBeforeCompletion matches RTA's early-exit message.
	ExitedBeforeCompletion = regexp.MustCompile(`.*(Application\sexited\sbefore\scompletion).*`)

	// RunDirName is the run directory naming convention
	// YYMMDD_<instrument>_<run number>_<flowcell descriptor>. Group 1 is the start date.
	RunDirName = regexp.MustCompile(`^(\d{6})_[A-Za-z0-9]+_\d+_[A-Za-z0-9_+\-]*$`)

	// RunNameInPath extracts a run directory name from any path inside it.
	RunNameInPath = regexp.MustCompile(`^.*/(\d+_[A-Za-z0-9]+_\d+_[A-Za-z0-9_+\-]*)/?.*$`)
)

// EndImaging matches the CycleTimes.txt line recording the end of imaging for
// the given cycle. Groups 1 and 2 are date and time.
func EndImaging(cycle int) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(\d{1,2}/\d{1,2}/\d{4})\s+(\d{2}:\d{2}:\d{2})\.\d{3}\s+[A-Za-z0-9]+\s+%d\s+End\sImaging`, cycle))
}

// JoinDate combines separate date and time groups into the log date form.
func JoinDate(date, clock string) string {
	return date + "," + clock
}

// ParseDate parses a log date "MM/DD/YYYY,HH:MM:SS".
func ParseDate(s string) (time.Time, error) {
	return time.Parse(constants.LogDateLayout, s)
}

// StartDate returns the YYMMDD start date encoded in a run name.
func StartDate(runName string) (string, bool) {
	m := RunDirName.FindStringSubmatch(runName)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// RunNameFromPath returns the run directory name found in path, if any.
func RunNameFromPath(path string) (string, bool) {
	m := RunNameInPath.FindStringSubmatch(filepath.ToSlash(path))
	if m == nil {
		return "", false
	}
	return m[1], true
}
