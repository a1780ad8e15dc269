// Package testutil builds synthetic run directories for tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// RunDir is a run directory under a test's temp dir.
type RunDir struct {
	t    testing.TB
	Name string
	Path string
}

// NewRunDir creates an empty run directory called name.
func NewRunDir(t testing.TB, name string) *RunDir {
	t.Helper()
	return NewRunDirIn(t, t.TempDir(), name)
}

// NewRunDirIn creates an empty run directory called name under parent.
func NewRunDirIn(t testing.TB, parent, name string) *RunDir {
	t.Helper()
	path := filepath.Join(parent, name)
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("Failed to create run dir: %v", err)
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		t.Fatalf("Failed to resolve run dir: %v", err)
	}
	return &RunDir{t: t, Name: name, Path: resolved}
}

// Write creates rel (and its parents) with the given content.
func (r *RunDir) Write(rel, content string) *RunDir {
	r.t.Helper()
	full := filepath.Join(r.Path, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		r.t.Fatalf("Failed to create %s: %v", rel, err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		r.t.Fatalf("Failed to write %s: %v", rel, err)
	}
	return r
}

// Touch creates empty marker files.
func (r *RunDir) Touch(rels ...string) *RunDir {
	r.t.Helper()
	for _, rel := range rels {
		r.Write(rel, "")
	}
	return r
}

// WriteLines writes lines joined by newlines, with a trailing newline.
func (r *RunDir) WriteLines(rel string, lines ...string) *RunDir {
	r.t.Helper()
	return r.Write(rel, strings.Join(lines, "\n")+"\n")
}

// RunInfo writes a RunInfo.xml with one Read element per cycle count.
func (r *RunDir) RunInfo(instrument, flowcell string, cycles ...int) *RunDir {
	r.t.Helper()
	var reads strings.Builder
	for i, c := range cycles {
		fmt.Fprintf(&reads, "      <Read Number=\"%d\" NumCycles=\"%d\" IsIndexedRead=\"N\" />\n", i+1, c)
	}
	return r.Write("RunInfo.xml", fmt.Sprintf(`<?xml version="1.0"?>
<RunInfo xmlns:xsd="http://www.w3.org/2001/XMLSchema" Version="2">
  <Run Id="%s" Number="1">
    <Flowcell>%s</Flowcell>
    <Instrument>%s</Instrument>
    <Date>150101</Date>
    <Reads>
%s    </Reads>
    <FlowcellLayout LaneCount="1" SurfaceCount="2" SwathCount="1" TileCount="12" />
  </Run>
</RunInfo>
`, r.Name, flowcell, instrument, reads.String()))
}

// RunParameters writes a runParameters.xml with the given scanner id and barcode.
func (r *RunDir) RunParameters(scannerID, barcode string) *RunDir {
	r.t.Helper()
	return r.Write("runParameters.xml", fmt.Sprintf(`<?xml version="1.0"?>
<RunParameters>
  <Setup>
    <ScannerID>%s</ScannerID>
    <Barcode>%s</Barcode>
  </Setup>
</RunParameters>
`, scannerID, barcode))
}

// LegacyStatus writes Data/Status.xml naming the run.
func (r *RunDir) LegacyStatus(runName string) *RunDir {
	r.t.Helper()
	return r.Write("Data/Status.xml", fmt.Sprintf(`<?xml version="1.0"?>
<Status>
  <Software>RTA 1.12</Software>
  <RunName>%s</RunName>
</Status>
`, runName))
}

// CurrentStatus writes Data/reports/Status.xml with reads and cycle counters.
func (r *RunDir) CurrentStatus(runName string, reads, numCycles, img, score, call int) *RunDir {
	r.t.Helper()
	return r.Write("Data/reports/Status.xml", fmt.Sprintf(`<?xml version="1.0"?>
<Status>
  <RunName>%s</RunName>
  <NumberOfReads>%d</NumberOfReads>
  <NumCycles>%d</NumCycles>
  <ImgCycle>%d</ImgCycle>
  <ScoreCycle>%d</ScoreCycle>
  <CallCycle>%d</CallCycle>
</Status>
`, runName, reads, numCycles, img, score, call))
}

// ReadMarkers touches Basecalling_Netcopy_complete_Read<i>.txt for 1..n.
func (r *RunDir) ReadMarkers(n int) *RunDir {
	r.t.Helper()
	for i := 1; i <= n; i++ {
		r.Touch(fmt.Sprintf("Basecalling_Netcopy_complete_Read%d.txt", i))
	}
	return r
}

// RTALine formats a line as RTA writes it to Data/RTALogs/Log.txt.
func RTALine(date, message string) string {
	return fmt.Sprintf("%s.123,4321,1234,0,%s", date, message)
}

// CycleTimesLine formats a CycleTimes.txt "End Imaging" line.
// date is "MM/DD/YYYY", clock "HH:MM:SS".
func CycleTimesLine(date, clock string, cycle int) string {
	return fmt.Sprintf("%s\t%s.456\tA\t%d\tEnd Imaging", date, clock, cycle)
}
