// Package metadata extracts run attributes from the XML documents an
// instrument writes into a run directory: run-info, run-parameters and the
// status document.
package metadata

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rescale/runwatch/internal/constants"
	"github.com/rescale/runwatch/internal/fsutil"
	"github.com/rescale/runwatch/internal/logging"
	"github.com/rescale/runwatch/internal/models"
)

// StatusLayout selects how the status document is read.
type StatusLayout int

const (
	// StatusNone: no status document (newer instruments)
	StatusNone StatusLayout = iota
	// StatusLegacy: Data/Status.xml, only the run name is read
	StatusLegacy
	// StatusCurrent: Data/reports/Status.xml, reads and cycle counters are read
	StatusCurrent
)

// StatusSource names the status document to read, if any.
type StatusSource struct {
	Layout StatusLayout
	Path   string // Relative to the run directory
}

// Info is extraction output that is not part of the run document.
type Info struct {
	// NumReads is the status NumberOfReads, else the number of run-info Read elements
	NumReads int

	// RunInfoPresent is true when RunInfo.xml was read and parsed
	RunInfoPresent bool

	// RunParamsPresent is true when a run-parameters document was read and parsed
	RunParamsPresent bool

	// StaleRunParameters is true when no canonical run-parameters document
	// exists but a runParameters.xml* variant does. This signals an aborted run.
	StaleRunParameters bool

	// StatusRead is true when the status document was read and parsed
	StatusRead bool

	// CyclesMismatch is true when the status NumCycles differs from any of
	// ImgCycle, ScoreCycle or CallCycle. Only set when all four are reported.
	CyclesMismatch bool
}

// Extractor fills run documents from instrument XML metadata.
type Extractor struct {
	log *logging.Logger
}

// NewExtractor creates an extractor. A nil logger disables logging.
func NewExtractor(log *logging.Logger) *Extractor {
	return &Extractor{log: logging.OrNop(log)}
}

// statusErrorDocument is stored in place of a status document that exists but cannot be read.
func statusErrorDocument(runName string) string {
	return fmt.Sprintf("<error><RunName>%s</RunName><ErrorMessage>Cannot read status file</ErrorMessage></error>", xmlEscape(runName))
}

// StatusRunName returns the RunName recorded in the status document, or "".
// The classifier uses it to name the run document before any field is filled.
func (x *Extractor) StatusRunName(runDir string, status StatusSource) string {
	if status.Layout == StatusNone {
		return ""
	}
	doc, _ := x.load(filepath.Join(runDir, status.Path))
	if doc == nil {
		return ""
	}
	name, _ := doc.FirstText("RunName")
	return name
}

// Extract reads the metadata documents of runDir into doc, filling only
// fields that are still empty.
//
// Precedence:
//   - numCycles: status NumCycles, else sum of run-info Read/@NumCycles
//   - sequencerName: status or run-parameters ScannerID, else run-info Instrument
//   - containerId: run-info FlowcellId, else run-info Flowcell, else run-parameters Barcode
//   - laneCount: run-info FlowcellLayout/@LaneCount
func (x *Extractor) Extract(runDir string, status StatusSource, doc *models.RunDocument) Info {
	log := x.log.WithRun(doc.RunName)
	var info Info

	var statusDoc *Document
	if status.Layout != StatusNone {
		var err error
		statusDoc, err = x.load(filepath.Join(runDir, status.Path))
		if statusDoc != nil {
			info.StatusRead = true
			models.SetString(&doc.Status, statusDoc.Raw)
		} else {
			log.Error().Err(err).Str("file", status.Path).Msg("cannot read status file")
			models.SetString(&doc.Status, statusErrorDocument(doc.RunName))
		}
	}

	runInfo, err := x.load(filepath.Join(runDir, constants.RunInfoFile))
	if runInfo != nil {
		info.RunInfoPresent = true
		models.SetString(&doc.RunInfo, runInfo.Raw)
	} else if err != nil {
		log.Warn().Err(err).Str("file", constants.RunInfoFile).Msg("skipping run-info document")
	}

	runParams, stale := x.loadRunParameters(runDir, log)
	if runParams != nil {
		info.RunParamsPresent = true
		models.SetString(&doc.RunParams, runParams.Raw)
	}
	info.StaleRunParameters = stale

	if status.Layout == StatusCurrent && statusDoc != nil {
		x.readCurrentStatus(statusDoc, doc, &info, log)
	}

	// Sequencer name
	for _, src := range []*Document{statusDoc, runParams} {
		if v, ok := src.FirstText("ScannerID"); ok {
			models.SetString(&doc.SequencerName, v)
		}
	}
	if v, ok := runInfo.FirstText("Instrument"); ok {
		models.SetString(&doc.SequencerName, v)
	}

	// Container id
	for _, name := range []string{"FlowcellId", "Flowcell"} {
		if v, ok := runInfo.FirstText(name); ok {
			models.SetString(&doc.ContainerID, v)
		}
	}
	if v, ok := runParams.FirstText("Barcode"); ok {
		models.SetString(&doc.ContainerID, v)
	}

	if runInfo != nil {
		reads := runInfo.All("Read")
		if !doc.HasNumCycles() && len(reads) > 0 {
			sum := 0
			for _, r := range reads {
				v, ok := r.Attr("NumCycles")
				if !ok || v == "" {
					continue
				}
				n, err := strconv.Atoi(v)
				if err != nil {
					log.Warn().Str("value", v).Msg("ignoring non-numeric Read NumCycles")
					continue
				}
				sum += n
			}
			models.SetInt(&doc.NumCycles, sum)
		}
		if info.NumReads == 0 {
			info.NumReads = len(reads)
		}

		if layout := runInfo.First("FlowcellLayout"); layout != nil {
			if v, ok := layout.Attr("LaneCount"); ok {
				if n, err := strconv.Atoi(v); err == nil {
					models.SetInt(&doc.LaneCount, n)
				} else {
					log.Warn().Str("value", v).Msg("ignoring non-numeric LaneCount")
				}
			}
		}
	}

	return info
}

func (x *Extractor) readCurrentStatus(statusDoc *Document, doc *models.RunDocument, info *Info, log *logging.Logger) {
	if n, ok := intField(statusDoc, "NumberOfReads", log); ok {
		info.NumReads = n
	}

	numCycles, ok := intField(statusDoc, "NumCycles", log)
	if !ok {
		return
	}
	models.SetInt(&doc.NumCycles, numCycles)

	img, okImg := intField(statusDoc, "ImgCycle", log)
	score, okScore := intField(statusDoc, "ScoreCycle", log)
	call, okCall := intField(statusDoc, "CallCycle", log)
	if okImg && okScore && okCall {
		info.CyclesMismatch = numCycles != img || numCycles != score || numCycles != call
	}
}

func intField(doc *Document, name string, log *logging.Logger) (int, bool) {
	v, ok := doc.FirstText(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("field", name).Str("value", v).Msg("ignoring non-numeric status field")
		return 0, false
	}
	return n, true
}

// loadRunParameters reads runParameters.xml (or RunParameters.xml). When
// neither is usable it reports whether a runParameters.xml* variant exists.
func (x *Extractor) loadRunParameters(runDir string, log *logging.Logger) (*Document, bool) {
	for _, name := range []string{constants.RunParametersFile, constants.RunParametersFileAlt} {
		doc, err := x.load(filepath.Join(runDir, name))
		if doc != nil {
			return doc, false
		}
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("skipping run-parameters document")
		}
	}

	for _, name := range fsutil.Glob(runDir, constants.RunParametersGlob) {
		if name == constants.RunParametersFile {
			continue
		}
		log.Debug().Str("file", name).Msg("found stale run-parameters variant")
		return nil, true
	}
	return nil, false
}

// load reads and parses an XML file. A missing file yields (nil, nil).
func (x *Extractor) load(path string) (*Document, error) {
	if !fsutil.IsFile(path) {
		return nil, nil
	}
	if !fsutil.Readable(path) {
		return nil, fmt.Errorf("%s: %w", path, os.ErrPermission)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return doc, nil
}

func xmlEscape(s string) string {
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(s))
	return sb.String()
}
