// Package interop summarizes the binary InterOp metric files a run writes.
package interop

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rescale/runwatch/internal/constants"
	"github.com/rescale/runwatch/internal/fsutil"
)

var (
	// ErrNoInterOp is returned when a run has no InterOp metric files.
	ErrNoInterOp = errors.New("no InterOp metric files")
	// ErrBadHeader is returned for a metric file too short to carry a header.
	ErrBadHeader = errors.New("truncated InterOp header")
)

// Decoder turns the InterOp directory of a run into a metrics document.
type Decoder interface {
	Decode(runDir string) (json.RawMessage, error)
}

// FileSummary describes one metric file.
type FileSummary struct {
	Name       string `json:"name"`
	Version    int    `json:"version"`
	RecordSize int    `json:"recordSize"`
	Records    int64  `json:"records"`
	// Trailing bytes that do not form a whole record.
	Remainder int64 `json:"remainder,omitempty"`
}

// Summary is the metrics document produced by HeaderDecoder.
type Summary struct {
	Files []FileSummary `json:"files"`
}

// HeaderDecoder reads the two-byte header (version, record size) of every
// InterOp/*.bin file and derives record counts from file sizes.
type HeaderDecoder struct{}

func (HeaderDecoder) Decode(runDir string) (json.RawMessage, error) {
	dir := filepath.Join(runDir, constants.InterOpDir)
	names := fsutil.Glob(dir, "*.bin")
	if len(names) == 0 {
		return nil, ErrNoInterOp
	}

	summary := Summary{Files: make([]FileSummary, 0, len(names))}
	for _, name := range names {
		fs, err := readHeader(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		summary.Files = append(summary.Files, fs)
	}
	return json.Marshal(summary)
}

func readHeader(path string) (FileSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileSummary{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FileSummary{}, err
	}

	var hdr [2]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return FileSummary{}, ErrBadHeader
	}

	fs := FileSummary{
		Name:       filepath.Base(path),
		Version:    int(hdr[0]),
		RecordSize: int(hdr[1]),
	}
	if fs.RecordSize == 0 {
		return FileSummary{}, fmt.Errorf("%w: zero record size", ErrBadHeader)
	}
	body := info.Size() - int64(len(hdr))
	fs.Records = body / int64(fs.RecordSize)
	fs.Remainder = body % int64(fs.RecordSize)
	return fs, nil
}
