// Package tailmatch searches the last lines of a log file for a pattern.
//
// Files are read backwards in fixed-size chunks, so memory use is bounded by
// the line window rather than the file size. Instrument software appends to
// these logs while a run is in progress; a missing, unreadable or truncated
// file simply produces no match.
package tailmatch

import (
	"bytes"
	"errors"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/rescale/runwatch/internal/constants"
	"github.com/rescale/runwatch/internal/logging"
)

// Result holds the first match found, scanning from the end of the file.
type Result struct {
	Line   string   // Matched line, line ending stripped
	Groups []string // Groups[0] is the whole match, Groups[i] the i-th capture group
}

// Group returns capture group i, or "" when it does not exist.
func (r *Result) Group(i int) string {
	if r == nil || i < 0 || i >= len(r.Groups) {
		return ""
	}
	return r.Groups[i]
}

// Matcher tails files. The zero value is not usable; use New.
type Matcher struct {
	log       *logging.Logger
	chunkSize int
	maxBytes  int
}

// New creates a matcher. A nil logger disables logging.
func New(log *logging.Logger) *Matcher {
	return &Matcher{
		log:       logging.OrNop(log),
		chunkSize: constants.TailReadChunkSize,
		maxBytes:  constants.TailMaxBytes,
	}
}

// Match applies pattern to each of the last maxLines lines of path, most
// recent first, and returns the first match. I/O errors are logged at debug
// level and reported as no match.
func (m *Matcher) Match(path string, pattern *regexp.Regexp, maxLines int) (*Result, bool) {
	if pattern == nil || maxLines < 1 {
		return nil, false
	}
	lines, err := m.Tail(path, maxLines)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.log.Debug().Str("path", path).Msg("tail: file not present")
		} else {
			m.log.Debug().Err(err).Str("path", path).Msg("tail: cannot read file")
		}
		return nil, false
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if groups := pattern.FindStringSubmatch(lines[i]); groups != nil {
			return &Result{Line: lines[i], Groups: groups}, true
		}
	}
	return nil, false
}

// Tail returns up to the last maxLines lines of path in file order.
// A trailing newline does not produce an extra empty line and "\r\n"
// endings are stripped.
func (m *Matcher) Tail(path string, maxLines int) ([]string, error) {
	if maxLines < 1 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, errors.New("is a directory")
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	var buf []byte
	pos := size
	trimmedEOL := false
	for pos > 0 {
		n := int64(m.chunkSize)
		if pos < n {
			n = pos
		}
		pos -= n
		chunk := make([]byte, n)
		if _, err := f.ReadAt(chunk, pos); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		buf = append(chunk, buf...)

		if !trimmedEOL {
			// The file may still be growing; only the size seen at Stat counts.
			buf = bytes.TrimSuffix(buf, []byte("\n"))
			trimmedEOL = true
		}
		if bytes.Count(buf, []byte("\n")) >= maxLines || len(buf) >= m.maxBytes {
			break
		}
	}

	lines := strings.Split(string(buf), "\n")
	if pos > 0 && len(lines) > 1 {
		// First element is a partial line
		lines = lines[1:]
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines, nil
}
