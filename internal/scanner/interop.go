package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/sourcegraph/conc/pool"

	"github.com/rescale/runwatch/internal/interop"
)

// InterOp error messages reported to consumers.
const (
	InterOpPermissionDenied = "Cannot read into run directory. Permission denied."
	InterOpParseFailed      = "Cannot provide metrics - parsing failed."
)

// InterOpRecord is the metrics result for one run.
type InterOpRecord struct {
	RunName string          `json:"runName" yaml:"runName"`
	Metrix  json.RawMessage `json:"metrix,omitempty" yaml:"-"`
	Error   string          `json:"error,omitempty" yaml:"error,omitempty"`
}

type interopResult struct {
	index  int
	record *InterOpRecord
}

// ScanInterOp decodes the InterOp metrics of every path. Cached Completed runs
// reuse metrics already attached to their document, or get them attached.
// Paths that are not directories are omitted.
func (s *Scanner) ScanInterOp(ctx context.Context, paths []string, dec interop.Decoder) ([]InterOpRecord, error) {
	if dec == nil {
		dec = interop.HeaderDecoder{}
	}

	p := pool.NewWithResults[interopResult]().
		WithContext(ctx).
		WithMaxGoroutines(s.concurrency)

	for i, path := range paths {
		i, path := i, path
		p.Go(func(ctx context.Context) (res interopResult, err error) {
			res.index = i
			defer func() {
				if r := recover(); r != nil {
					s.log.Error().Str("path", path).Interface("panic", r).Msg("recovered panic while decoding InterOp metrics")
					res.record = nil
				}
			}()
			if ctx.Err() != nil {
				return res, nil
			}
			res.record = s.interopOne(path, dec)
			return res, nil
		})
	}

	results, err := p.Wait()
	if err != nil {
		return nil, fmt.Errorf("interop pass failed: %w", err)
	}
	sort.Slice(results, func(a, b int) bool { return results[a].index < results[b].index })

	records := make([]InterOpRecord, 0, len(results))
	for _, res := range results {
		if res.record != nil {
			records = append(records, *res.record)
		}
	}
	return records, nil
}

func (s *Scanner) interopOne(path string, dec interop.Decoder) *InterOpRecord {
	dir, skip := s.resolve(path)
	switch skip {
	case "":
	case ReasonPermission:
		return &InterOpRecord{RunName: filepath.Base(path), Error: InterOpPermissionDenied}
	default:
		return nil
	}

	cached, ok := s.cache.Get(dir.Name)
	if ok && len(cached.Metrix) > 0 {
		return &InterOpRecord{RunName: cached.RunName, Metrix: cached.Metrix}
	}

	metrix, err := dec.Decode(dir.Path)
	if err != nil {
		s.log.Warn().Err(err).Str("run", dir.Name).Msg("failed to parse InterOp metrics")
		return &InterOpRecord{RunName: dir.Name, Error: InterOpParseFailed}
	}

	if ok {
		cached.Metrix = metrix
		cached.FullPath = dir.Path
		if err := s.cache.Put(dir.Name, cached); err != nil {
			s.log.Warn().Err(err).Str("run", dir.Name).Msg("failed to attach metrics to cached run")
		}
		return &InterOpRecord{RunName: cached.RunName, Metrix: metrix}
	}
	return &InterOpRecord{RunName: dir.Name, Metrix: metrix}
}
