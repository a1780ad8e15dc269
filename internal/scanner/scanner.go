// Package scanner classifies batches of run directories on a bounded worker
// pool, consulting the completion cache before doing any inspection.
package scanner

import (
	"context"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/rescale/runwatch/internal/cache"
	"github.com/rescale/runwatch/internal/classifier"
	"github.com/rescale/runwatch/internal/constants"
	"github.com/rescale/runwatch/internal/events"
	"github.com/rescale/runwatch/internal/fsutil"
	"github.com/rescale/runwatch/internal/logging"
	"github.com/rescale/runwatch/internal/models"
)

// Skip reasons
const (
	ReasonNotFound         = "path does not exist"
	ReasonNotDirectory     = "not a directory"
	ReasonPermission       = "permission denied"
	ReasonPanic            = "panic during classification"
	ReasonUnreachable      = "unexpected condition reached examining run"
	ReasonDeadlineExceeded = "batch deadline exceeded"
	ReasonDuplicate        = "run already scanned in this pass"
)

// ProgressFunc is called after each run finishes, from worker goroutines.
type ProgressFunc func(done, total int)

// Config holds scanner dependencies.
type Config struct {
	Classifier  *classifier.Classifier
	Cache       cache.Store
	Bus         *events.EventBus
	Logger      *logging.Logger
	Concurrency int
	Progress    ProgressFunc
}

// Scanner runs classification passes. It is safe to call Scan from several
// goroutines; the cache is the only state shared between passes.
type Scanner struct {
	classifier  *classifier.Classifier
	cache       cache.Store
	bus         *events.EventBus
	log         *logging.Logger
	concurrency int
	progress    ProgressFunc
}

// New creates a scanner. Missing dependencies fall back to defaults: a fresh
// classifier, an in-memory cache and a disabled logger.
func New(cfg Config) *Scanner {
	log := logging.OrNop(cfg.Logger)
	s := &Scanner{
		classifier:  cfg.Classifier,
		cache:       cfg.Cache,
		bus:         cfg.Bus,
		log:         log,
		concurrency: ClampConcurrency(cfg.Concurrency),
		progress:    cfg.Progress,
	}
	if s.classifier == nil {
		s.classifier = classifier.New(log)
	}
	if s.cache == nil {
		s.cache = cache.NewMemoryStore()
	}
	return s
}

// ClampConcurrency bounds n to the supported worker range; 0 means default.
func ClampConcurrency(n int) int {
	switch {
	case n <= 0:
		return constants.DefaultScanConcurrency
	case n < constants.MinScanConcurrency:
		return constants.MinScanConcurrency
	case n > constants.MaxScanConcurrency:
		return constants.MaxScanConcurrency
	}
	return n
}

// Cache returns the completion cache used by the scanner.
func (s *Scanner) Cache() cache.Store { return s.cache }

// result is what one task hands back to the pass.
type result struct {
	index     int
	path      string
	name      string // cache key
	state     models.RunState
	doc       *models.RunDocument
	fromCache bool
	skip      string
}

// pass collects task results. Once closed, late results are discarded and
// never reach the cache.
type pass struct {
	mu      sync.Mutex
	results []result
	filled  []bool
	claimed map[string]int // canonical run name -> input index
	closed  bool
}

func newPass(paths []string) *pass {
	return &pass{
		results: make([]result, len(paths)),
		filled:  make([]bool, len(paths)),
		claimed: make(map[string]int, len(paths)),
	}
}

// claim reserves a run name for index i. It fails when another input path
// already resolved to the same run.
func (ps *pass) claim(name string, i int) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if owner, ok := ps.claimed[name]; ok && owner != i {
		return false
	}
	ps.claimed[name] = i
	return true
}

// record stores res unless the pass is closed. commit runs under the same
// lock so nothing is cached for a run the report leaves out.
func (ps *pass) record(res result, commit func(result)) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.closed {
		return false
	}
	if commit != nil {
		commit(res)
	}
	ps.results[res.index] = res
	ps.filled[res.index] = true
	return true
}

// close stops accepting results and returns them in input order. Slots with
// no result are reported as missing the deadline.
func (ps *pass) close(paths []string) []result {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.closed = true
	out := make([]result, len(ps.results))
	for i := range ps.results {
		if ps.filled[i] {
			out[i] = ps.results[i]
			continue
		}
		out[i] = result{index: i, path: paths[i], skip: ReasonDeadlineExceeded}
	}
	return out
}

// Scan classifies every path. Runs not started, or finishing, after ctx is
// done are excluded from the report, and Scan returns without waiting for
// them. A run name is classified at most once per pass; later paths naming
// the same run are skipped. Per-run failures never fail the pass; they are
// reported as skips.
func (s *Scanner) Scan(ctx context.Context, paths []string) (*Report, error) {
	started := time.Now()
	report := newReport(uuid.NewString(), started)

	ps := newPass(paths)

	// Paths whose base names collide never reach the pool.
	seen := make(map[string]struct{}, len(paths))
	queued := make([]int, 0, len(paths))
	for i, path := range paths {
		name := filepath.Base(filepath.Clean(path))
		if _, dup := seen[name]; dup {
			ps.record(result{index: i, path: path, skip: ReasonDuplicate}, nil)
			continue
		}
		seen[name] = struct{}{}
		queued = append(queued, i)
	}

	var done atomic.Int64
	total := len(queued)

	p := pool.New().WithMaxGoroutines(s.concurrency)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for _, i := range queued {
			i, path := i, paths[i]
			p.Go(func() {
				defer func() {
					if r := recover(); r != nil {
						s.log.Error().
							Str("path", path).
							Interface("panic", r).
							Str("stack", string(debug.Stack())).
							Msg("recovered panic while classifying run")
						ps.record(result{index: i, path: path, skip: ReasonPanic}, nil)
					}
					if s.progress != nil {
						s.progress(int(done.Add(1)), total)
					}
				}()

				if ctx.Err() != nil {
					return
				}
				res := s.scanOne(ps, i, path)
				if ctx.Err() != nil && res.skip == "" {
					return
				}
				if !ps.record(res, s.cacheCompleted) {
					s.log.Debug().Str("path", path).Msg("discarding run finished after deadline")
				}
			})
		}
		p.Wait()
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		s.log.Warn().Str("scan", report.ScanID).Msg("batch deadline reached, leaving unfinished runs out of the pass")
	}
	results := ps.close(paths)

	for _, res := range results {
		if res.skip != "" {
			report.Skipped = append(report.Skipped, Skip{Path: res.path, Reason: res.skip})
			s.bus.PublishRunSkipped(report.ScanID, filepath.Base(res.path), res.path, res.skip)
			continue
		}
		if res.fromCache {
			report.CacheHits++
		}
		report.add(res.state, res.doc)
		s.bus.PublishRunState(report.ScanID, res.doc.RunName, res.doc.FullPath, res.state.String(), res.fromCache)
	}
	report.Duration = time.Since(started)

	s.bus.Publish(&events.ScanCompleteEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventScanComplete, Time: time.Now()},
		ScanID:    report.ScanID,
		Counts:    report.Counts(),
		Skipped:   len(report.Skipped),
		CacheHits: report.CacheHits,
		Duration:  report.Duration,
	})

	s.log.Debug().
		Str("scan", report.ScanID).
		Int("runs", report.Len()).
		Int("skipped", len(report.Skipped)).
		Int("cache_hits", report.CacheHits).
		Dur("duration", report.Duration).
		Msg("scan pass complete")
	return report, nil
}

// resolve canonicalizes path and checks it can be inspected.
func (s *Scanner) resolve(path string) (models.RunDirectory, string) {
	canon, err := fsutil.Canonical(path)
	if err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("skipping run path")
		return models.RunDirectory{}, ReasonNotFound
	}
	if !fsutil.IsDir(canon) {
		s.log.Warn().Str("path", canon).Msg("skipping run path: not a directory")
		return models.RunDirectory{}, ReasonNotDirectory
	}
	if !fsutil.Readable(canon) {
		s.log.Warn().Str("path", canon).Msg("cannot read into run directory: permission denied")
		return models.RunDirectory{}, ReasonPermission
	}
	return models.RunDirectory{Name: filepath.Base(canon), Path: canon}, ""
}

// cacheCompleted stores freshly classified Completed runs.
func (s *Scanner) cacheCompleted(res result) {
	if res.skip != "" || res.state != models.StateCompleted || res.fromCache {
		return
	}
	if err := s.cache.Put(res.name, res.doc); err != nil {
		s.log.Warn().Err(err).Str("run", res.doc.RunName).Msg("failed to cache completed run")
	}
}

func (s *Scanner) scanOne(ps *pass, index int, path string) result {
	res := result{index: index, path: path}

	dir, skip := s.resolve(path)
	if skip != "" {
		res.skip = skip
		return res
	}
	if !ps.claim(dir.Name, index) {
		s.log.Warn().Str("run", dir.Name).Str("path", path).Msg("skipping run already scanned in this pass")
		res.skip = ReasonDuplicate
		return res
	}
	res.name = dir.Name

	if doc, ok := s.cache.Get(dir.Name); ok {
		changed, err := s.cache.PatchPath(dir.Name, dir.Path)
		if err != nil {
			s.log.Warn().Err(err).Str("run", dir.Name).Msg("failed to update cached run path")
		} else if changed {
			s.log.Debug().Str("run", dir.Name).Str("path", dir.Path).Msg("completed run moved")
		}
		doc.FullPath = dir.Path
		res.doc, res.state, res.fromCache = doc, models.StateCompleted, true
		return res
	}

	out, err := s.classifier.Classify(dir)
	if err != nil {
		res.skip = ReasonUnreachable
		return res
	}
	res.doc, res.state = out.Doc, out.State
	return res
}
