// Package watch turns file-system activity under the run roots into
// debounced rescan triggers.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rescale/runwatch/internal/constants"
	"github.com/rescale/runwatch/internal/logging"
)

// Trigger lists the run directories that changed during one quiet period.
type Trigger struct {
	Runs []string
}

// Watcher monitors each root and its immediate run directories. fsnotify is
// not recursive, so marker files written deeper in a run are picked up by
// the daemon's regular poll instead.
type Watcher struct {
	roots    []string
	watcher  *fsnotify.Watcher
	triggers chan Trigger
	debounce time.Duration
	log      *logging.Logger

	mu      sync.Mutex
	watched map[string]bool
}

// New creates a watcher for roots. debounce <= 0 uses the default.
func New(roots []string, debounce time.Duration, log *logging.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = constants.WatchDebounce
	}
	clean := make([]string, 0, len(roots))
	for _, r := range roots {
		clean = append(clean, filepath.Clean(r))
	}
	return &Watcher{
		roots:    clean,
		watcher:  fsWatcher,
		triggers: make(chan Trigger, 1),
		debounce: debounce,
		log:      logging.OrNop(log),
		watched:  make(map[string]bool),
	}, nil
}

// Triggers returns the channel receiving debounced change notifications.
// It is closed when the watcher stops.
func (w *Watcher) Triggers() <-chan Trigger {
	return w.triggers
}

// Start adds the roots and their run directories and begins watching.
func (w *Watcher) Start(ctx context.Context) error {
	for _, root := range w.roots {
		if err := w.add(root); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", root, err)
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
				if err := w.add(filepath.Join(root, e.Name())); err != nil {
					w.log.Debug().Err(err).Str("dir", e.Name()).Msg("cannot watch run directory")
				}
			}
		}
	}
	go w.run(ctx)
	return nil
}

// Stop releases the underlying watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// Watched returns the number of directories under watch.
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}

func (w *Watcher) add(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[dir] {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.watched[dir] = true
	return nil
}

func (w *Watcher) forget(dir string) {
	w.mu.Lock()
	delete(w.watched, dir)
	w.mu.Unlock()
}

// runDirFor maps a changed path to the run directory it belongs to: the
// immediate child of a root. Changes to a root itself map to the entry.
func (w *Watcher) runDirFor(path string) (string, bool) {
	path = filepath.Clean(path)
	for _, root := range w.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		first := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
		if strings.HasPrefix(first, ".") {
			return "", false
		}
		return filepath.Join(root, first), true
	}
	return "", false
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.triggers)

	// Debounce map: run directory -> last activity
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			dir, ok := w.runDirFor(event.Name)
			if !ok {
				continue
			}
			if event.Op&fsnotify.Create != 0 && dir == filepath.Clean(event.Name) {
				if info, err := os.Stat(dir); err == nil && info.IsDir() {
					if err := w.add(dir); err != nil {
						w.log.Debug().Err(err).Str("dir", dir).Msg("cannot watch new run directory")
					}
				}
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && dir == filepath.Clean(event.Name) {
				w.forget(dir)
			}
			pending[dir] = time.Now()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("file watch error")

		case <-ticker.C:
			now := time.Now()
			var ready []string
			for dir, last := range pending {
				if now.Sub(last) >= w.debounce {
					ready = append(ready, dir)
					delete(pending, dir)
				}
			}
			if len(ready) == 0 {
				continue
			}
			sort.Strings(ready)
			select {
			case w.triggers <- Trigger{Runs: ready}:
			case <-ctx.Done():
				return
			}
		}
	}
}
