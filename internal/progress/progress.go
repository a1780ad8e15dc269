// Package progress reports scan progress on a terminal, or nowhere when
// output is redirected.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Reporter tracks how many runs of a pass have been classified.
type Reporter interface {
	Start(total int, description string)
	Update(done int)
	Finish()
}

// CLIProgress renders a progress bar on stderr.
type CLIProgress struct {
	mu  sync.Mutex
	out io.Writer
	bar *progressbar.ProgressBar
}

// NewCLIProgress creates a progress bar reporter writing to out.
// A nil out writes to stderr.
func NewCLIProgress(out io.Writer) *CLIProgress {
	if out == nil {
		out = os.Stderr
	}
	return &CLIProgress{out: out}
}

// Start initializes the bar with the number of runs in the pass.
func (p *CLIProgress) Start(total int, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.out
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update moves the bar to done runs.
func (p *CLIProgress) Update(done int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Set(done)
	}
}

// Finish completes the bar.
func (p *CLIProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// NoOpProgress is a progress reporter that does nothing (for background/silent operations).
type NoOpProgress struct{}

// Start does nothing.
func (NoOpProgress) Start(total int, description string) {}

// Update does nothing.
func (NoOpProgress) Update(done int) {}

// Finish does nothing.
func (NoOpProgress) Finish() {}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// ForStderr returns a bar when stderr is a terminal and quiet is false,
// and a NoOpProgress otherwise.
func ForStderr(quiet bool) Reporter {
	if quiet || !IsTerminal(os.Stderr) {
		return NoOpProgress{}
	}
	return NewCLIProgress(os.Stderr)
}

// Func adapts r to the scanner's progress callback. The bar is started on
// the first call, when the total is known. Callbacks arrive from several
// goroutines, so counts that are already behind are dropped.
func Func(r Reporter, description string) func(done, total int) {
	var (
		mu      sync.Mutex
		started bool
		last    int
	)
	return func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if !started {
			r.Start(total, description)
			started = true
		}
		if done <= last {
			return
		}
		last = done
		r.Update(done)
		if done == total {
			r.Finish()
		}
	}
}
