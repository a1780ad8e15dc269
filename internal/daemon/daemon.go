// Package daemon runs scan passes over the configured roots on a schedule,
// keeps the completion cache between passes and ships each report.
package daemon

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rescale/runwatch/internal/constants"
	"github.com/rescale/runwatch/internal/events"
	"github.com/rescale/runwatch/internal/localfs"
	"github.com/rescale/runwatch/internal/logging"
	"github.com/rescale/runwatch/internal/models"
	"github.com/rescale/runwatch/internal/scanner"
	"github.com/rescale/runwatch/internal/sink"
	"github.com/rescale/runwatch/internal/watch"
)

// Config holds daemon configuration.
type Config struct {
	// Roots are scanned for run directories on every pass
	Roots []string

	// Discover filters the directories found under Roots
	Discover localfs.DiscoverOptions

	// PollInterval is how often to run a full pass
	PollInterval time.Duration

	// BatchTimeout bounds one pass (0 = unbounded)
	BatchTimeout time.Duration

	// Watch enables file-system triggered passes between polls
	Watch bool

	// WatchDebounce is the quiet period before a triggered pass
	WatchDebounce time.Duration

	// StatusAddr is the listen address of the status endpoint (empty = disabled)
	StatusAddr string

	// StateFile is the path to the daemon state file (empty = in memory)
	StateFile string

	// Logs holds recent log entries served at GET /logs (nil = disabled)
	Logs *LogBuffer
}

// DefaultConfig returns a daemon configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:  constants.DefaultPollInterval,
		WatchDebounce: constants.WatchDebounce,
		StatusAddr:    constants.DefaultStatusAddr,
		StateFile:     DefaultStateFilePath(),
	}
}

// Daemon is the background service classifying runs under the roots.
type Daemon struct {
	cfg       *Config
	scanner   *scanner.Scanner
	publisher sink.Publisher
	bus       *events.EventBus
	state     *State
	monitor   *Monitor
	server    *StatusServer
	watcher   *watch.Watcher
	logger    *logging.Logger

	// pollMu serializes passes started by the ticker and the watcher
	pollMu sync.Mutex

	// Shutdown coordination
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.RWMutex
}

// New creates a new daemon instance. A nil publisher discards reports.
func New(cfg *Config, sc *scanner.Scanner, publisher sink.Publisher, bus *events.EventBus, logger *logging.Logger) (*Daemon, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if sc == nil {
		return nil, fmt.Errorf("scanner is required")
	}
	if publisher == nil {
		publisher = sink.Discard{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.DefaultPollInterval
	}
	logger = logging.OrNop(logger)

	state := NewState(cfg.StateFile)
	if err := state.Load(); err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	return &Daemon{
		cfg:       cfg,
		scanner:   sc,
		publisher: publisher,
		bus:       bus,
		state:     state,
		monitor:   NewMonitor(bus, logger),
		logger:    logger,
		stopChan:  make(chan struct{}),
	}, nil
}

// Start runs an initial pass and begins the polling loop, the watcher and
// the status endpoint as configured.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.mu.Unlock()

	d.logger.Info().
		Strs("roots", d.cfg.Roots).
		Str("poll_interval", d.cfg.PollInterval.String()).
		Str("sink", d.publisher.Name()).
		Msg("Daemon starting")

	d.monitor.Start()

	if d.cfg.StatusAddr != "" {
		d.server = NewStatusServer(d, d.logger)
		if err := d.server.Start(d.cfg.StatusAddr); err != nil {
			d.monitor.Stop()
			d.mu.Lock()
			d.running = false
			d.mu.Unlock()
			return fmt.Errorf("failed to start status server: %w", err)
		}
	}

	// Run initial poll immediately
	d.poll(ctx)

	var triggers <-chan watch.Trigger
	if d.cfg.Watch {
		w, err := watch.New(d.cfg.Roots, d.cfg.WatchDebounce, d.logger)
		if err == nil {
			err = w.Start(ctx)
		}
		if err != nil {
			d.logger.Warn().Err(err).Msg("File watching disabled")
		} else {
			d.watcher = w
			triggers = w.Triggers()
		}
	}

	d.wg.Add(1)
	go d.pollLoop(ctx, triggers)

	return nil
}

// Stop signals the daemon to stop and waits for cleanup.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Daemon stopping")
	close(d.stopChan)
	d.wg.Wait()

	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), constants.StatusServerShutdownTimeout)
		if err := d.server.Shutdown(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("Status server shutdown")
		}
		cancel()
	}
	d.monitor.Stop()

	if err := d.scanner.Cache().Flush(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to flush cache on shutdown")
	}
	if err := d.state.Save(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to save state on shutdown")
	}

	d.logger.Info().Msg("Daemon stopped")
}

// IsRunning returns whether the daemon is currently running.
func (d *Daemon) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// pollLoop runs the periodic polling and watcher-triggered passes.
func (d *Daemon) pollLoop(ctx context.Context, triggers <-chan watch.Trigger) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("Poll loop cancelled by context")
			return
		case <-d.stopChan:
			d.logger.Info().Msg("Poll loop stopped")
			return
		case <-ticker.C:
			d.poll(ctx)
		case trig, ok := <-triggers:
			if !ok {
				triggers = nil
				continue
			}
			d.logger.Debug().Strs("runs", trig.Runs).Msg("File activity, rescanning")
			d.poll(ctx)
		}
	}
}

// poll runs one pass: discover, scan, record transitions, persist, publish.
func (d *Daemon) poll(ctx context.Context) *scanner.Report {
	d.pollMu.Lock()
	defer d.pollMu.Unlock()

	d.logger.Debug().Msg("Starting poll cycle")

	paths := localfs.DiscoverRuns(d.cfg.Roots, d.cfg.Discover, func(root string, err error) {
		d.logger.Warn().Err(err).Str("root", root).Msg("Cannot list scan root")
	})

	scanCtx := ctx
	if d.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, d.cfg.BatchTimeout)
		defer cancel()
	}

	report, err := d.scanner.Scan(scanCtx, paths)
	if err != nil {
		d.logger.Error().Err(err).Msg("Scan pass failed")
		return nil
	}

	transitions := d.state.Apply(report)
	var completed, changed []string
	for _, t := range transitions {
		changed = append(changed, t.Path)
		ev := d.logger.Info().Str("run", t.RunName).Str("to", t.To)
		if t.From != "" {
			ev = ev.Str("from", t.From)
		}
		ev.Msg("Run state changed")
		if t.To == models.StateCompleted.String() {
			completed = append(completed, t.RunName)
		}
	}

	if err := d.scanner.Cache().Flush(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to flush cache after poll")
	}
	if err := d.state.Save(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to save state after poll")
	}

	d.publishReport(ctx, report)
	if len(completed) > 0 {
		d.publish(ctx, report.ScanID, sink.NewMessage(sink.KindCompletedRuns, completed))
	}
	if msg := sink.StatusDocumentsMessage(changed); len(msg.Items) > 0 {
		d.publish(ctx, report.ScanID, msg)
	}
	return report
}

func (d *Daemon) publishReport(ctx context.Context, report *scanner.Report) {
	wire, err := report.Wire()
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to encode report")
		return
	}
	d.publish(ctx, report.ScanID, sink.NewReportMessage(report.ScanID, wire))
}

func (d *Daemon) publish(ctx context.Context, scanID string, msg *sink.Message) {
	if _, ok := d.publisher.(sink.Discard); ok {
		return
	}
	err := d.publisher.Publish(ctx, msg)
	d.bus.Publish(&events.PublishedEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventPublished, Time: time.Now()},
		ScanID:    scanID,
		Sink:      d.publisher.Name(),
		Target:    d.publisher.Target(),
		Error:     err,
	})
	if err != nil && d.bus == nil {
		d.logger.Error().Err(err).Str("sink", d.publisher.Name()).Msg("Failed to publish report")
	}
}

// RunOnce performs a single pass and returns its report.
func (d *Daemon) RunOnce(ctx context.Context) (*scanner.Report, error) {
	d.logger.Info().Msg("Running single poll cycle")
	report := d.poll(ctx)
	if report == nil {
		return nil, fmt.Errorf("scan pass failed")
	}
	return report, nil
}

// LastReport returns the report of the most recent pass, or nil.
func (d *Daemon) LastReport() *scanner.Report {
	return d.state.LastReport()
}

// RecentLogs returns up to n recent log entries, oldest first.
func (d *Daemon) RecentLogs(n int) []LogEntry {
	if d.cfg.Logs == nil {
		return nil
	}
	return d.cfg.Logs.GetRecent(n)
}

// GetStatus returns current daemon status information.
func (d *Daemon) GetStatus() *Status {
	st := &Status{
		Running:      d.IsRunning(),
		LastPoll:     d.state.GetLastPoll(),
		Passes:       d.state.GetPasses(),
		Runs:         d.state.Counts(),
		CachedRuns:   d.scanner.Cache().Len(),
		Roots:        d.cfg.Roots,
		PollInterval: d.cfg.PollInterval.String(),
		Watching:     d.watcher != nil,
		Sink:         d.publisher.Name(),
		SinkTarget:   d.publisher.Target(),
		Events:       d.monitor.Stats(),
	}
	if d.bus != nil {
		st.DroppedEvents = d.bus.GetDroppedEventCount()
	}
	return st
}

// Status contains daemon status information.
type Status struct {
	Running       bool           `json:"running"`
	LastPoll      time.Time      `json:"last_poll"`
	Passes        int            `json:"passes"`
	Runs          map[string]int `json:"runs"`
	CachedRuns    int            `json:"cached_runs"`
	Roots         []string       `json:"roots"`
	PollInterval  string         `json:"poll_interval"`
	Watching      bool           `json:"watching"`
	Sink          string         `json:"sink"`
	SinkTarget    string         `json:"sink_target,omitempty"`
	Events        MonitorStats   `json:"events"`
	DroppedEvents int64          `json:"dropped_events"`
}

// WriteStatus writes status to a writer.
func (s *Status) WriteStatus(w io.Writer) {
	fmt.Fprintf(w, "Daemon Status:\n")
	if s.Running {
		fmt.Fprintf(w, "  Running: Yes\n")
	} else {
		fmt.Fprintf(w, "  Running: No\n")
	}
	if !s.LastPoll.IsZero() {
		fmt.Fprintf(w, "  Last Poll: %s\n", s.LastPoll.Format(time.RFC3339))
	} else {
		fmt.Fprintf(w, "  Last Poll: Never\n")
	}
	fmt.Fprintf(w, "  Passes: %d\n", s.Passes)
	for _, st := range models.States() {
		fmt.Fprintf(w, "  %s: %d\n", st, s.Runs[st.String()])
	}
	fmt.Fprintf(w, "  Cached Runs: %d\n", s.CachedRuns)
	fmt.Fprintf(w, "  Poll Interval: %s\n", s.PollInterval)
	fmt.Fprintf(w, "  Watching: %t\n", s.Watching)
	if s.SinkTarget != "" {
		fmt.Fprintf(w, "  Sink: %s (%s)\n", s.Sink, s.SinkTarget)
	} else {
		fmt.Fprintf(w, "  Sink: %s\n", s.Sink)
	}
	if s.Events.PublishFailures > 0 {
		fmt.Fprintf(w, "  Publish Failures: %d\n", s.Events.PublishFailures)
	}
}
