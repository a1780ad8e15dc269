package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/runwatch/internal/cache"
	"github.com/rescale/runwatch/internal/config"
	"github.com/rescale/runwatch/internal/constants"
	"github.com/rescale/runwatch/internal/daemon"
	"github.com/rescale/runwatch/internal/events"
	"github.com/rescale/runwatch/internal/localfs"
	"github.com/rescale/runwatch/internal/scanner"
	"github.com/rescale/runwatch/internal/sink"
)

// newDaemonCmd creates the 'daemon' command group.
func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Rescan run roots on a schedule and publish each report",
		Long: `Background service that classifies every run under the configured roots
on a poll interval, keeps the completion cache between passes and ships each
report through the configured sink (file, http, s3 or azure).

Examples:
  # Start daemon in foreground
  runwatch daemon run --root /data/runs

  # Run a single pass and exit (useful for cron jobs)
  runwatch daemon run --once

  # Start in the background and serve status on localhost
  runwatch daemon run --background --status-addr 127.0.0.1:8787

  # Check status of a running daemon
  runwatch daemon status --addr 127.0.0.1:8787`,
	}

	cmd.AddCommand(newDaemonRunCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

// daemonRunOptions override runwatch.conf for 'daemon run'.
type daemonRunOptions struct {
	roots        []string
	pollInterval time.Duration
	watch        bool
	statusAddr   string
	logFile      string
	stateFile    string
	sinkKind     string
	sinkTarget   string
	cacheBackend string
	cachePath    string
	runOnce      bool
	background   bool
}

func (o *daemonRunOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	if len(o.roots) > 0 {
		cfg.Scan.Roots = o.roots
	}
	if o.pollInterval > 0 {
		cfg.Daemon.PollIntervalSeconds = int(o.pollInterval / time.Second)
	}
	if cmd.Flags().Changed("watch") {
		cfg.Daemon.Watch = o.watch
	}
	if cmd.Flags().Changed("status-addr") {
		cfg.Daemon.StatusAddr = o.statusAddr
	}
	if o.logFile != "" {
		cfg.Daemon.LogFile = o.logFile
	}
	if o.sinkKind != "" {
		cfg.Sink.Kind = o.sinkKind
	}
	if o.sinkTarget != "" {
		cfg.Sink.Target = o.sinkTarget
	}
	if o.cacheBackend != "" {
		cfg.Cache.Backend = o.cacheBackend
	}
	if o.cachePath != "" {
		cfg.Cache.Path = o.cachePath
	}
	// Persistent caches default to the config directory
	switch cfg.Cache.Backend {
	case cache.BackendFile, cache.BackendSQLite:
		if cfg.Cache.Path == "" {
			cfg.Cache.Path = config.DefaultCachePath(cfg.Cache.Backend)
		}
	}
}

// newDaemonRunCmd creates the 'daemon run' command.
func newDaemonRunCmd() *cobra.Command {
	var opts daemonRunOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		Long: `Start the daemon. Each pass discovers run directories under the roots,
classifies them, logs state changes and publishes the report.

Press Ctrl+C to stop the daemon gracefully.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			opts.apply(cmd, cfg)
			if err := cfg.ValidateForDaemon(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			include, err := cfg.IncludeRegexp()
			if err != nil {
				return err
			}

			pidFile := daemon.PIDFilePath()
			if opts.background && !opts.runOnce {
				if pid := daemon.IsDaemonRunning(pidFile); pid != 0 {
					return fmt.Errorf("daemon already running with PID %d", pid)
				}
				if cfg.Daemon.LogFile == "" {
					cfg.Daemon.LogFile = config.DefaultLogFile()
				}
				if err := daemon.Daemonize(os.Args[1:]); err != nil {
					return err
				}
			}

			bus := events.NewEventBus(constants.EventBusDefaultBuffer)
			defer bus.Close()

			logs := daemon.NewLogBuffer(daemon.DefaultLogBufferSize)
			log, writer := daemon.CreateLogger(daemon.LogConfig{
				LogFile: cfg.Daemon.LogFile,
				Console: !daemon.IsDaemonChild(),
				Buffer:  logs,
			}, bus)
			defer writer.Close()

			if daemon.IsDaemonChild() {
				if err := daemon.WritePIDFile(pidFile); err != nil {
					return err
				}
				defer daemon.RemovePIDFile(pidFile)
			}

			ctx := GetContext()

			store, err := cache.Open(cfg.Cache.Backend, cfg.Cache.Path, log)
			if err != nil {
				return fmt.Errorf("failed to open cache: %w", err)
			}
			defer store.Close()

			publisher, err := sink.Open(ctx, cfg.SinkOptions(), log)
			if err != nil {
				return fmt.Errorf("failed to open sink: %w", err)
			}

			sc := scanner.New(scanner.Config{
				Cache:       store,
				Bus:         bus,
				Logger:      log,
				Concurrency: cfg.Scan.Concurrency,
			})

			stateFile := opts.stateFile
			if stateFile == "" {
				stateFile = daemon.DefaultStateFilePath()
			}
			d, err := daemon.New(&daemon.Config{
				Roots:         cfg.Scan.Roots,
				Discover:      localfs.DiscoverOptions{Pattern: include},
				PollInterval:  cfg.PollInterval(),
				BatchTimeout:  cfg.BatchTimeout(),
				Watch:         cfg.Daemon.Watch,
				WatchDebounce: constants.WatchDebounce,
				StatusAddr:    cfg.Daemon.StatusAddr,
				StateFile:     stateFile,
				Logs:          logs,
			}, sc, publisher, bus, log)
			if err != nil {
				return fmt.Errorf("failed to create daemon: %w", err)
			}

			if opts.runOnce {
				report, err := d.RunOnce(ctx)
				if err != nil {
					return err
				}
				if err := store.Flush(); err != nil {
					log.Warn().Err(err).Msg("Failed to save completion cache")
				}
				return renderReport(cmd.OutOrStdout(), report, formatJSON)
			}

			if !daemon.IsDaemonChild() {
				fmt.Fprintln(cmd.ErrOrStderr(), "======================================================================")
				fmt.Fprintln(cmd.ErrOrStderr(), "  RUNWATCH DAEMON")
				fmt.Fprintln(cmd.ErrOrStderr(), "======================================================================")
				fmt.Fprintf(cmd.ErrOrStderr(), "Roots: %s\n", strings.Join(cfg.Scan.Roots, ", "))
				fmt.Fprintf(cmd.ErrOrStderr(), "Poll Interval: %s\n", cfg.PollInterval())
				fmt.Fprintf(cmd.ErrOrStderr(), "Cache: %s\n", cfg.Cache.Backend)
				fmt.Fprintf(cmd.ErrOrStderr(), "Sink: %s\n", publisher.Name())
				if cfg.Daemon.StatusAddr != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "Status: http://%s/status\n", cfg.Daemon.StatusAddr)
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "Mode: Continuous polling (Ctrl+C to stop)")
				fmt.Fprintln(cmd.ErrOrStderr(), "======================================================================")
			}

			if err := d.Start(ctx); err != nil {
				return fmt.Errorf("failed to start daemon: %w", err)
			}

			<-ctx.Done()
			d.Stop()
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&opts.roots, "root", "r", nil, "Run root to watch (repeatable; overrides [scan] roots)")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", 0, "Time between passes (e.g. 30s, 5m, 1h; 0 = config)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Rescan when files change under the roots")
	cmd.Flags().StringVar(&opts.statusAddr, "status-addr", "", "Serve status on this address (e.g. 127.0.0.1:8787)")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "Path to log file (rotated)")
	cmd.Flags().StringVar(&opts.stateFile, "state-file", "", "Path to daemon state file (default "+daemon.DefaultStateFilePath()+")")
	cmd.Flags().StringVar(&opts.sinkKind, "sink", "", "Report sink: none, file, http, s3 or azure")
	cmd.Flags().StringVar(&opts.sinkTarget, "sink-target", "", "Sink directory (file) or URL (http)")
	cmd.Flags().StringVar(&opts.cacheBackend, "cache-backend", "", "Completion cache backend: memory, file or sqlite")
	cmd.Flags().StringVar(&opts.cachePath, "cache-path", "", "Completion cache file")
	cmd.Flags().BoolVar(&opts.runOnce, "once", false, "Run a single pass, print the report and exit")
	cmd.Flags().BoolVar(&opts.background, "background", false, "Detach and run in the background")

	return cmd
}

// newDaemonStatusCmd creates the 'daemon status' command.
func newDaemonStatusCmd() *cobra.Command {
	var (
		addr    string
		asJSON  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long: `Query a running daemon's status endpoint. Without an address the
status_addr from runwatch.conf is used; with neither, only the PID file is
checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if pid := daemon.IsDaemonRunning(daemon.PIDFilePath()); pid != 0 {
				fmt.Fprintf(out, "Background daemon PID: %d\n", pid)
			}

			if addr == "" {
				cfg, err := loadConfig()
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				addr = cfg.Daemon.StatusAddr
			}
			if addr == "" {
				fmt.Fprintln(out, "No status address configured (use --addr or [daemon] status_addr)")
				return nil
			}

			status, err := fetchStatus(addr, timeout)
			if err != nil {
				return fmt.Errorf("daemon not reachable at %s: %w", addr, err)
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}
			status.WriteStatus(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Daemon status address (host:port)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw JSON status")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")

	return cmd
}

// fetchStatus reads GET /status from a daemon.
func fetchStatus(addr string, timeout time.Duration) (*daemon.Status, error) {
	url := addr
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(strings.TrimSuffix(url, "/") + "/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var status daemon.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &status, nil
}
