package cli

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/runwatch/internal/cache"
	"github.com/rescale/runwatch/internal/config"
	"github.com/rescale/runwatch/internal/interop"
	"github.com/rescale/runwatch/internal/localfs"
	"github.com/rescale/runwatch/internal/logging"
	"github.com/rescale/runwatch/internal/progress"
	"github.com/rescale/runwatch/internal/scanner"
)

// scanOptions are the flags shared by scan and interop. Zero values fall
// back to runwatch.conf.
type scanOptions struct {
	roots        []string
	include      string
	hidden       bool
	cacheBackend string
	cachePath    string
	concurrency  int
	timeout      time.Duration
	quiet        bool
}

func (o *scanOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&o.roots, "root", "r", nil, "Scan every run directory under this root (repeatable)")
	cmd.Flags().StringVar(&o.include, "include", "", "Only scan run directories whose name matches this regexp")
	cmd.Flags().BoolVar(&o.hidden, "hidden", false, "Include hidden directories under roots")
	cmd.Flags().StringVar(&o.cacheBackend, "cache-backend", "", "Completion cache backend: memory, file or sqlite")
	cmd.Flags().StringVar(&o.cachePath, "cache-path", "", "Completion cache file (file and sqlite backends)")
	cmd.Flags().IntVar(&o.concurrency, "concurrency", 0, "Runs classified in parallel (1-64, 0 = config)")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 0, "Deadline for the whole pass (e.g. 30s, 5m; 0 = config)")
	cmd.Flags().BoolVarP(&o.quiet, "quiet", "q", false, "Do not show a progress bar")
}

// apply merges flags over the file configuration.
func (o *scanOptions) apply(cfg *config.Config) {
	if len(o.roots) > 0 {
		cfg.Scan.Roots = o.roots
	}
	if o.include != "" {
		cfg.Scan.IncludePattern = o.include
	}
	if o.cacheBackend != "" {
		cfg.Cache.Backend = o.cacheBackend
	}
	if o.cachePath != "" {
		cfg.Cache.Path = o.cachePath
	}
	if o.concurrency != 0 {
		cfg.Scan.Concurrency = o.concurrency
	}
}

// scanSession is a configured scanner plus the paths to scan.
type scanSession struct {
	cfg     *config.Config
	store   cache.Store
	scanner *scanner.Scanner
	paths   []string
	timeout time.Duration
}

// openSession loads config, applies flags, opens the cache and resolves the
// run paths: explicit args, or every run directory under the roots.
func openSession(o *scanOptions, args []string, log *logging.Logger) (*scanSession, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	o.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	paths := args
	if len(paths) == 0 {
		if len(cfg.Scan.Roots) == 0 {
			return nil, fmt.Errorf("no run directories given and no scan roots configured (use --root or [scan] roots)")
		}
		include, err := cfg.IncludeRegexp()
		if err != nil {
			return nil, err
		}
		paths = discover(cfg.Scan.Roots, include, o.hidden, log)
	}

	store, err := cache.Open(cfg.Cache.Backend, cfg.Cache.Path, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	timeout := cfg.BatchTimeout()
	if o.timeout > 0 {
		timeout = o.timeout
	}

	var onProgress scanner.ProgressFunc
	if len(paths) > 0 {
		onProgress = progress.Func(progress.ForStderr(o.quiet), "Scanning runs")
	}

	return &scanSession{
		cfg:   cfg,
		store: store,
		scanner: scanner.New(scanner.Config{
			Cache:       store,
			Logger:      log,
			Concurrency: cfg.Scan.Concurrency,
			Progress:    onProgress,
		}),
		paths:   paths,
		timeout: timeout,
	}, nil
}

// context returns a context bounded by the pass deadline.
func (s *scanSession) context(parent context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(parent, s.timeout)
	}
	return context.WithCancel(parent)
}

// close persists and releases the cache.
func (s *scanSession) close(log *logging.Logger) {
	if err := s.store.Flush(); err != nil {
		log.Warn().Err(err).Msg("Failed to save completion cache")
	}
	if err := s.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close completion cache")
	}
}

func discover(roots []string, include *regexp.Regexp, hidden bool, log *logging.Logger) []string {
	return localfs.DiscoverRuns(roots, localfs.DiscoverOptions{
		IncludeHidden: hidden,
		Pattern:       include,
	}, func(root string, err error) {
		log.Warn().Err(err).Str("root", root).Msg("Cannot list scan root")
	})
}

// newScanCmd creates the 'scan' command.
func newScanCmd() *cobra.Command {
	var (
		opts   scanOptions
		format string
	)

	cmd := &cobra.Command{
		Use:   "scan [run-dir...]",
		Short: "Classify run directories and print the report",
		Long: `Classify run directories as Running, Completed, Failed or Unknown.

With no arguments every run directory under the configured roots (or --root)
is scanned. Completed runs are cached; with a file or sqlite cache later scans
reuse them without reading the run again.

Output formats:
  json   - {"Running":[...],"Completed":[...],"Failed":[...],"Unknown":[...]}
  yaml   - the same buckets as YAML
  table  - one line per run
  wire   - compact JSON terminated by CRLF

Examples:
  runwatch scan /data/runs/150101_INSTR_0001_AAAA
  runwatch scan --root /data/runs --format table
  runwatch scan --root /data/runs --cache-backend sqlite --cache-path ~/.config/runwatch/cache.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := GetLogger()
			if !validFormat(format) {
				return fmt.Errorf("unknown format %q (use json, yaml, table or wire)", format)
			}

			session, err := openSession(&opts, args, log)
			if err != nil {
				return err
			}
			defer session.close(log)

			ctx, cancel := session.context(GetContext())
			defer cancel()

			report, err := session.scanner.Scan(ctx, session.paths)
			if err != nil {
				return err
			}
			for _, skip := range report.Skipped {
				log.Warn().Str("path", skip.Path).Str("reason", skip.Reason).Msg("Run skipped")
			}
			return renderReport(cmd.OutOrStdout(), report, format)
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().StringVarP(&format, "format", "o", formatJSON, "Output format: json, yaml, table or wire")

	return cmd
}

// newInterOpCmd creates the 'interop' command.
func newInterOpCmd() *cobra.Command {
	var opts scanOptions

	cmd := &cobra.Command{
		Use:   "interop [run-dir...]",
		Short: "Report InterOp metrics for run directories",
		Long: `Report the InterOp file inventory of each run as {runName, metrix},
or {runName, error} when the run cannot be read or decoded.

Metrics of Completed runs are kept in the completion cache and reused.

Examples:
  runwatch interop /data/runs/150101_INSTR_0001_AAAA
  runwatch interop --root /data/runs --cache-backend file --cache-path runs.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := GetLogger()

			session, err := openSession(&opts, args, log)
			if err != nil {
				return err
			}
			defer session.close(log)

			ctx, cancel := session.context(GetContext())
			defer cancel()

			records, err := session.scanner.ScanInterOp(ctx, session.paths, interop.HeaderDecoder{})
			if err != nil {
				return err
			}
			return renderInterOp(cmd.OutOrStdout(), records)
		},
	}

	opts.addFlags(cmd)
	return cmd
}
