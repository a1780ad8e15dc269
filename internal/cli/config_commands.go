package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rescale/runwatch/internal/cache"
	"github.com/rescale/runwatch/internal/config"
	"github.com/rescale/runwatch/internal/constants"
	"github.com/rescale/runwatch/internal/sink"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage runwatch configuration",
		Long: `Configuration management commands for runwatch.

Commands:
  init      - Interactive configuration setup
  show      - Display current configuration
  validate  - Check the configuration file
  path      - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigValidateCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

// configPath returns --config or the default path.
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for runwatch.

The configuration is saved to ~/.config/runwatch/runwatch.conf
(%APPDATA%\Rescale\runwatch\runwatch.conf on Windows) unless --config is given.

Use --force to overwrite existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return fmt.Errorf("failed to determine config path: %w", err)
			}
			out := cmd.OutOrStdout()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			fmt.Fprintln(out, "runwatch Configuration Setup")
			fmt.Fprintln(out, "============================")
			fmt.Fprintln(out)

			cfg := promptConfig(newPrompter(cmd.InOrStdin(), out))
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := config.Save(cfg, path); err != nil {
				return err
			}

			fmt.Fprintln(out)
			fmt.Fprintf(out, "Configuration saved to: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")

	return cmd
}

// promptConfig asks for each setting, offering the defaults.
func promptConfig(p *prompter) *config.Config {
	cfg := config.New()

	fmt.Fprintln(p.out, "Scan Settings (press Enter for defaults)")
	fmt.Fprintln(p.out, "----------------------------------------")
	cfg.Scan.Roots = splitRoots(p.line("Run roots (comma separated)", ""))
	cfg.Scan.Concurrency = p.integer("Runs classified in parallel", cfg.Scan.Concurrency,
		constants.MinScanConcurrency, constants.MaxScanConcurrency)

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Completion Cache")
	fmt.Fprintln(p.out, "----------------")
	cfg.Cache.Backend = p.choice("Backend", cache.BackendSQLite, cache.BackendMemory, cache.BackendFile, cache.BackendSQLite)
	if cfg.Cache.Backend != cache.BackendMemory {
		cfg.Cache.Path = p.line("Cache path", config.DefaultCachePath(cfg.Cache.Backend))
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Daemon")
	fmt.Fprintln(p.out, "------")
	cfg.Daemon.PollIntervalSeconds = p.integer("Poll interval (seconds)", cfg.Daemon.PollIntervalSeconds,
		int(constants.MinPollInterval.Seconds()), int(constants.MaxPollInterval.Seconds()))
	cfg.Daemon.Watch = p.yesNo("Rescan when files change", false)
	cfg.Daemon.StatusAddr = p.line("Status address (empty to disable)", "")

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Report Sink")
	fmt.Fprintln(p.out, "-----------")
	cfg.Sink.Kind = p.choice("Kind", sink.KindNone, sink.KindNone, sink.KindFile, sink.KindHTTP, sink.KindS3, sink.KindAzure)
	switch cfg.Sink.Kind {
	case sink.KindFile:
		cfg.Sink.Target = p.line("Output directory", "")
	case sink.KindHTTP:
		cfg.Sink.Target = p.line("URL", "")
	case sink.KindS3:
		cfg.Sink.S3Bucket = p.line("Bucket", "")
		cfg.Sink.S3Region = p.line("Region", "")
		cfg.Sink.S3Prefix = p.line("Key prefix", "runwatch")
	case sink.KindAzure:
		cfg.Sink.AzureAccountURL = p.line("Account or SAS URL", "")
		cfg.Sink.AzureContainer = p.line("Container", "")
		cfg.Sink.AzurePrefix = p.line("Blob prefix", "runwatch")
	}

	return cfg
}

func splitRoots(s string) []string {
	var roots []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roots = append(roots, r)
		}
	}
	return roots
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long:  `Display the configuration runwatch would use, with defaults filled in.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			path, _ := configPath()
			writeConfig(cmd.OutOrStdout(), path, cfg)
			return nil
		},
	}
}

// writeConfig prints cfg. Query strings of the Azure URL are hidden since
// they may carry a SAS token.
func writeConfig(w io.Writer, path string, cfg *config.Config) {
	orNone := func(s string) string {
		if s == "" {
			return "(not set)"
		}
		return s
	}

	fmt.Fprintf(w, "Configuration File: %s\n", path)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[scan]")
	fmt.Fprintf(w, "  roots: %s\n", orNone(strings.Join(cfg.Scan.Roots, ", ")))
	fmt.Fprintf(w, "  concurrency: %d\n", cfg.Scan.Concurrency)
	fmt.Fprintf(w, "  batch_timeout_seconds: %d\n", cfg.Scan.BatchTimeoutSeconds)
	fmt.Fprintf(w, "  include_pattern: %s\n", orNone(cfg.Scan.IncludePattern))
	fmt.Fprintln(w, "[cache]")
	fmt.Fprintf(w, "  backend: %s\n", cfg.Cache.Backend)
	fmt.Fprintf(w, "  path: %s\n", orNone(cfg.Cache.Path))
	fmt.Fprintln(w, "[daemon]")
	fmt.Fprintf(w, "  poll_interval_seconds: %d\n", cfg.Daemon.PollIntervalSeconds)
	fmt.Fprintf(w, "  watch: %t\n", cfg.Daemon.Watch)
	fmt.Fprintf(w, "  status_addr: %s\n", orNone(cfg.Daemon.StatusAddr))
	fmt.Fprintf(w, "  log_file: %s\n", orNone(cfg.Daemon.LogFile))
	fmt.Fprintln(w, "[sink]")
	fmt.Fprintf(w, "  kind: %s\n", cfg.Sink.Kind)
	switch cfg.Sink.Kind {
	case sink.KindFile, sink.KindHTTP:
		fmt.Fprintf(w, "  target: %s\n", orNone(cfg.Sink.Target))
		fmt.Fprintf(w, "  retry_max: %d\n", cfg.Sink.RetryMax)
	case sink.KindS3:
		fmt.Fprintf(w, "  s3_bucket: %s\n", orNone(cfg.Sink.S3Bucket))
		fmt.Fprintf(w, "  s3_region: %s\n", orNone(cfg.Sink.S3Region))
		fmt.Fprintf(w, "  s3_prefix: %s\n", orNone(cfg.Sink.S3Prefix))
		fmt.Fprintf(w, "  s3_endpoint: %s\n", orNone(cfg.Sink.S3Endpoint))
	case sink.KindAzure:
		account := cfg.Sink.AzureAccountURL
		if i := strings.Index(account, "?"); i >= 0 {
			account = account[:i] + "?***"
		}
		fmt.Fprintf(w, "  azure_account_url: %s\n", orNone(account))
		fmt.Fprintf(w, "  azure_container: %s\n", orNone(cfg.Sink.AzureContainer))
		fmt.Fprintf(w, "  azure_prefix: %s\n", orNone(cfg.Sink.AzurePrefix))
	}
}

// newConfigValidateCmd creates the 'config validate' command.
func newConfigValidateCmd() *cobra.Command {
	var forDaemon bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			check := cfg.Validate
			if forDaemon {
				check = cfg.ValidateForDaemon
			}
			if err := check(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&forDaemon, "daemon", false, "Also require settings the daemon needs (scan roots)")

	return cmd
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return fmt.Errorf("failed to determine config path: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
