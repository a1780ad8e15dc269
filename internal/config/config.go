// Package config provides configuration management for runwatch.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/rescale/runwatch/internal/cache"
	"github.com/rescale/runwatch/internal/constants"
	"github.com/rescale/runwatch/internal/sink"
)

// Config represents the runwatch configuration.
//
// Config file location:
//   - Windows: %APPDATA%\Rescale\runwatch\runwatch.conf
//   - Unix: ~/.config/runwatch/runwatch.conf
//
// INI format:
//
//	[scan]
//	roots = /data/runs,/mnt/archive/runs
//	concurrency = 8
//	batch_timeout_seconds = 0
//	include_pattern = ^\d{6}_
//
//	[cache]
//	backend = sqlite
//	path = ~/.config/runwatch/cache.db
//
//	[daemon]
//	poll_interval_seconds = 300
//	watch = true
//	status_addr = 127.0.0.1:8787
//	log_file = ~/.config/runwatch/logs/runwatch.log
//
//	[sink]
//	kind = http
//	target = https://lims.example.org/runs
//	retry_max = 5
type Config struct {
	Scan   ScanConfig
	Cache  CacheConfig
	Daemon DaemonConfig
	Sink   SinkConfig
}

// ScanConfig controls run discovery and classification passes.
type ScanConfig struct {
	// Roots are the directories whose immediate subdirectories are runs.
	Roots []string `ini:"roots"`

	// Concurrency is the number of runs classified in parallel.
	// Minimum: 1, Maximum: 64, Default: 8
	Concurrency int `ini:"concurrency"`

	// BatchTimeoutSeconds bounds one pass. 0 disables the deadline.
	BatchTimeoutSeconds int `ini:"batch_timeout_seconds"`

	// IncludePattern only scans run directories whose name matches.
	IncludePattern string `ini:"include_pattern"`
}

// CacheConfig selects the completion cache backend.
type CacheConfig struct {
	// Backend is memory, file or sqlite. Default: memory
	Backend string `ini:"backend"`

	// Path is the snapshot file or database. Required for file and sqlite.
	Path string `ini:"path"`
}

// DaemonConfig contains settings for the long-running watcher.
type DaemonConfig struct {
	// PollIntervalSeconds is the interval between full scan passes.
	// Minimum: 10, Maximum: 86400, Default: 300
	PollIntervalSeconds int `ini:"poll_interval_seconds"`

	// Watch enables fsnotify-triggered rescans between polls.
	Watch bool `ini:"watch"`

	// StatusAddr is the listen address of the status endpoint. Empty disables it.
	StatusAddr string `ini:"status_addr"`

	// LogFile receives rotated daemon logs. Empty logs to stderr only.
	LogFile string `ini:"log_file"`
}

// SinkConfig selects where reports are shipped after each daemon pass.
type SinkConfig struct {
	// Kind is none, file, http, s3 or azure. Default: none
	Kind string `ini:"kind"`

	// Target is the output directory (file) or URL (http).
	Target string `ini:"target"`

	// RetryMax is the maximum number of HTTP retries.
	RetryMax int `ini:"retry_max"`

	S3Region   string `ini:"s3_region"`
	S3Bucket   string `ini:"s3_bucket"`
	S3Prefix   string `ini:"s3_prefix"`
	S3Endpoint string `ini:"s3_endpoint"`

	AzureAccountURL string `ini:"azure_account_url"`
	AzureContainer  string `ini:"azure_container"`
	AzurePrefix     string `ini:"azure_prefix"`
}

// Config validation errors
var (
	ErrInvalidConcurrency   = errors.New("concurrency must be between 1 and 64")
	ErrInvalidBatchTimeout  = errors.New("batch_timeout_seconds must not be negative")
	ErrInvalidPollInterval  = errors.New("poll_interval_seconds must be between 10 and 86400")
	ErrInvalidIncludeRegexp = errors.New("include_pattern is not a valid regular expression")
	ErrUnknownCacheBackend  = errors.New("cache backend must be memory, file or sqlite")
	ErrMissingCachePath     = errors.New("cache path is required for file and sqlite backends")
	ErrUnknownSinkKind      = errors.New("sink kind must be none, file, http, s3 or azure")
	ErrMissingSinkTarget    = errors.New("sink target is required for file and http sinks")
	ErrMissingS3Bucket      = errors.New("s3_bucket is required for the s3 sink")
	ErrMissingAzureTarget   = errors.New("azure_account_url and azure_container are required for the azure sink")
	ErrNoRoots              = errors.New("at least one scan root is required")
)

// ConfigDirectory returns the per-user configuration directory.
//   - Windows: %APPDATA%\Rescale\runwatch
//   - Unix: ~/.config/runwatch
func ConfigDirectory() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", errors.New("neither APPDATA nor USERPROFILE environment variable set")
			}
			appData = filepath.Join(userProfile, "AppData", "Roaming")
		}
		return filepath.Join(appData, "Rescale", "runwatch"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "runwatch"), nil
}

// DefaultConfigPath returns the default path for runwatch.conf.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "runwatch.conf"), nil
}

// New creates a Config with default values.
func New() *Config {
	return &Config{
		Scan: ScanConfig{
			Concurrency: constants.DefaultScanConcurrency,
		},
		Cache: CacheConfig{
			Backend: cache.BackendMemory,
		},
		Daemon: DaemonConfig{
			PollIntervalSeconds: int(constants.DefaultPollInterval / time.Second),
			StatusAddr:          constants.DefaultStatusAddr,
		},
		Sink: SinkConfig{
			Kind:     sink.KindNone,
			RetryMax: constants.SinkRetryMax,
		},
	}
}

// Load reads configuration from path. If path is empty, uses the default path.
// If the file doesn't exist, returns a config with default values and no error.
// If the file exists but is invalid, returns an error.
func Load(path string) (*Config, error) {
	cfg := New()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return cfg, nil // Return defaults if we can't determine path
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", filepath.Base(path), err)
	}

	scan := iniFile.Section("scan")
	cfg.Scan.Roots = splitList(scan.Key("roots").String())
	cfg.Scan.Concurrency = scan.Key("concurrency").MustInt(constants.DefaultScanConcurrency)
	cfg.Scan.BatchTimeoutSeconds = scan.Key("batch_timeout_seconds").MustInt(0)
	cfg.Scan.IncludePattern = scan.Key("include_pattern").String()

	cacheSection := iniFile.Section("cache")
	cfg.Cache.Backend = cacheSection.Key("backend").MustString(cache.BackendMemory)
	cfg.Cache.Path = cacheSection.Key("path").String()

	daemon := iniFile.Section("daemon")
	cfg.Daemon.PollIntervalSeconds = daemon.Key("poll_interval_seconds").MustInt(cfg.Daemon.PollIntervalSeconds)
	cfg.Daemon.Watch = daemon.Key("watch").MustBool(false)
	cfg.Daemon.StatusAddr = daemon.Key("status_addr").String()
	cfg.Daemon.LogFile = daemon.Key("log_file").String()

	sinkSection := iniFile.Section("sink")
	cfg.Sink.Kind = sinkSection.Key("kind").MustString(sink.KindNone)
	cfg.Sink.Target = sinkSection.Key("target").String()
	cfg.Sink.RetryMax = sinkSection.Key("retry_max").MustInt(constants.SinkRetryMax)
	cfg.Sink.S3Region = sinkSection.Key("s3_region").String()
	cfg.Sink.S3Bucket = sinkSection.Key("s3_bucket").String()
	cfg.Sink.S3Prefix = sinkSection.Key("s3_prefix").String()
	cfg.Sink.S3Endpoint = sinkSection.Key("s3_endpoint").String()
	cfg.Sink.AzureAccountURL = sinkSection.Key("azure_account_url").String()
	cfg.Sink.AzureContainer = sinkSection.Key("azure_container").String()
	cfg.Sink.AzurePrefix = sinkSection.Key("azure_prefix").String()

	return cfg, nil
}

// Save writes the configuration to path. If path is empty, uses the default path.
// Creates parent directories if they don't exist.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	scan, err := iniFile.NewSection("scan")
	if err != nil {
		return fmt.Errorf("failed to create scan section: %w", err)
	}
	scan.Key("roots").SetValue(strings.Join(cfg.Scan.Roots, ","))
	scan.Key("concurrency").SetValue(fmt.Sprintf("%d", cfg.Scan.Concurrency))
	scan.Key("batch_timeout_seconds").SetValue(fmt.Sprintf("%d", cfg.Scan.BatchTimeoutSeconds))
	scan.Key("include_pattern").SetValue(cfg.Scan.IncludePattern)

	cacheSection, err := iniFile.NewSection("cache")
	if err != nil {
		return fmt.Errorf("failed to create cache section: %w", err)
	}
	cacheSection.Key("backend").SetValue(cfg.Cache.Backend)
	cacheSection.Key("path").SetValue(cfg.Cache.Path)

	daemon, err := iniFile.NewSection("daemon")
	if err != nil {
		return fmt.Errorf("failed to create daemon section: %w", err)
	}
	daemon.Key("poll_interval_seconds").SetValue(fmt.Sprintf("%d", cfg.Daemon.PollIntervalSeconds))
	daemon.Key("watch").SetValue(fmt.Sprintf("%t", cfg.Daemon.Watch))
	daemon.Key("status_addr").SetValue(cfg.Daemon.StatusAddr)
	daemon.Key("log_file").SetValue(cfg.Daemon.LogFile)

	sinkSection, err := iniFile.NewSection("sink")
	if err != nil {
		return fmt.Errorf("failed to create sink section: %w", err)
	}
	sinkSection.Key("kind").SetValue(cfg.Sink.Kind)
	sinkSection.Key("target").SetValue(cfg.Sink.Target)
	sinkSection.Key("retry_max").SetValue(fmt.Sprintf("%d", cfg.Sink.RetryMax))
	sinkSection.Key("s3_region").SetValue(cfg.Sink.S3Region)
	sinkSection.Key("s3_bucket").SetValue(cfg.Sink.S3Bucket)
	sinkSection.Key("s3_prefix").SetValue(cfg.Sink.S3Prefix)
	sinkSection.Key("s3_endpoint").SetValue(cfg.Sink.S3Endpoint)
	sinkSection.Key("azure_account_url").SetValue(cfg.Sink.AzureAccountURL)
	sinkSection.Key("azure_container").SetValue(cfg.Sink.AzureContainer)
	sinkSection.Key("azure_prefix").SetValue(cfg.Sink.AzurePrefix)

	// Use temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	// The azure account URL may carry a SAS token
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// Validate checks the configuration. Returns nil if valid, or the first
// problem found.
func (cfg *Config) Validate() error {
	if cfg.Scan.Concurrency < constants.MinScanConcurrency || cfg.Scan.Concurrency > constants.MaxScanConcurrency {
		return ErrInvalidConcurrency
	}
	if cfg.Scan.BatchTimeoutSeconds < 0 {
		return ErrInvalidBatchTimeout
	}
	if cfg.Scan.IncludePattern != "" {
		if _, err := regexp.Compile(cfg.Scan.IncludePattern); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidIncludeRegexp, err)
		}
	}

	switch strings.ToLower(cfg.Cache.Backend) {
	case "", cache.BackendMemory:
	case cache.BackendFile, cache.BackendSQLite:
		if strings.TrimSpace(cfg.Cache.Path) == "" {
			return ErrMissingCachePath
		}
	default:
		return ErrUnknownCacheBackend
	}

	poll := time.Duration(cfg.Daemon.PollIntervalSeconds) * time.Second
	if poll < constants.MinPollInterval || poll > constants.MaxPollInterval {
		return ErrInvalidPollInterval
	}

	switch strings.ToLower(cfg.Sink.Kind) {
	case "", sink.KindNone:
	case sink.KindFile, sink.KindHTTP:
		if strings.TrimSpace(cfg.Sink.Target) == "" {
			return ErrMissingSinkTarget
		}
	case sink.KindS3:
		if cfg.Sink.S3Bucket == "" {
			return ErrMissingS3Bucket
		}
	case sink.KindAzure:
		if cfg.Sink.AzureAccountURL == "" || cfg.Sink.AzureContainer == "" {
			return ErrMissingAzureTarget
		}
	default:
		return ErrUnknownSinkKind
	}
	return nil
}

// ValidateForDaemon additionally requires scan roots.
func (cfg *Config) ValidateForDaemon() error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(cfg.Scan.Roots) == 0 {
		return ErrNoRoots
	}
	return nil
}

// PollInterval returns the daemon poll interval as a duration.
func (cfg *Config) PollInterval() time.Duration {
	return time.Duration(cfg.Daemon.PollIntervalSeconds) * time.Second
}

// BatchTimeout returns the per-pass deadline, or 0 when disabled.
func (cfg *Config) BatchTimeout() time.Duration {
	return time.Duration(cfg.Scan.BatchTimeoutSeconds) * time.Second
}

// IncludeRegexp compiles the include pattern. Returns nil when unset.
func (cfg *Config) IncludeRegexp() (*regexp.Regexp, error) {
	if cfg.Scan.IncludePattern == "" {
		return nil, nil
	}
	return regexp.Compile(cfg.Scan.IncludePattern)
}

// SinkOptions converts the [sink] section for sink.Open.
func (cfg *Config) SinkOptions() sink.Options {
	return sink.Options{
		Kind:     cfg.Sink.Kind,
		Target:   cfg.Sink.Target,
		RetryMax: cfg.Sink.RetryMax,
		S3: sink.S3Options{
			Region:          cfg.Sink.S3Region,
			Bucket:          cfg.Sink.S3Bucket,
			Prefix:          cfg.Sink.S3Prefix,
			Endpoint:        cfg.Sink.S3Endpoint,
			AccessKeyID:     os.Getenv("RUNWATCH_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("RUNWATCH_S3_SECRET_ACCESS_KEY"),
		},
		Azure: sink.AzureOptions{
			AccountURL: cfg.Sink.AzureAccountURL,
			Container:  cfg.Sink.AzureContainer,
			Prefix:     cfg.Sink.AzurePrefix,
		},
	}
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
