package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Scan.Concurrency != 8 {
		t.Errorf("Expected Concurrency=8, got %d", cfg.Scan.Concurrency)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("Expected Backend=memory, got %s", cfg.Cache.Backend)
	}
	if cfg.PollInterval() != 5*time.Minute {
		t.Errorf("Expected PollInterval=5m, got %v", cfg.PollInterval())
	}
	if cfg.Sink.Kind != "none" {
		t.Errorf("Expected Sink.Kind=none, got %s", cfg.Sink.Kind)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestLoadSave(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "runwatch-config-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	configPath := filepath.Join(tmpDir, "nested", "runwatch.conf")

	cfg := New()
	cfg.Scan.Roots = []string{"/data/runs", "/mnt/archive"}
	cfg.Scan.Concurrency = 4
	cfg.Scan.BatchTimeoutSeconds = 120
	cfg.Scan.IncludePattern = `^\d{6}_`
	cfg.Cache.Backend = "sqlite"
	cfg.Cache.Path = "/var/lib/runwatch/cache.db"
	cfg.Daemon.PollIntervalSeconds = 60
	cfg.Daemon.Watch = true
	cfg.Daemon.StatusAddr = "127.0.0.1:8787"
	cfg.Sink.Kind = "s3"
	cfg.Sink.S3Bucket = "runs"
	cfg.Sink.S3Region = "us-west-2"

	if err := Save(cfg, configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if len(loaded.Scan.Roots) != 2 || loaded.Scan.Roots[1] != "/mnt/archive" {
		t.Errorf("Roots mismatch: got %v", loaded.Scan.Roots)
	}
	if loaded.Scan.Concurrency != 4 {
		t.Errorf("Concurrency mismatch: expected 4, got %d", loaded.Scan.Concurrency)
	}
	if loaded.BatchTimeout() != 2*time.Minute {
		t.Errorf("BatchTimeout mismatch: got %v", loaded.BatchTimeout())
	}
	if loaded.Scan.IncludePattern != `^\d{6}_` {
		t.Errorf("IncludePattern mismatch: got %q", loaded.Scan.IncludePattern)
	}
	if loaded.Cache.Backend != "sqlite" || loaded.Cache.Path != "/var/lib/runwatch/cache.db" {
		t.Errorf("Cache mismatch: got %+v", loaded.Cache)
	}
	if !loaded.Daemon.Watch || loaded.Daemon.StatusAddr != "127.0.0.1:8787" || loaded.PollInterval() != time.Minute {
		t.Errorf("Daemon mismatch: got %+v", loaded.Daemon)
	}
	if loaded.Sink.Kind != "s3" || loaded.Sink.S3Bucket != "runs" || loaded.Sink.S3Region != "us-west-2" {
		t.Errorf("Sink mismatch: got %+v", loaded.Sink)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 && os.PathSeparator == '/' {
		t.Errorf("Expected 0600 permissions, got %o", perm)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.conf"))
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got %v", err)
	}
	if cfg.Scan.Concurrency != 8 {
		t.Errorf("Expected default concurrency, got %d", cfg.Scan.Concurrency)
	}
}

func TestLoad_Partial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runwatch.conf")
	content := "[scan]\nroots = /a, /b ,,\n\n[daemon]\nwatch = true\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Scan.Roots) != 2 || cfg.Scan.Roots[0] != "/a" || cfg.Scan.Roots[1] != "/b" {
		t.Errorf("Expected [/a /b], got %v", cfg.Scan.Roots)
	}
	if cfg.Scan.Concurrency != 8 || cfg.PollInterval() != 5*time.Minute {
		t.Errorf("Missing keys should keep defaults: %+v", cfg)
	}
	if !cfg.Daemon.Watch {
		t.Error("Expected watch=true")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr error
	}{
		{"valid defaults", func(c *Config) {}, nil},
		{"concurrency zero", func(c *Config) { c.Scan.Concurrency = 0 }, ErrInvalidConcurrency},
		{"concurrency too high", func(c *Config) { c.Scan.Concurrency = 65 }, ErrInvalidConcurrency},
		{"negative timeout", func(c *Config) { c.Scan.BatchTimeoutSeconds = -1 }, ErrInvalidBatchTimeout},
		{"bad pattern", func(c *Config) { c.Scan.IncludePattern = "([" }, ErrInvalidIncludeRegexp},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "redis" }, ErrUnknownCacheBackend},
		{"file without path", func(c *Config) { c.Cache.Backend = "file" }, ErrMissingCachePath},
		{"poll too short", func(c *Config) { c.Daemon.PollIntervalSeconds = 5 }, ErrInvalidPollInterval},
		{"poll too long", func(c *Config) { c.Daemon.PollIntervalSeconds = 86401 }, ErrInvalidPollInterval},
		{"unknown sink", func(c *Config) { c.Sink.Kind = "kafka" }, ErrUnknownSinkKind},
		{"http without target", func(c *Config) { c.Sink.Kind = "http" }, ErrMissingSinkTarget},
		{"s3 without bucket", func(c *Config) { c.Sink.Kind = "s3" }, ErrMissingS3Bucket},
		{"azure without container", func(c *Config) {
			c.Sink.Kind = "azure"
			c.Sink.AzureAccountURL = "https://acct.blob.core.windows.net/?sv=x"
		}, ErrMissingAzureTarget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateForDaemon(t *testing.T) {
	cfg := New()
	if !errors.Is(cfg.ValidateForDaemon(), ErrNoRoots) {
		t.Error("Expected ErrNoRoots without scan roots")
	}
	cfg.Scan.Roots = []string{"/data"}
	if err := cfg.ValidateForDaemon(); err != nil {
		t.Errorf("Expected valid daemon config, got %v", err)
	}
}

func TestSinkOptions(t *testing.T) {
	cfg := New()
	cfg.Sink.Kind = "azure"
	cfg.Sink.AzureContainer = "runs"
	cfg.Sink.AzurePrefix = "site-a"

	opts := cfg.SinkOptions()
	if opts.Kind != "azure" || opts.Azure.Container != "runs" || opts.Azure.Prefix != "site-a" {
		t.Errorf("Unexpected sink options: %+v", opts)
	}
}

func TestDefaultCachePath(t *testing.T) {
	if filepath.Base(DefaultCachePath("sqlite")) != "cache.db" {
		t.Errorf("Expected cache.db for sqlite, got %s", DefaultCachePath("sqlite"))
	}
	if filepath.Base(DefaultCachePath("file")) != "cache.json" {
		t.Errorf("Expected cache.json for file, got %s", DefaultCachePath("file"))
	}
}
