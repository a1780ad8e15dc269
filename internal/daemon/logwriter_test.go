package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogWriter_FileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runwatch.log")
	logger, w := CreateLogger(LogConfig{LogFile: path}, nil)

	logger.Info().Msg("Daemon starting")
	logger.WithRun("150101_INSTR_0001_AAAA").Warn().Msg("Run skipped")
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d: %q", len(lines), data)
	}
	if !strings.HasSuffix(lines[0], "[info] daemon: Daemon starting") {
		t.Errorf("Unexpected first line: %s", lines[0])
	}
	if !strings.HasSuffix(lines[1], "[warn] 150101_INSTR_0001_AAAA: Run skipped") {
		t.Errorf("Unexpected second line: %s", lines[1])
	}
}

func TestLogWriter_FileLoggingDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runwatch.log")
	logger, w := CreateLogger(LogConfig{LogFile: path}, nil)
	defer w.Close()

	w.SetFileLogging(false)
	logger.Info().Msg("dropped")

	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		t.Errorf("Expected no file output, got %q", data)
	}
}

func TestLogWriter_FeedsBuffer(t *testing.T) {
	buf := NewLogBuffer(10)
	logger, w := CreateLogger(LogConfig{Buffer: buf}, nil)
	defer w.Close()

	logger.WithRun("150101_INSTR_0001_AAAA").Info().Msg("Run state changed")

	entries := buf.GetRecent(10)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 buffered entry, got %d", len(entries))
	}
	if entries[0].Run != "150101_INSTR_0001_AAAA" || entries[0].Level != "info" {
		t.Errorf("Unexpected entry: %+v", entries[0])
	}
}
