package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// LogDirectory returns the directory for daemon logs.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\Rescale\runwatch\logs
//   - Unix: ~/.config/runwatch/logs
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "runwatch-logs")
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, "Rescale", "runwatch", "logs")
	}

	dir, err := ConfigDirectory()
	if err != nil {
		return filepath.Join(os.TempDir(), "runwatch-logs")
	}
	return filepath.Join(dir, "logs")
}

// DefaultLogFile returns the default daemon log file.
func DefaultLogFile() string {
	return filepath.Join(LogDirectory(), "runwatch.log")
}

// DefaultCachePath returns the default location for a persistent cache.
// The extension follows the backend: .db for sqlite, .json otherwise.
func DefaultCachePath(backend string) string {
	name := "cache.json"
	if backend == "sqlite" {
		name = "cache.db"
	}
	dir, err := ConfigDirectory()
	if err != nil {
		return filepath.Join(os.TempDir(), "runwatch", name)
	}
	return filepath.Join(dir, name)
}
