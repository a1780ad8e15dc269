//go:build windows

package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/windows"
)

// PIDFilePath returns the path to the daemon PID file.
func PIDFilePath() string {
	localAppData := os.Getenv("LOCALAPPDATA")
	if localAppData == "" {
		return filepath.Join(os.TempDir(), "runwatch.pid")
	}
	return filepath.Join(localAppData, "Rescale", "runwatch", "runwatch.pid")
}

// WritePIDFile writes the current process's PID to path.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// RemovePIDFile removes the PID file at path.
func RemovePIDFile(path string) {
	os.Remove(path)
}

// ReadPIDFile reads the PID stored at path.
// Returns 0 if the file doesn't exist or is invalid.
func ReadPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// IsDaemonRunning returns the PID recorded at path if that process is alive,
// 0 otherwise. A stale PID file is removed.
func IsDaemonRunning(path string) int {
	pid := ReadPIDFile(path)
	if pid == 0 {
		return 0
	}

	// os.FindProcess always succeeds on Windows even for non-existent PIDs
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		RemovePIDFile(path)
		return 0
	}
	windows.CloseHandle(handle)
	return pid
}

// Daemonize is not supported on Windows; run the daemon under a service
// manager instead.
func Daemonize(args []string) error {
	return fmt.Errorf("background mode is not supported on Windows")
}

// IsDaemonChild is always false on Windows.
func IsDaemonChild() bool {
	return false
}
