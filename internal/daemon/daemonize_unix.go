//go:build !windows

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rescale/runwatch/internal/config"
)

const childEnv = "RUNWATCH_DAEMON_CHILD"

// PIDFilePath returns the path to the daemon PID file.
func PIDFilePath() string {
	dir, err := config.ConfigDirectory()
	if err != nil {
		return "/tmp/runwatch.pid"
	}
	return filepath.Join(dir, "runwatch.pid")
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

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0
	}

	// On Unix, FindProcess always succeeds. Use kill(0) to check if it exists.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		RemovePIDFile(path)
		return 0
	}
	return pid
}

// Daemonize re-executes the current process detached from the terminal
// in a new session. The parent prints the child PID and exits; in the child
// Daemonize returns nil.
func Daemonize(args []string) error {
	if IsDaemonChild() {
		return nil
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	cmd := exec.Command(executable, args...)
	cmd.Env = append(os.Environ(), childEnv+"=1")
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("Daemon started with PID %d\n", cmd.Process.Pid)
	os.Exit(0)
	return nil
}

// IsDaemonChild returns true if we're running as the daemon child process.
func IsDaemonChild() bool {
	return os.Getenv(childEnv) == "1"
}
