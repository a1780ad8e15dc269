// Package fsutil holds the small file-system probes the run inspection relies on.
// Every probe answers "no" on any I/O error; callers treat that as absent evidence.
package fsutil

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Exists reports whether path exists (file or directory).
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsFile reports whether path exists and is not a directory.
func IsFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ReadableFile reports whether path is a regular file the process can read.
func ReadableFile(path string) bool {
	return IsFile(path) && Readable(path)
}

// Glob returns the names in dir that match pattern (filepath.Match syntax),
// sorted. dir itself is never interpreted as a pattern, so run directories
// containing '[' or '*' are safe. A missing or unreadable dir yields nil.
func Glob(dir, pattern string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var matches []string
	for _, e := range entries {
		ok, err := filepath.Match(pattern, e.Name())
		if err != nil {
			return nil
		}
		if ok {
			matches = append(matches, e.Name())
		}
	}
	sort.Strings(matches)
	return matches
}

// Canonical returns the absolute path of an existing entry with symlinks resolved.
// A leading ~ is expanded to the home directory.
func Canonical(path string) (string, error) {
	path, err := expandHome(path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// ResolvePath converts path to an absolute path, resolving symlinks in the
// existing portion and appending any components that do not exist yet.
// Used for configured locations (cache files, log files) that may not exist.
func ResolvePath(path string) (string, error) {
	if path == "" {
		return os.Getwd()
	}
	path, err := expandHome(path)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved, nil
	}

	// Walk up to the deepest existing ancestor
	current := absPath
	var missing []string
	for {
		if _, err := os.Stat(current); err == nil {
			resolved, err := filepath.EvalSymlinks(current)
			if err != nil {
				resolved = current
			}
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return absPath, nil
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return home + path[1:], nil
}
