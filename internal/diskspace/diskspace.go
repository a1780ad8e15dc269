// Package diskspace checks free space on the filesystem holding a directory.
package diskspace

import (
	"errors"
	"fmt"
)

// InsufficientSpaceError indicates that there is not enough disk space available.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space in %s: need %d bytes, have %d available",
		e.Path, e.RequiredBytes, e.AvailableBytes)
}

// Check returns an InsufficientSpaceError when the filesystem holding dir
// has less than requiredBytes*safetyMargin available. When free space cannot
// be determined (network or virtual filesystems) Check returns nil and the
// write is left to fail on its own.
func Check(dir string, requiredBytes int64, safetyMargin float64) error {
	available, ok := available(dir)
	if !ok {
		return nil
	}
	required := int64(float64(requiredBytes) * safetyMargin)
	if available < required {
		return &InsufficientSpaceError{
			Path:           dir,
			RequiredBytes:  required,
			AvailableBytes: available,
		}
	}
	return nil
}

// Available returns the bytes available to the current user on the
// filesystem holding dir, or 0 if unknown.
func Available(dir string) int64 {
	n, _ := available(dir)
	return n
}

// IsInsufficientSpaceError reports whether err wraps an InsufficientSpaceError.
func IsInsufficientSpaceError(err error) bool {
	var e *InsufficientSpaceError
	return errors.As(err, &e)
}
