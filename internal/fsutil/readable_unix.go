//go:build !windows

package fsutil

import "golang.org/x/sys/unix"

// Readable reports whether the process has read permission on path.
// Uses access(2) so directories and files are probed without opening them.
func Readable(path string) bool {
	return unix.Access(path, unix.R_OK) == nil
}
