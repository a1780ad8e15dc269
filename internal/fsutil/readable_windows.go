//go:build windows

package fsutil

import "os"

// Readable reports whether the process can open path for reading.
func Readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
