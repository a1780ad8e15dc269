// Package localfs discovers candidate run directories under the configured roots.
package localfs

import (
	"path/filepath"
	"strings"
)

// IsHidden returns true if the entry at path is hidden (dot-prefixed name).
func IsHidden(path string) bool {
	return IsHiddenName(filepath.Base(path))
}

// IsHiddenName returns true if name is dot-prefixed.
// "." and ".." are not considered hidden.
func IsHiddenName(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return strings.HasPrefix(name, ".")
}
