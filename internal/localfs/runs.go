package localfs

import (
	"os"
	"path/filepath"
	"sort"
	"time"
)

// RunEntry is a candidate run directory found under a root.
type RunEntry struct {
	Path    string    // Full path to the directory
	Name    string    // Base name, used as the run name
	ModTime time.Time // Last modification time of the directory
}

// ListRunDirectories returns the immediate subdirectories of root that look
// like runs, sorted by name. Symlinks to directories count as runs.
func ListRunDirectories(root string, opts DiscoverOptions) ([]RunEntry, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	result := make([]RunEntry, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()

		if !opts.IncludeHidden && IsHiddenName(name) {
			continue
		}
		if opts.Pattern != nil && !opts.Pattern.MatchString(name) {
			continue
		}

		path := filepath.Join(root, name)
		// Stat follows symlinks
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			continue
		}

		result = append(result, RunEntry{
			Path:    path,
			Name:    name,
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// DiscoverRuns lists run directories under every root, in root order. Roots
// that cannot be read are reported through onError and skipped. A directory
// reachable from two roots is listed once.
func DiscoverRuns(roots []string, opts DiscoverOptions, onError func(root string, err error)) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, root := range roots {
		entries, err := ListRunDirectories(root, opts)
		if err != nil {
			if onError != nil {
				onError(root, err)
			}
			continue
		}
		for _, e := range entries {
			key := e.Path
			if resolved, err := filepath.EvalSymlinks(e.Path); err == nil {
				key = resolved
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			paths = append(paths, e.Path)
		}
	}
	return paths
}
