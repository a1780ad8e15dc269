package localfs

import "regexp"

// DiscoverOptions configures run directory discovery.
type DiscoverOptions struct {
	// IncludeHidden includes directories starting with a dot.
	// Default is false (hidden directories excluded).
	IncludeHidden bool

	// Pattern, when set, keeps only directory names it matches.
	Pattern *regexp.Regexp
}
