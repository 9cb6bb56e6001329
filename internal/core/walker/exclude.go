package walker

import (
	gitignore "github.com/sabhiram/go-gitignore"
)

// Matcher decides which relative paths are hidden from a walk
type Matcher struct {
	ignore *gitignore.GitIgnore
}

// NewMatcher compiles gitignore-style patterns.
// Returns nil when there are no patterns; a nil Matcher matches nothing.
func NewMatcher(patterns []string) *Matcher {
	if len(patterns) == 0 {
		return nil
	}
	return &Matcher{ignore: gitignore.CompileIgnoreLines(patterns...)}
}

// Match reports whether path is excluded.
// Patterns with a trailing slash only apply to directories.
func (m *Matcher) Match(path string, dir bool) bool {
	if m == nil || path == "" {
		return false
	}
	if m.ignore.MatchesPath(path) {
		return true
	}
	return dir && m.ignore.MatchesPath(path+"/")
}
