package supervisor

import (
	"fmt"
	"path/filepath"

	"github.com/gobwas/glob"
)

// GlobFilter excludes expanded paths matching any of its patterns
type GlobFilter struct {
	globs []glob.Glob
}

// NewGlobFilter compiles exclusion patterns. '*' stops at path separators and
// '**' crosses them. An empty pattern list excludes nothing.
func NewGlobFilter(patterns []string) (*GlobFilter, error) {
	filter := &GlobFilter{
		globs: make([]glob.Glob, 0, len(patterns)),
	}

	for _, pattern := range patterns {
		g, err := glob.Compile(filepath.ToSlash(pattern), '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		filter.globs = append(filter.globs, g)
	}

	return filter, nil
}

// Excluded reports whether path matches a pattern. Patterns without a
// separator are also tried against the base name, so "*.gz" drops every
// compressed file.
func (f *GlobFilter) Excluded(path string) bool {
	slashed := filepath.ToSlash(path)
	base := filepath.Base(path)

	for _, g := range f.globs {
		if g.Match(slashed) || g.Match(base) {
			return true
		}
	}
	return false
}
