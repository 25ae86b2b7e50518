package extractor

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/rohankatakam/harvest/internal/errors"
)

// PathFilter decides which changed paths become Actions.
// Exclude wins over Include; an empty Include accepts everything.
type PathFilter struct {
	include []string
	exclude []string
}

// NewPathFilter validates the glob patterns up front
func NewPathFilter(include, exclude []string) (*PathFilter, error) {
	for _, p := range append(append([]string{}, include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, errors.ConfigErrorf("invalid path pattern %q", p)
		}
	}
	return &PathFilter{include: include, exclude: exclude}, nil
}

// Match reports whether path passes the filter. A nil filter accepts all paths.
func (f *PathFilter) Match(path string) bool {
	if f == nil {
		return true
	}

	path = strings.ReplaceAll(path, "\\", "/")

	for _, pattern := range f.exclude {
		if matched, _ := doublestar.Match(pattern, path); matched {
			return false
		}
	}

	if len(f.include) == 0 {
		return true
	}

	for _, pattern := range f.include {
		if matched, _ := doublestar.Match(pattern, path); matched {
			return true
		}
	}
	return false
}
