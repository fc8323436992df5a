package filtering

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gobwas/glob"
)

// NameFilter decides which archive names of a source are loaded.
// A nil *NameFilter includes every name.
type NameFilter struct {
	include []pattern
	exclude []pattern
}

type pattern struct {
	raw      string
	compiled glob.Glob
}

// NewNameFilter compiles the include and exclude patterns. It returns nil,
// nil when neither list has patterns.
func NewNameFilter(include, exclude []string) (*NameFilter, error) {
	if len(include) == 0 && len(exclude) == 0 {
		return nil, nil
	}

	var errs []error
	f := &NameFilter{}
	for _, raw := range include {
		p, err := compilePattern(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid include pattern '%s': %w", raw, err))
			continue
		}
		f.include = append(f.include, p)
	}
	for _, raw := range exclude {
		p, err := compilePattern(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid exclude pattern '%s': %w", raw, err))
			continue
		}
		f.exclude = append(f.exclude, p)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return f, nil
}

// compilePattern validates the pattern with filepath.Match syntax first so
// that malformed character classes are reported the same way on every
// platform, then compiles it without separators so '*' matches across '/'.
func compilePattern(raw string) (pattern, error) {
	if raw == "" {
		return pattern{}, fmt.Errorf("pattern is empty")
	}
	if _, err := filepath.Match(raw, "test"); err != nil {
		return pattern{}, err
	}
	compiled, err := glob.Compile(raw)
	if err != nil {
		return pattern{}, err
	}
	return pattern{raw: raw, compiled: compiled}, nil
}

// ShouldInclude reports whether name is selected, with the reason for the decision
func (f *NameFilter) ShouldInclude(name string) (bool, string) {
	if f == nil {
		return true, "no name filters specified"
	}

	// Exclude takes precedence
	for _, p := range f.exclude {
		if p.compiled.Match(name) {
			return false, fmt.Sprintf("excluded by pattern '%s'", p.raw)
		}
	}

	if len(f.include) > 0 {
		for _, p := range f.include {
			if p.compiled.Match(name) {
				return true, fmt.Sprintf("included by pattern '%s'", p.raw)
			}
		}
		return false, fmt.Sprintf("no match found in include patterns %v", f.Patterns().Include)
	}

	return true, fmt.Sprintf("no match in exclude patterns %v", f.Patterns().Exclude)
}

// Patterns is the source form of a NameFilter
type Patterns struct {
	Include []string
	Exclude []string
}

// Patterns returns the patterns the filter was built from
func (f *NameFilter) Patterns() Patterns {
	var out Patterns
	if f == nil {
		return out
	}
	for _, p := range f.include {
		out.Include = append(out.Include, p.raw)
	}
	for _, p := range f.exclude {
		out.Exclude = append(out.Exclude, p.raw)
	}
	return out
}
