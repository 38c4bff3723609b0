package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultHidePatterns are hidden when no patterns are configured.
var DefaultHidePatterns = []string{"__pycache__", "*.pyc", "*.pyo", ".DS_Store", "*~"}

// Matcher evaluates hide patterns against contents paths.
//
// A pattern without a "/" is matched against the final path segment, so "*.pyc"
// hides compiled files at any depth. A pattern containing "/" is matched
// against the whole path ("build/**").
//
// The Matcher is safe for concurrent use after creation.
type Matcher struct {
	names      []string
	paths      []string
	hideDotted bool
}

// Config configures a Matcher.
type Config struct {
	// Patterns are doublestar globs. Nil selects DefaultHidePatterns; an empty
	// non-nil slice hides nothing.
	Patterns []string

	// HideDotted additionally hides any path with a segment starting with '.'.
	HideDotted bool
}

// Errors returned by Matcher operations.
var (
	// ErrInvalidPattern is returned when a pattern cannot be compiled.
	ErrInvalidPattern = errors.New("invalid glob pattern")
)

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New creates a Matcher from cfg.
// Returns a *PatternError if any pattern is invalid.
func New(cfg Config) (*Matcher, error) {
	patterns := cfg.Patterns
	if patterns == nil {
		patterns = DefaultHidePatterns
	}

	m := &Matcher{hideDotted: cfg.HideDotted}
	for _, raw := range patterns {
		normalized := strings.Trim(NormalizePattern(raw), "/")
		if normalized == "" {
			continue
		}
		if !doublestar.ValidatePattern(normalized) {
			return nil, &PatternError{Pattern: raw, Err: ErrInvalidPattern}
		}
		if strings.Contains(normalized, "/") {
			m.paths = append(m.paths, normalized)
		} else {
			m.names = append(m.names, normalized)
		}
	}
	return m, nil
}

// Match reports whether the canonical path p is hidden.
func (m *Matcher) Match(p string) bool {
	if m == nil || p == "" {
		return false
	}
	if m.hideDotted && IsHidden(p) {
		return true
	}

	name := p
	if i := strings.LastIndex(p, "/"); i >= 0 {
		name = p[i+1:]
	}
	for _, pat := range m.names {
		if matchPattern(pat, name) {
			return true
		}
	}
	for _, pat := range m.paths {
		if matchPattern(pat, p) {
			return true
		}
	}
	return false
}

// Patterns returns the compiled patterns, name patterns first.
func (m *Matcher) Patterns() []string {
	out := make([]string, 0, len(m.names)+len(m.paths))
	out = append(out, m.names...)
	return append(out, m.paths...)
}

func matchPattern(pattern, s string) bool {
	matched, err := doublestar.Match(pattern, s)
	if err != nil {
		// Pattern was validated at construction time.
		return false
	}
	return matched
}
