// Package match decides which contents entries are hidden from listings,
// using doublestar glob semantics.
package match

import (
	"strings"
)

// Glob metacharacters that can be escaped with backslash in patterns.
const globEscapable = `*?[]{}\`

// NormalizePattern converts a user-provided glob pattern to canonical form.
//
// Unescaped backslashes become forward slashes so Windows-style patterns work.
// Escaped glob metacharacters (\*, \?, \[ ...) are preserved.
//
//	"build\out"    → "build/out"
//	"notes\*.md"   → "notes\*.md"
//	"cache\\tmp"   → "cache/tmp"
func NormalizePattern(pattern string) string {
	if pattern == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' {
			result.WriteRune(r)
			continue
		}
		if i+1 < len(runes) && strings.ContainsRune(globEscapable, runes[i+1]) {
			result.WriteRune('\\')
			result.WriteRune(runes[i+1])
			i++
			continue
		}
		result.WriteRune('/')
	}
	return result.String()
}

// IsHidden returns true if any path segment starts with a dot.
//
//	"notes/file.txt"     → false
//	".ipynb_checkpoints" → true
//	"a/.hidden/b.txt"    → true
func IsHidden(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg != "" && strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
