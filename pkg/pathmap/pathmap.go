// Package pathmap translates virtual contents paths to object keys and back.
//
// Canonical paths use "/" separators and have no leading or trailing slash; the
// root is the empty string. A Mapper anchors paths under an optional key prefix,
// so the root directory lists the keys directly under that prefix.
//
// Directories have no object of their own. They are implied by keys sharing a
// "dir/" prefix and made explicit by a zero-byte marker whose key ends in "/".
// Checkpoints of a file live under "<file key>/.checkpoints/".
package pathmap

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Separator is the key and path separator.
const Separator = "/"

// CheckpointDir is the reserved segment holding checkpoint copies.
const CheckpointDir = ".checkpoints"

// ErrInvalidPath indicates a path that cannot be mapped to a key.
var ErrInvalidPath = errors.New("invalid path")

// Normalize returns the canonical form of p.
//
// Backslashes become "/", leading, trailing and repeated separators are dropped,
// and "." segments are removed. ".." and the reserved checkpoint segment are
// rejected with ErrInvalidPath.
func Normalize(p string) (string, error) {
	p = strings.ReplaceAll(p, `\`, Separator)
	parts := strings.Split(p, Separator)
	out := parts[:0]
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: %q: parent references are not allowed", ErrInvalidPath, p)
		case CheckpointDir:
			return "", fmt.Errorf("%w: %q: %s is reserved", ErrInvalidPath, p, CheckpointDir)
		}
		out = append(out, part)
	}
	return strings.Join(out, Separator), nil
}

// IsRoot reports whether a canonical path is the root directory.
func IsRoot(p string) bool {
	return p == ""
}

// Name returns the final segment of a canonical path ("" for the root).
func Name(p string) string {
	if i := strings.LastIndex(p, Separator); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Parent returns the canonical parent of p. The parent of a top-level entry and
// of the root is the root.
func Parent(p string) string {
	if i := strings.LastIndex(p, Separator); i >= 0 {
		return p[:i]
	}
	return ""
}

// Join appends name to the canonical directory dir.
func Join(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + Separator + name
}

// Ext returns the lowercase extension of the final segment, including the dot.
func Ext(p string) string {
	return strings.ToLower(path.Ext(Name(p)))
}

// Mapper maps canonical paths to keys under a fixed prefix.
// A Mapper is immutable and safe for concurrent use.
type Mapper struct {
	prefix string
}

// New returns a Mapper rooted at prefix. Surrounding slashes are ignored, so
// "notebooks", "/notebooks/" and "notebooks/" are equivalent.
func New(prefix string) *Mapper {
	prefix = strings.Trim(strings.ReplaceAll(prefix, `\`, Separator), Separator)
	if prefix != "" {
		prefix += Separator
	}
	return &Mapper{prefix: prefix}
}

// Prefix returns the key prefix, empty or ending in "/".
func (m *Mapper) Prefix() string {
	return m.prefix
}

// ToKey returns the object key for a canonical path.
// The root maps to the prefix itself.
func (m *Mapper) ToKey(p string) string {
	return m.prefix + p
}

// ToPath returns the canonical path for key. A trailing "/" (directory marker or
// common prefix) is dropped. Keys outside the prefix return ErrInvalidPath.
func (m *Mapper) ToPath(key string) (string, error) {
	if !strings.HasPrefix(key, m.prefix) {
		return "", fmt.Errorf("%w: key %q is outside prefix %q", ErrInvalidPath, key, m.prefix)
	}
	return strings.TrimSuffix(strings.TrimPrefix(key, m.prefix), Separator), nil
}

// DirectoryPrefix returns the listing prefix for a directory: its key followed
// by "/", or the bare prefix for the root.
func (m *Mapper) DirectoryPrefix(p string) string {
	if p == "" {
		return m.prefix
	}
	return m.prefix + p + Separator
}

// DirectoryMarkerKey returns the key of the zero-byte object marking p as a directory.
func (m *Mapper) DirectoryMarkerKey(p string) string {
	return m.DirectoryPrefix(p)
}

// CheckpointNamespace returns the key prefix holding checkpoints of the file at p.
func (m *Mapper) CheckpointNamespace(p string) string {
	return m.prefix + p + Separator + CheckpointDir + Separator
}

// CheckpointKey returns the key of checkpoint id for the file at p.
func (m *Mapper) CheckpointKey(p, id string) string {
	return m.CheckpointNamespace(p) + id
}

// IsCheckpointKey reports whether key (or common prefix) lies inside any
// checkpoint namespace.
func (m *Mapper) IsCheckpointKey(key string) bool {
	rel := strings.TrimPrefix(key, m.prefix)
	return strings.HasPrefix(rel, CheckpointDir+Separator) ||
		strings.Contains(rel, Separator+CheckpointDir+Separator)
}

// IsMarkerKey reports whether key is a directory marker (ends in "/").
func IsMarkerKey(key string) bool {
	return strings.HasSuffix(key, Separator)
}

// Depth returns the number of separators in key. A directory marker has the
// same depth as the entries it contains.
func Depth(key string) int {
	return strings.Count(key, Separator)
}
