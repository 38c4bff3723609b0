package contents

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/3leaps/s3contents/pkg/pathmap"
)

// maxNameAttempts bounds the search for a free name.
const maxNameAttempts = 10000

// copyInsert is placed between the base name and the counter of copies.
const copyInsert = "-Copy"

// copySuffix matches a "-CopyN" left on the base name by an earlier copy.
var copySuffix = regexp.MustCompile(`-Copy\d*$`)

// copySourceName drops an earlier "-CopyN" so copies of copies are numbered
// from the original name: "a-Copy1.txt" yields "a.txt".
func copySourceName(name string) string {
	base, suffix := splitName(name)
	if stripped := copySuffix.ReplaceAllString(base, ""); stripped != "" {
		base = stripped
	}
	return base + suffix
}

// splitName splits a file name at its first dot, so "data.tar.gz" keeps
// ".tar.gz" as its suffix. A leading dot belongs to the base name.
func splitName(name string) (base, suffix string) {
	start := 0
	if strings.HasPrefix(name, ".") {
		start = 1
	}
	if i := strings.Index(name[start:], "."); i >= 0 {
		return name[:start+i], name[start+i:]
	}
	return name, ""
}

// incrementName returns the first of name, base+insert+"1"+suffix,
// base+insert+"2"+suffix, ... that does not exist in dir.
func (m *Manager) incrementName(ctx context.Context, dir, name, insert string) (string, error) {
	base, suffix := splitName(name)
	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = base + insert + strconv.Itoa(i) + suffix
		}
		ok, err := m.exists(ctx, pathmap.Join(dir, candidate))
		if err != nil {
			return "", err
		}
		if !ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free name for %q in %q", ErrAlreadyExists, name, dir)
}

// sortForCopy orders keys shallow first, with a directory marker before the
// entries at its depth, so targets appear parent first.
func sortForCopy(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		di, dj := pathmap.Depth(keys[i]), pathmap.Depth(keys[j])
		if di != dj {
			return di < dj
		}
		mi, mj := pathmap.IsMarkerKey(keys[i]), pathmap.IsMarkerKey(keys[j])
		if mi != mj {
			return mi
		}
		return keys[i] < keys[j]
	})
}

// sortForDelete orders keys deepest first, with a directory marker after the
// entries at its depth, so a directory disappears only after its contents.
func sortForDelete(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		di, dj := pathmap.Depth(keys[i]), pathmap.Depth(keys[j])
		if di != dj {
			return di > dj
		}
		mi, mj := pathmap.IsMarkerKey(keys[i]), pathmap.IsMarkerKey(keys[j])
		if mi != mj {
			return mj
		}
		return keys[i] < keys[j]
	})
}
