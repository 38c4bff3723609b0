package pathmap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"/", "", false},
		{"a", "a", false},
		{"/a/b/", "a/b", false},
		{`\a\b.ipynb`, "a/b.ipynb", false},
		{"a//b", "a/b", false},
		{"./a/./b", "a/b", false},
		{"a b/c+d.txt", "a b/c+d.txt", false},
		{"../etc/passwd", "", true},
		{"a/../b", "", true},
		{"a/.checkpoints/x", "", true},
		{".checkpoints", "", true},
		{"a/.checkpointsx/y", "a/.checkpointsx/y", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidPath))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	paths := []string{"", "a", "a/b", "dir/Untitled.ipynb", "with space/ü.txt", "deep/er/still/file.csv"}

	for _, prefix := range []string{"", "root", "/nested/prefix/"} {
		m := New(prefix)
		for _, p := range paths {
			got, err := m.ToPath(m.ToKey(p))
			require.NoError(t, err)
			assert.Equal(t, p, got, "prefix %q", prefix)

			got, err = m.ToPath(m.DirectoryMarkerKey(p))
			require.NoError(t, err)
			assert.Equal(t, p, got, "marker round trip, prefix %q", prefix)
		}
	}
}

func TestMapperKeys(t *testing.T) {
	m := New("/users/alice/")
	assert.Equal(t, "users/alice/", m.Prefix())

	assert.Equal(t, "users/alice/nb.ipynb", m.ToKey("nb.ipynb"))
	assert.Equal(t, "users/alice/", m.ToKey(""))
	assert.Equal(t, "users/alice/", m.DirectoryPrefix(""))
	assert.Equal(t, "users/alice/dir/", m.DirectoryPrefix("dir"))
	assert.Equal(t, "users/alice/dir/", m.DirectoryMarkerKey("dir"))
	assert.Equal(t, "users/alice/dir/nb.ipynb/.checkpoints/", m.CheckpointNamespace("dir/nb.ipynb"))
	assert.Equal(t, "users/alice/dir/nb.ipynb/.checkpoints/0190", m.CheckpointKey("dir/nb.ipynb", "0190"))

	_, err := m.ToPath("users/bob/x")
	assert.True(t, errors.Is(err, ErrInvalidPath))

	empty := New("")
	assert.Equal(t, "", empty.Prefix())
	assert.Equal(t, "", empty.DirectoryPrefix(""))
	assert.Equal(t, "a.txt/.checkpoints/", empty.CheckpointNamespace("a.txt"))
}

func TestIsCheckpointKey(t *testing.T) {
	m := New("p")
	assert.True(t, m.IsCheckpointKey("p/a.txt/.checkpoints/123"))
	assert.True(t, m.IsCheckpointKey("p/dir/a.txt/.checkpoints/"))
	assert.True(t, m.IsCheckpointKey("p/.checkpoints/orphan"))
	assert.False(t, m.IsCheckpointKey("p/a.txt"))
	assert.False(t, m.IsCheckpointKey("p/dir/"))
	assert.False(t, m.IsCheckpointKey("p/dir/.checkpointsx/a"))
}

func TestPathHelpers(t *testing.T) {
	assert.True(t, IsRoot(""))
	assert.False(t, IsRoot("a"))

	assert.Equal(t, "c.txt", Name("a/b/c.txt"))
	assert.Equal(t, "top", Name("top"))
	assert.Equal(t, "", Name(""))

	assert.Equal(t, "a/b", Parent("a/b/c.txt"))
	assert.Equal(t, "", Parent("top"))
	assert.Equal(t, "", Parent(""))

	assert.Equal(t, "x", Join("", "x"))
	assert.Equal(t, "a/x", Join("a", "x"))

	assert.Equal(t, ".ipynb", Ext("dir/NB.IPYNB"))
	assert.Equal(t, "", Ext("dir/Makefile"))
	assert.Equal(t, "", Ext("dir.d/Makefile"))

	assert.True(t, IsMarkerKey("a/"))
	assert.False(t, IsMarkerKey("a"))

	assert.Equal(t, 0, Depth("a.txt"))
	assert.Equal(t, 1, Depth("a/"))
	assert.Equal(t, 1, Depth("a/b.txt"))
	assert.Equal(t, 2, Depth("a/b/"))
}
