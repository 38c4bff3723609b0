package match

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: Config{}},
		{name: "explicit", cfg: Config{Patterns: []string{"*.tmp", "build/**"}}},
		{name: "empty hides nothing", cfg: Config{Patterns: []string{}}},
		{name: "invalid", cfg: Config{Patterns: []string{"[invalid"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidPattern))
				var pe *PatternError
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, "[invalid", pe.Pattern)
				assert.Nil(t, m)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, m)
		})
	}
}

func TestMatch_Defaults(t *testing.T) {
	m, err := New(Config{})
	require.NoError(t, err)

	hidden := []string{"__pycache__", "pkg/__pycache__", "mod.pyc", "a/b/mod.pyo", ".DS_Store", "dir/.DS_Store", "notes.txt~"}
	for _, p := range hidden {
		assert.True(t, m.Match(p), p)
	}

	visible := []string{"", "notebook.ipynb", "src/mod.py", ".gitignore", "pycache/x"}
	for _, p := range visible {
		assert.False(t, m.Match(p), p)
	}
}

func TestMatch_PathPatterns(t *testing.T) {
	m, err := New(Config{Patterns: []string{"build/**", "/scratch/*.csv", `\tmp\data.csv`}})
	require.NoError(t, err)

	assert.Equal(t, []string{"build/**", "scratch/*.csv", "tmp/data.csv"}, m.Patterns())
	assert.True(t, m.Match("build/out/a.o"))
	assert.True(t, m.Match("scratch/x.csv"))
	assert.True(t, m.Match("tmp/data.csv"))
	assert.False(t, m.Match("scratch/deep/x.csv"))
	assert.False(t, m.Match("src/build/a.o"))
}

func TestMatch_HideDotted(t *testing.T) {
	m, err := New(Config{Patterns: []string{}, HideDotted: true})
	require.NoError(t, err)

	assert.True(t, m.Match(".ipynb_checkpoints"))
	assert.True(t, m.Match("a/.hidden/b.txt"))
	assert.False(t, m.Match("a/b.txt"))
}

func TestMatch_NilMatcher(t *testing.T) {
	var m *Matcher
	assert.False(t, m.Match("anything.pyc"))
}

func TestNormalizePattern(t *testing.T) {
	assert.Equal(t, "build/out/**", NormalizePattern(`build\out/**`))
	assert.Equal(t, `notes\*.md`, NormalizePattern(`notes\*.md`))
	assert.Equal(t, "a/b/", NormalizePattern(`a\b\`))
	assert.Equal(t, "", NormalizePattern(""))
}

func TestIsHidden(t *testing.T) {
	assert.False(t, IsHidden("notes/file.txt"))
	assert.True(t, IsHidden(".ipynb_checkpoints"))
	assert.True(t, IsHidden("a/.hidden/b.txt"))
	assert.False(t, IsHidden("file.txt."))
}
