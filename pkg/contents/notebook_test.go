package contents

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeNotebook(t *testing.T) {
	nb, err := decodeNotebook("a.ipynb", []byte(`{"cells":[{"source":["x\n","y"]},{"source":"z"},"odd"],"nbformat":4}`))
	require.NoError(t, err)
	cells := nb["cells"].([]any)
	assert.Equal(t, "x\ny", cells[0].(map[string]any)["source"])
	assert.Equal(t, "z", cells[1].(map[string]any)["source"])
	assert.Equal(t, "odd", cells[2])
	assert.Equal(t, json.Number("4"), nb["nbformat"])

	for _, body := range []string{``, `null`, `[1,2]`, `{"a":1} {"b":2}`, `{"a":`} {
		_, err := decodeNotebook("a.ipynb", []byte(body))
		assert.True(t, IsContentCorrupt(err), "body %q", body)
	}
}

func TestEncodeNotebook(t *testing.T) {
	want := "{\n \"nbformat\": 4\n}\n"
	for _, content := range []any{
		map[string]any{"nbformat": 4},
		`{"nbformat":4}`,
		[]byte(`{"nbformat":4}`),
		json.RawMessage(`{"nbformat": 4}`),
	} {
		body, err := encodeNotebook(content)
		require.NoError(t, err)
		assert.Equal(t, want, string(body))
	}

	for _, content := range []any{nil, "not json", `[1]`, `null`, func() {}} {
		_, err := encodeNotebook(content)
		assert.True(t, IsInvalidArgument(err), "content %T", content)
	}
}

func TestEmptyNotebookRoundTrip(t *testing.T) {
	body, err := encodeNotebook(emptyNotebook())
	require.NoError(t, err)
	nb, err := decodeNotebook("Untitled.ipynb", body)
	require.NoError(t, err)
	assert.Equal(t, json.Number("5"), nb["nbformat_minor"])
	assert.Empty(t, nb["cells"])
}

func TestMimetypes(t *testing.T) {
	assert.Equal(t, "text/plain", guessMimetype("a/notes.TXT"))
	assert.Equal(t, "text/x-python", guessMimetype("x.py"))
	assert.Equal(t, "", guessMimetype("Makefile"))

	assert.Equal(t, "text/plain", fileMimetype("Makefile", "text/plain; charset=utf-8"))
	assert.Equal(t, "", fileMimetype("Makefile", "binary/octet-stream"))
	assert.Equal(t, "image/png", fileMimetype("x.png", "application/octet-stream"))

	assert.True(t, isTextMimetype("text/csv"))
	assert.True(t, isTextMimetype("application/json"))
	assert.False(t, isTextMimetype("image/png"))
}
