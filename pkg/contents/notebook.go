package contents

import (
	"bytes"
	"encoding/json"
	"strings"
)

const (
	nbformatMajor = 4
	nbformatMinor = 5
)

// emptyNotebook returns a minimal v4 notebook document.
func emptyNotebook() map[string]any {
	return map[string]any{
		"cells":          []any{},
		"metadata":       map[string]any{},
		"nbformat":       nbformatMajor,
		"nbformat_minor": nbformatMinor,
	}
}

// decodeNotebook parses stored notebook bytes. Cell sources stored as line
// arrays are joined into single strings.
func decodeNotebook(p string, body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var nb map[string]any
	if err := dec.Decode(&nb); err != nil {
		return nil, corrupt(p, "invalid notebook JSON: %v", err)
	}
	if nb == nil {
		return nil, corrupt(p, "notebook is not a JSON object")
	}
	if dec.More() {
		return nil, corrupt(p, "trailing data after notebook document")
	}
	joinCellSources(nb)
	return nb, nil
}

func joinCellSources(nb map[string]any) {
	cells, _ := nb["cells"].([]any)
	for _, c := range cells {
		cell, ok := c.(map[string]any)
		if !ok {
			continue
		}
		lines, ok := cell["source"].([]any)
		if !ok {
			continue
		}
		var b strings.Builder
		for _, line := range lines {
			if s, ok := line.(string); ok {
				b.WriteString(s)
			}
		}
		cell["source"] = b.String()
	}
}

// encodeNotebook serializes notebook content as indented JSON.
func encodeNotebook(content any) ([]byte, error) {
	var raw []byte
	switch v := content.(type) {
	case nil:
		return nil, invalidArgument("notebook content is required")
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, invalidArgument("notebook content: %v", err)
		}
		raw = b
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil || doc == nil {
		return nil, invalidArgument("notebook content is not a JSON object")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", " ")
	if err := enc.Encode(doc); err != nil {
		return nil, invalidArgument("notebook content: %v", err)
	}
	return buf.Bytes(), nil
}
