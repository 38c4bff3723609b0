package contents

import (
	"time"
)

// EntryType is the kind of a contents entry.
type EntryType string

// Entry types.
const (
	TypeDirectory EntryType = "directory"
	TypeFile      EntryType = "file"
	TypeNotebook  EntryType = "notebook"
)

// Content formats.
const (
	FormatJSON   = "json"
	FormatText   = "text"
	FormatBase64 = "base64"
)

// Content types written to the object store.
const (
	NotebookContentType  = "application/x-ipynb+json"
	DirectoryContentType = "application/x-directory"
	DefaultMimetype      = "application/octet-stream"
	TextMimetype         = "text/plain"
)

// dirTimestamp is reported for directories that have no marker object.
var dirTimestamp = time.Unix(86400, 0).UTC()

// Entry is the model of a directory, file or notebook.
//
// Content is nil unless requested. For a directory it is []*Entry, for a
// notebook the parsed JSON document (map[string]any), and for a file a string in
// Format ("text" or "base64").
type Entry struct {
	Name         string    `json:"name" yaml:"name"`
	Path         string    `json:"path" yaml:"path"`
	Type         EntryType `json:"type" yaml:"type"`
	Writable     bool      `json:"writable" yaml:"writable"`
	Created      time.Time `json:"created" yaml:"created"`
	LastModified time.Time `json:"last_modified" yaml:"last_modified"`
	Size         *int64    `json:"size,omitempty" yaml:"size,omitempty"`
	Mimetype     string    `json:"mimetype,omitempty" yaml:"mimetype,omitempty"`
	Format       string    `json:"format,omitempty" yaml:"format,omitempty"`
	Content      any       `json:"content" yaml:"content"`
}

// Children returns the listing of a directory entry fetched with content.
func (e *Entry) Children() []*Entry {
	if e == nil {
		return nil
	}
	children, _ := e.Content.([]*Entry)
	return children
}

// Model is the input of Save and New.
type Model struct {
	Type EntryType `json:"type,omitempty"`

	// Format is "json" for notebooks and "text" or "base64" for files.
	Format string `json:"format,omitempty"`

	// Content is a JSON document for notebooks (a map, json.RawMessage or a
	// string holding JSON) and a string for files.
	Content any `json:"content,omitempty"`

	// Chunk numbers a multi-part upload: 1..N, with -1 marking the last part.
	// Zero means the model is complete.
	Chunk int `json:"chunk,omitempty"`
}

// GetOptions selects what Get returns.
type GetOptions struct {
	// Content requests the body. Without it the entry is built from metadata.
	Content bool

	// Type and Format override detection from the path when set.
	Type   EntryType
	Format string
}

// DeleteOptions configures Delete.
type DeleteOptions struct {
	// WithCheckpoints also removes a file's checkpoints.
	WithCheckpoints bool
}

// ParseEntryType validates s as an entry type. The empty string is accepted.
func ParseEntryType(s string) (EntryType, error) {
	switch t := EntryType(s); t {
	case "", TypeDirectory, TypeFile, TypeNotebook:
		return t, nil
	}
	return "", invalidArgument("unknown type %q", s)
}

func int64Ptr(v int64) *int64 {
	return &v
}
