// Package output renders CLI results as typed records.
//
// JSON output is one self-contained envelope per line (JSONL). YAML output is
// a stream of documents. Table output is for humans and carries no envelope.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/s3contents/pkg/checkpoint"
	"github.com/3leaps/s3contents/pkg/contents"
)

// Record type constants follow the pattern s3contents.<type>.v<version>.
const (
	// TypeEntry identifies a file, notebook or directory.
	TypeEntry = "s3contents.entry.v1"

	// TypeCheckpoint identifies a checkpoint of a file.
	TypeCheckpoint = "s3contents.checkpoint.v1"

	// TypeError identifies error records.
	TypeError = "s3contents.error.v1"

	// TypeSummary identifies the outcome of a multi-key operation.
	TypeSummary = "s3contents.summary.v1"
)

// Record is the envelope of every JSONL line.
type Record struct {
	Type string    `json:"type" yaml:"type"`
	TS   time.Time `json:"ts" yaml:"ts"`

	// OpID correlates all records of one command invocation.
	OpID string `json:"op_id" yaml:"op_id"`

	// Bucket is the bucket the command ran against.
	Bucket string `json:"bucket" yaml:"bucket"`

	Data json.RawMessage `json:"data" yaml:"-"`
}

// EntryRecord describes an entry without its content.
type EntryRecord struct {
	Name         string    `json:"name" yaml:"name"`
	Path         string    `json:"path" yaml:"path"`
	Type         string    `json:"type" yaml:"type"`
	Size         *int64    `json:"size,omitempty" yaml:"size,omitempty"`
	Mimetype     string    `json:"mimetype,omitempty" yaml:"mimetype,omitempty"`
	LastModified time.Time `json:"last_modified" yaml:"last_modified"`
	Writable     bool      `json:"writable" yaml:"writable"`
}

// NewEntryRecord copies the metadata of e.
func NewEntryRecord(e *contents.Entry) *EntryRecord {
	return &EntryRecord{
		Name:         e.Name,
		Path:         e.Path,
		Type:         string(e.Type),
		Size:         e.Size,
		Mimetype:     e.Mimetype,
		LastModified: e.LastModified,
		Writable:     e.Writable,
	}
}

// CheckpointRecord describes one checkpoint of Path.
type CheckpointRecord struct {
	Path         string    `json:"path" yaml:"path"`
	ID           string    `json:"id" yaml:"id"`
	LastModified time.Time `json:"last_modified" yaml:"last_modified"`
}

// NewCheckpointRecord copies cp for path.
func NewCheckpointRecord(path string, cp checkpoint.Checkpoint) *CheckpointRecord {
	return &CheckpointRecord{Path: path, ID: cp.ID, LastModified: cp.LastModified}
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code" yaml:"code"`

	// Message is a human-readable error description.
	Message string `json:"message" yaml:"message"`

	// Path is the contents path related to the error, if any.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Key is the object key related to the error, if any.
	Key string `json:"key,omitempty" yaml:"key,omitempty"`

	Details any `json:"details,omitempty" yaml:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeAccessDenied          = "ACCESS_DENIED"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeCredentialUnavailable = "CREDENTIALS_UNAVAILABLE"
	ErrCodeTransient             = "TRANSIENT"
	ErrCodeProtocol              = "PROTOCOL"
	ErrCodeCanceled              = "CANCELED"
	ErrCodeInternal              = "INTERNAL"
)

// SummaryRecord reports a multi-key operation.
type SummaryRecord struct {
	Op        string `json:"op" yaml:"op"`
	Path      string `json:"path" yaml:"path"`
	Succeeded int    `json:"succeeded" yaml:"succeeded"`
	Failed    int    `json:"failed" yaml:"failed"`

	// Duration is the wall time of the operation.
	Duration      time.Duration `json:"duration_ns" yaml:"duration_ns"`
	DurationHuman string        `json:"duration" yaml:"duration"`
}

// NewSummaryRecord summarizes res.
func NewSummaryRecord(op, path string, res *contents.BulkResult, elapsed time.Duration) *SummaryRecord {
	s := &SummaryRecord{Op: op, Path: path, Duration: elapsed, DurationHuman: elapsed.Round(time.Millisecond).String()}
	if res != nil {
		s.Succeeded = len(res.Succeeded)
		s.Failed = len(res.Failed)
	}
	return s
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")

	// ErrUnknownFormat is returned by New for unsupported formats.
	ErrUnknownFormat = errors.New("unknown output format")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // marshal_data, marshal_record or write
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
