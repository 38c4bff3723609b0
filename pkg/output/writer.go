package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
)

// Output formats accepted by New.
const (
	FormatJSON  = "json"
	FormatYAML  = "yaml"
	FormatTable = "table"
)

// Writer emits CLI records.
//
// Implementations are safe for concurrent use. Each record is written
// atomically with respect to the others.
type Writer interface {
	WriteEntry(ctx context.Context, e *EntryRecord) error
	WriteCheckpoint(ctx context.Context, cp *CheckpointRecord) error
	WriteError(ctx context.Context, err *ErrorRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// Close flushes buffered output. The underlying io.Writer is not closed.
	Close() error
}

// New returns a writer for format. The empty format selects table output.
func New(format string, w io.Writer, opID, bucket string) (Writer, error) {
	switch format {
	case FormatJSON:
		return NewJSONLWriter(w, opID, bucket), nil
	case FormatYAML:
		return NewYAMLWriter(w), nil
	case FormatTable, "":
		return NewTableWriter(w), nil
	}
	return nil, fmt.Errorf("%w: %q (want json, yaml or table)", ErrUnknownFormat, format)
}

// JSONLWriter writes records as newline-delimited JSON envelopes.
type JSONLWriter struct {
	w      io.Writer
	opID   string
	bucket string
	mu     sync.Mutex
	closed bool
}

// NewJSONLWriter creates a JSONL writer tagging every record with opID and bucket.
func NewJSONLWriter(w io.Writer, opID, bucket string) *JSONLWriter {
	return &JSONLWriter{w: w, opID: opID, bucket: bucket}
}

func (jw *JSONLWriter) WriteEntry(ctx context.Context, e *EntryRecord) error {
	return jw.writeRecord(ctx, TypeEntry, e)
}

func (jw *JSONLWriter) WriteCheckpoint(ctx context.Context, cp *CheckpointRecord) error {
	return jw.writeRecord(ctx, TypeCheckpoint, cp)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

// Close marks the writer as closed.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.closed = true
	return nil
}

func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.closed {
		return ErrWriterClosed
	}

	recordBytes, err := json.Marshal(Record{
		Type:   recordType,
		TS:     time.Now().UTC(),
		OpID:   jw.opID,
		Bucket: jw.bucket,
		Data:   dataBytes,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// A short write would silently truncate the line.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeAll writes all of p to w, looping over short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// YAMLWriter writes one YAML document per record, each wrapped as
// {type: ..., data: ...}.
type YAMLWriter struct {
	mu     sync.Mutex
	enc    *yaml.Encoder
	closed bool
}

// NewYAMLWriter creates a YAML document-stream writer.
func NewYAMLWriter(w io.Writer) *YAMLWriter {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	return &YAMLWriter{enc: enc}
}

type yamlDoc struct {
	Type string `yaml:"type"`
	Data any    `yaml:"data"`
}

func (yw *YAMLWriter) WriteEntry(ctx context.Context, e *EntryRecord) error {
	return yw.write(ctx, TypeEntry, e)
}

func (yw *YAMLWriter) WriteCheckpoint(ctx context.Context, cp *CheckpointRecord) error {
	return yw.write(ctx, TypeCheckpoint, cp)
}

func (yw *YAMLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return yw.write(ctx, TypeError, err)
}

func (yw *YAMLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return yw.write(ctx, TypeSummary, sum)
}

func (yw *YAMLWriter) write(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	yw.mu.Lock()
	defer yw.mu.Unlock()
	if yw.closed {
		return ErrWriterClosed
	}
	if err := yw.enc.Encode(yamlDoc{Type: recordType, Data: data}); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// Close flushes the encoder.
func (yw *YAMLWriter) Close() error {
	yw.mu.Lock()
	defer yw.mu.Unlock()
	if yw.closed {
		return nil
	}
	yw.closed = true
	return yw.enc.Close()
}

// TableWriter renders records as aligned columns. Entries and checkpoints
// are buffered until Close so the columns line up; errors and summaries go
// out immediately below whatever was flushed.
type TableWriter struct {
	mu     sync.Mutex
	w      io.Writer
	tw     *tabwriter.Writer
	header string
	closed bool
}

// NewTableWriter creates a table writer.
func NewTableWriter(w io.Writer) *TableWriter {
	return &TableWriter{w: w, tw: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)}
}

func (tw *TableWriter) WriteEntry(ctx context.Context, e *EntryRecord) error {
	size := "-"
	if e.Size != nil {
		size = FormatSize(*e.Size)
	}
	modified := "-"
	if !e.LastModified.IsZero() {
		modified = e.LastModified.UTC().Format(time.RFC3339)
	}
	name := e.Name
	if e.Type == "directory" {
		name += "/"
	}
	return tw.row(ctx, "TYPE\tSIZE\tMODIFIED\tNAME", e.Type+"\t"+size+"\t"+modified+"\t"+name)
}

func (tw *TableWriter) WriteCheckpoint(ctx context.Context, cp *CheckpointRecord) error {
	return tw.row(ctx, "ID\tCREATED\tPATH", cp.ID+"\t"+cp.LastModified.UTC().Format(time.RFC3339)+"\t"+cp.Path)
}

func (tw *TableWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	where := err.Path
	if where == "" {
		where = err.Key
	}
	line := "error: " + err.Code + ": " + err.Message
	if where != "" && where != err.Message {
		line = "error: " + err.Code + ": " + where + ": " + err.Message
	}
	return tw.line(ctx, line)
}

func (tw *TableWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return tw.line(ctx, fmt.Sprintf("%s %s: %d succeeded, %d failed in %s",
		sum.Op, sum.Path, sum.Succeeded, sum.Failed, sum.DurationHuman))
}

func (tw *TableWriter) row(ctx context.Context, header, row string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.closed {
		return ErrWriterClosed
	}
	if tw.header != header {
		if tw.header != "" {
			if err := tw.tw.Flush(); err != nil {
				return &WriteError{Op: "write", Err: err}
			}
		}
		tw.header = header
		if _, err := fmt.Fprintln(tw.tw, header); err != nil {
			return &WriteError{Op: "write", Err: err}
		}
	}
	if _, err := fmt.Fprintln(tw.tw, row); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

func (tw *TableWriter) line(ctx context.Context, s string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.closed {
		return ErrWriterClosed
	}
	if err := tw.tw.Flush(); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	tw.header = ""
	if err := writeAll(tw.w, []byte(s+"\n")); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// Close flushes pending rows.
func (tw *TableWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.closed {
		return nil
	}
	tw.closed = true
	return tw.tw.Flush()
}

// FormatSize renders a byte count with a binary unit.
func FormatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

var (
	_ Writer = (*JSONLWriter)(nil)
	_ Writer = (*YAMLWriter)(nil)
	_ Writer = (*TableWriter)(nil)
)
