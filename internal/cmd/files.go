package cmd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/s3contents/internal/observability"
	"github.com/3leaps/s3contents/pkg/contents"
	"github.com/3leaps/s3contents/pkg/objectstore"
	"github.com/3leaps/s3contents/pkg/output"
)

var (
	getType   string
	getFormat string
	getOut    string
	getMeta   bool

	putType      string
	putChunkSize int

	rmCheckpoints bool

	newType string
	newExt  string
)

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory",
	Long: `List the entries of a directory, or describe a single file.

Examples:
  s3contents ls
  s3contents ls projects/2024 -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Print a file or notebook",
	Long: `Print the content of a file or notebook to stdout, or to --out.

Text files are printed as-is, binary files as their raw bytes, notebooks as
indented JSON. With --meta the entry metadata is printed instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

var putCmd = &cobra.Command{
	Use:   "put <path> [source]",
	Short: "Save a file or notebook",
	Long: `Save the content of source (a local file, or stdin when omitted or "-")
at path. The type defaults from the extension: ".ipynb" is a notebook.

With --chunk-size the content is sent in base64 chunks and committed when the
last one arrives.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPut,
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runMkdir,
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Delete a file or directory",
	Long: `Delete a file, or a directory with everything below it.

Directory deletes continue past failures and report each key that could not
be removed; the exit code is then non-zero.`,
	Args: cobra.ExactArgs(1),
	RunE: runRm,
}

var mvCmd = &cobra.Command{
	Use:   "mv <path> <new-path>",
	Short: "Rename a file or directory",
	Args:  cobra.ExactArgs(2),
	RunE:  runMv,
}

var cpCmd = &cobra.Command{
	Use:   "cp <path> [target]",
	Short: "Copy a file or directory",
	Long: `Copy a file or directory. A target directory receives a "-CopyN" name;
without a target the copy lands next to the source.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCp,
}

var newCmd = &cobra.Command{
	Use:   "new [dir]",
	Short: "Create an untitled file, notebook or directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runNew,
}

func init() {
	rootCmd.AddCommand(lsCmd, getCmd, putCmd, mkdirCmd, rmCmd, mvCmd, cpCmd, newCmd)

	getCmd.Flags().StringVar(&getType, "type", "", "Entry type: file or notebook (default from extension)")
	getCmd.Flags().StringVar(&getFormat, "format", "", "File format: text or base64 (default from mimetype)")
	getCmd.Flags().StringVar(&getOut, "out", "", "Write content to this file instead of stdout")
	getCmd.Flags().BoolVar(&getMeta, "meta", false, "Print entry metadata instead of content")

	putCmd.Flags().StringVar(&putType, "type", "", "Entry type: file or notebook (default from extension)")
	putCmd.Flags().IntVar(&putChunkSize, "chunk-size", 0, "Upload in chunks of this many bytes (0 sends one request)")

	rmCmd.Flags().BoolVar(&rmCheckpoints, "checkpoints", false, "Also delete the checkpoints of a file")

	newCmd.Flags().StringVar(&newType, "type", "file", "Entry type: file, notebook or directory")
	newCmd.Flags().StringVar(&newExt, "ext", "", "File extension, e.g. .txt")
}

// withManager opens a manager and an output writer for the duration of fn.
func withManager(cmd *cobra.Command, fn func(ctx context.Context, m *contents.Manager, w output.Writer) error) error {
	ctx := cmd.Context()
	m, cfg, err := openManager(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	w, err := output.New(outputFormat, cmd.OutOrStdout(), newOpID(), cfg.Storage.Bucket)
	if err != nil {
		return exitError(ExitInvalidArgument, "Invalid --output value", err)
	}
	defer func() { _ = w.Close() }()

	return fn(ctx, m, w)
}

func newOpID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func argOrRoot(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func runLs(cmd *cobra.Command, args []string) error {
	p := argOrRoot(args)
	return withManager(cmd, func(ctx context.Context, m *contents.Manager, w output.Writer) error {
		entry, err := m.Get(ctx, p, contents.GetOptions{Content: true, Type: contents.TypeDirectory})
		if err != nil && objectstore.IsNotFound(err) {
			entry, err = m.Get(ctx, p, contents.GetOptions{})
		}
		if err != nil {
			return storeError("ls failed", err)
		}
		if entry.Type != contents.TypeDirectory {
			return w.WriteEntry(ctx, output.NewEntryRecord(entry))
		}
		for _, child := range entry.Children() {
			if err := w.WriteEntry(ctx, output.NewEntryRecord(child)); err != nil {
				return err
			}
		}
		return nil
	})
}

func runGet(cmd *cobra.Command, args []string) error {
	typ, err := contents.ParseEntryType(getType)
	if err != nil {
		return exitError(ExitInvalidArgument, "Invalid --type value", err)
	}
	return withManager(cmd, func(ctx context.Context, m *contents.Manager, w output.Writer) error {
		entry, err := m.Get(ctx, args[0], contents.GetOptions{Content: !getMeta, Type: typ, Format: getFormat})
		if err != nil {
			return storeError("get failed", err)
		}
		if getMeta {
			return w.WriteEntry(ctx, output.NewEntryRecord(entry))
		}
		if entry.Type == contents.TypeDirectory {
			return exitError(ExitInvalidArgument, "get failed", fmt.Errorf("%w: %q is a directory; use ls", contents.ErrInvalidArgument, entry.Path))
		}

		body, err := entryBytes(entry)
		if err != nil {
			return exitError(ExitFailure, "get failed", err)
		}
		if getOut == "" {
			_, err = cmd.OutOrStdout().Write(body)
			return err
		}
		if err := os.WriteFile(getOut, body, 0o644); err != nil {
			return exitError(ExitFailure, "Failed to write output file", err)
		}
		observability.CLILogger.Info("Saved", zap.String("path", entry.Path), zap.String("file", getOut), zap.Int("bytes", len(body)))
		return nil
	})
}

// entryBytes renders the content of a file or notebook entry.
func entryBytes(entry *contents.Entry) ([]byte, error) {
	if entry.Type == contents.TypeNotebook {
		body, err := json.MarshalIndent(entry.Content, "", " ")
		if err != nil {
			return nil, err
		}
		return append(body, '\n'), nil
	}
	s, ok := entry.Content.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected content for %q", entry.Path)
	}
	if entry.Format == contents.FormatBase64 {
		return base64.StdEncoding.DecodeString(s)
	}
	return []byte(s), nil
}

func readSource(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) < 2 || args[1] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[1])
}

func runPut(cmd *cobra.Command, args []string) error {
	typ, err := contents.ParseEntryType(putType)
	if err != nil {
		return exitError(ExitInvalidArgument, "Invalid --type value", err)
	}
	if typ == contents.TypeDirectory {
		return exitError(ExitInvalidArgument, "Invalid --type value", errors.New("use mkdir for directories"))
	}
	if putChunkSize < 0 {
		return exitError(ExitInvalidArgument, "Invalid --chunk-size value", errors.New("chunk size must be >= 0"))
	}
	body, err := readSource(cmd, args)
	if err != nil {
		return exitError(ExitInvalidArgument, "Failed to read source", err)
	}

	return withManager(cmd, func(ctx context.Context, m *contents.Manager, w output.Writer) error {
		var entry *contents.Entry
		if putChunkSize > 0 && len(body) > putChunkSize {
			entry, err = saveChunked(ctx, m, args[0], typ, body, putChunkSize)
		} else {
			entry, err = m.Save(ctx, args[0], modelFor(typ, args[0], body))
		}
		if err != nil {
			return storeError("put failed", err)
		}
		return w.WriteEntry(ctx, output.NewEntryRecord(entry))
	})
}

// modelFor builds a single-request model: notebooks as raw JSON, valid UTF-8
// as text, anything else as base64.
func modelFor(typ contents.EntryType, path string, body []byte) contents.Model {
	if typ == contents.TypeNotebook || (typ == "" && isNotebookName(path)) {
		return contents.Model{Type: contents.TypeNotebook, Format: contents.FormatJSON, Content: json.RawMessage(body)}
	}
	if utf8.Valid(body) {
		return contents.Model{Type: typ, Format: contents.FormatText, Content: string(body)}
	}
	return contents.Model{Type: typ, Format: contents.FormatBase64, Content: base64.StdEncoding.EncodeToString(body)}
}

// saveChunked sends body in base64 chunks numbered 1..N-1 and -1 for the last.
func saveChunked(ctx context.Context, m *contents.Manager, path string, typ contents.EntryType, body []byte, size int) (*contents.Entry, error) {
	if typ == "" && isNotebookName(path) {
		typ = contents.TypeNotebook
	}
	if typ == "" {
		typ = contents.TypeFile
	}
	var entry *contents.Entry
	for n, off := 1, 0; off < len(body); n++ {
		end := off + size
		chunk := n
		if end >= len(body) {
			end = len(body)
			chunk = -1
		}
		var err error
		entry, err = m.Save(ctx, path, contents.Model{
			Type:    typ,
			Format:  contents.FormatBase64,
			Content: base64.StdEncoding.EncodeToString(body[off:end]),
			Chunk:   chunk,
		})
		if err != nil {
			return nil, err
		}
		observability.CLILogger.Debug("Sent chunk", zap.String("path", path), zap.Int("chunk", chunk), zap.Int("bytes", end-off))
		off = end
	}
	return entry, nil
}

func isNotebookName(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".ipynb")
}

func runMkdir(cmd *cobra.Command, args []string) error {
	return withManager(cmd, func(ctx context.Context, m *contents.Manager, w output.Writer) error {
		entry, err := m.Save(ctx, args[0], contents.Model{Type: contents.TypeDirectory})
		if err != nil {
			return storeError("mkdir failed", err)
		}
		return w.WriteEntry(ctx, output.NewEntryRecord(entry))
	})
}

func runRm(cmd *cobra.Command, args []string) error {
	return withManager(cmd, func(ctx context.Context, m *contents.Manager, w output.Writer) error {
		start := time.Now()
		res, err := m.Delete(ctx, args[0], contents.DeleteOptions{WithCheckpoints: rmCheckpoints})
		if res != nil {
			writeFailures(ctx, w, res)
			if werr := w.WriteSummary(ctx, output.NewSummaryRecord("delete", args[0], res, time.Since(start))); werr != nil {
				return werr
			}
		}
		if err != nil {
			return storeError("rm failed", err)
		}
		return nil
	})
}

func runMv(cmd *cobra.Command, args []string) error {
	return withManager(cmd, func(ctx context.Context, m *contents.Manager, w output.Writer) error {
		entry, err := m.Rename(ctx, args[0], args[1])
		return writeTransferResult(ctx, w, "mv failed", entry, err)
	})
}

func runCp(cmd *cobra.Command, args []string) error {
	target := ""
	if len(args) == 2 {
		target = args[1]
	}
	return withManager(cmd, func(ctx context.Context, m *contents.Manager, w output.Writer) error {
		entry, err := m.Copy(ctx, args[0], target)
		return writeTransferResult(ctx, w, "cp failed", entry, err)
	})
}

// writeTransferResult reports the target entry and, for partial failures,
// every key that could not be moved or copied.
func writeTransferResult(ctx context.Context, w output.Writer, message string, entry *contents.Entry, err error) error {
	if entry != nil {
		if werr := w.WriteEntry(ctx, output.NewEntryRecord(entry)); werr != nil {
			return werr
		}
	}
	if be, ok := contents.AsBulkError(err); ok {
		writeFailures(ctx, w, be.Result)
	}
	if err != nil {
		return storeError(message, err)
	}
	return nil
}

func writeFailures(ctx context.Context, w output.Writer, res *contents.BulkResult) {
	for _, f := range res.Failed {
		rec := &output.ErrorRecord{
			Code:    errorCode(f.Err),
			Message: f.Message,
			Path:    f.Path,
			Key:     f.Key,
			Details: map[string]any{"op": f.Op, "kind": f.Kind},
		}
		if err := w.WriteError(ctx, rec); err != nil {
			observability.CLILogger.Debug("Failed to emit error record", zap.Error(err))
		}
	}
}

func errorCode(err error) string {
	switch {
	case objectstore.IsNotFound(err):
		return output.ErrCodeNotFound
	case objectstore.IsAccessDenied(err):
		return output.ErrCodeAccessDenied
	case objectstore.IsCredentialUnavailable(err):
		return output.ErrCodeCredentialUnavailable
	case objectstore.IsTransient(err):
		return output.ErrCodeTransient
	case objectstore.IsProtocol(err):
		return output.ErrCodeProtocol
	case errors.Is(err, context.Canceled):
		return output.ErrCodeCanceled
	}
	return output.ErrCodeInternal
}

func runNew(cmd *cobra.Command, args []string) error {
	typ, err := contents.ParseEntryType(newType)
	if err != nil {
		return exitError(ExitInvalidArgument, "Invalid --type value", err)
	}
	return withManager(cmd, func(ctx context.Context, m *contents.Manager, w output.Writer) error {
		entry, err := m.NewUntitled(ctx, argOrRoot(args), typ, newExt)
		if err != nil {
			return storeError("new failed", err)
		}
		return w.WriteEntry(ctx, output.NewEntryRecord(entry))
	})
}
