package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/s3contents/internal/errors"
	"github.com/3leaps/s3contents/internal/observability"
	"github.com/3leaps/s3contents/pkg/checkpoint"
	"github.com/3leaps/s3contents/pkg/contents"
)

// ContentsRoot is the mount point of the contents API.
const ContentsRoot = "/api/contents"

// maxBodyBytes bounds request bodies. Larger uploads must be chunked.
const maxBodyBytes = 64 << 20

const checkpointsSegment = "checkpoints"

// ContentsService is the subset of contents.Manager served over HTTP.
type ContentsService interface {
	Get(ctx context.Context, path string, opts contents.GetOptions) (*contents.Entry, error)
	Save(ctx context.Context, path string, model contents.Model) (*contents.Entry, error)
	Exists(ctx context.Context, path string) (bool, error)
	NewUntitled(ctx context.Context, dir string, typ contents.EntryType, ext string) (*contents.Entry, error)
	Copy(ctx context.Context, fromPath, toPath string) (*contents.Entry, error)
	Rename(ctx context.Context, oldPath, newPath string) (*contents.Entry, error)
	Delete(ctx context.Context, path string, opts contents.DeleteOptions) (*contents.BulkResult, error)

	CreateCheckpoint(ctx context.Context, path string) (*checkpoint.Checkpoint, error)
	ListCheckpoints(ctx context.Context, path string) ([]checkpoint.Checkpoint, error)
	RestoreCheckpoint(ctx context.Context, path, id string) error
	DeleteCheckpoint(ctx context.Context, path, id string) error
}

// ContentsHandler serves the Jupyter-style contents API.
type ContentsHandler struct {
	svc     ContentsService
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewContentsHandler returns a handler over svc. logger and metrics may be nil.
func NewContentsHandler(svc ContentsService, logger *zap.Logger, metrics *observability.Metrics) *ContentsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentsHandler{svc: svc, logger: logger, metrics: metrics}
}

// saveRequest is the body of PUT. Content stays raw until the type is known.
type saveRequest struct {
	Type    string          `json:"type"`
	Format  string          `json:"format"`
	Content json.RawMessage `json:"content"`
	Chunk   int             `json:"chunk"`
}

// createRequest is the body of POST.
type createRequest struct {
	CopyFrom string `json:"copy_from"`
	Type     string `json:"type"`
	Ext      string `json:"ext"`
}

// renameRequest is the body of PATCH.
type renameRequest struct {
	Path *string `json:"path"`
}

// route splits a request path into the contents path and, for checkpoint
// routes, the checkpoint id. Checkpoint routes take precedence, so an entry
// literally named "checkpoints" below a file cannot be addressed.
type route struct {
	path         string
	checkpoints  bool
	checkpointID string
}

func parseRoute(r *http.Request) route {
	p := strings.TrimPrefix(r.URL.Path, ContentsRoot)
	p = strings.Trim(p, "/")

	if file, ok := strings.CutSuffix(p, "/"+checkpointsSegment); ok && file != "" {
		return route{path: file, checkpoints: true}
	}
	if i := strings.LastIndex(p, "/"+checkpointsSegment+"/"); i > 0 {
		id := p[i+len(checkpointsSegment)+2:]
		if id != "" && !strings.Contains(id, "/") {
			return route{path: p[:i], checkpoints: true, checkpointID: id}
		}
	}
	return route{path: p}
}

// ServeGet handles GET for entries and checkpoint listings.
func (h *ContentsHandler) ServeGet(w http.ResponseWriter, r *http.Request) {
	rt := parseRoute(r)
	if rt.checkpoints {
		if rt.checkpointID != "" {
			h.methodNotAllowed(w, r)
			return
		}
		list, err := h.svc.ListCheckpoints(r.Context(), rt.path)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if list == nil {
			list = []checkpoint.Checkpoint{}
		}
		writeJSON(w, http.StatusOK, list)
		return
	}

	opts, err := getOptions(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.svc.Get(r.Context(), rt.path, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ServePut handles PUT: save a model at the path.
func (h *ContentsHandler) ServePut(w http.ResponseWriter, r *http.Request) {
	rt := parseRoute(r)
	if rt.checkpoints {
		h.methodNotAllowed(w, r)
		return
	}

	var req saveRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	typ, err := contents.ParseEntryType(req.Type)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	content, err := rawContent(req.Content)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	existed, err := h.svc.Exists(r.Context(), rt.path)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.svc.Save(r.Context(), rt.path, contents.Model{
		Type:    typ,
		Format:  req.Format,
		Content: content,
		Chunk:   req.Chunk,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status := http.StatusOK
	if !existed {
		status = http.StatusCreated
	}
	h.writeEntry(w, status, entry)
}

// ServePost handles POST: copy into a directory, create an untitled entry, or
// create a checkpoint.
func (h *ContentsHandler) ServePost(w http.ResponseWriter, r *http.Request) {
	rt := parseRoute(r)
	if rt.checkpoints {
		if rt.checkpointID != "" {
			h.restoreCheckpoint(w, r, rt)
			return
		}
		cp, err := h.svc.CreateCheckpoint(r.Context(), rt.path)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		w.Header().Set("Location", contentsURL(rt.path)+"/"+checkpointsSegment+"/"+url.PathEscape(cp.ID))
		writeJSON(w, http.StatusCreated, cp)
		return
	}

	var req createRequest
	if err := decodeBody(r, &req, true); err != nil {
		h.fail(w, r, err)
		return
	}

	var entry *contents.Entry
	var err error
	if req.CopyFrom != "" {
		entry, err = h.svc.Copy(r.Context(), req.CopyFrom, rt.path)
	} else {
		var typ contents.EntryType
		if typ, err = contents.ParseEntryType(req.Type); err == nil {
			entry, err = h.svc.NewUntitled(r.Context(), rt.path, typ, req.Ext)
		}
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeEntry(w, http.StatusCreated, entry)
}

// ServePatch handles PATCH: rename to the body's path.
func (h *ContentsHandler) ServePatch(w http.ResponseWriter, r *http.Request) {
	rt := parseRoute(r)
	if rt.checkpoints {
		h.methodNotAllowed(w, r)
		return
	}

	var req renameRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Path == nil {
		h.fail(w, r, fmt.Errorf("%w: missing new path", contents.ErrInvalidArgument))
		return
	}
	entry, err := h.svc.Rename(r.Context(), rt.path, *req.Path)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeEntry(w, http.StatusOK, entry)
}

// ServeDelete handles DELETE of entries and checkpoints.
func (h *ContentsHandler) ServeDelete(w http.ResponseWriter, r *http.Request) {
	rt := parseRoute(r)
	if rt.checkpoints {
		if rt.checkpointID == "" {
			h.methodNotAllowed(w, r)
			return
		}
		if err := h.svc.DeleteCheckpoint(r.Context(), rt.path, rt.checkpointID); err != nil {
			h.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	withCheckpoints, err := boolParam(r.URL.Query(), "checkpoints", false)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.Delete(r.Context(), rt.path, contents.DeleteOptions{WithCheckpoints: withCheckpoints})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Debug("Deleted", zap.String("path", rt.path), zap.Int("keys", len(res.Succeeded)))
	w.WriteHeader(http.StatusNoContent)
}

func (h *ContentsHandler) restoreCheckpoint(w http.ResponseWriter, r *http.Request, rt route) {
	if err := h.svc.RestoreCheckpoint(r.Context(), rt.path, rt.checkpointID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ContentsHandler) writeEntry(w http.ResponseWriter, status int, entry *contents.Entry) {
	w.Header().Set("Location", contentsURL(entry.Path))
	writeJSON(w, status, entry)
}

func (h *ContentsHandler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteError(w, r, http.StatusMethodNotAllowed, apperrors.CodeMethodNotAllowed,
		fmt.Sprintf("method %s not supported on %s", r.Method, r.URL.Path), nil)
}

// fail logs err, counts per-key failures of bulk errors and writes the envelope.
func (h *ContentsHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if be, ok := contents.AsBulkError(err); ok {
		for _, f := range be.Result.Failed {
			if h.metrics != nil {
				h.metrics.ObserveBulkFailure(f.Op, f.Kind)
			}
		}
		h.logger.Warn("Partial failure",
			zap.String("op", be.Op),
			zap.String("path", be.Path),
			zap.Int("succeeded", len(be.Result.Succeeded)),
			zap.Int("failed", len(be.Result.Failed)))
	} else {
		h.logger.Debug("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	respondWithError(w, r, err)
}

func getOptions(q url.Values) (contents.GetOptions, error) {
	content, err := boolParam(q, "content", true)
	if err != nil {
		return contents.GetOptions{}, err
	}
	typ, err := contents.ParseEntryType(q.Get("type"))
	if err != nil {
		return contents.GetOptions{}, err
	}
	return contents.GetOptions{Content: content, Type: typ, Format: q.Get("format")}, nil
}

func boolParam(q url.Values, name string, def bool) (bool, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q is not a boolean", contents.ErrInvalidArgument, name, v)
	}
	return b, nil
}

// decodeBody reads a JSON object into v. An empty body is accepted only when
// allowEmpty is set.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return fmt.Errorf("%w: body exceeds %d bytes; use chunked uploads", contents.ErrInvalidArgument, maxBodyBytes)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if allowEmpty {
			return nil
		}
		return fmt.Errorf("%w: request body is required", contents.ErrInvalidArgument)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", contents.ErrInvalidArgument, err)
	}
	return nil
}

// rawContent turns the raw content member into what contents.Model expects:
// strings for text, base64 and JSON-in-a-string, raw JSON for documents.
func rawContent(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("%w: content: %v", contents.ErrInvalidArgument, err)
		}
		return s, nil
	}
	return json.RawMessage(trimmed), nil
}

func contentsURL(p string) string {
	if p == "" {
		return ContentsRoot
	}
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return ContentsRoot + "/" + strings.Join(segs, "/")
}
