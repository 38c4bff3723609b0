package contents

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/3leaps/s3contents/pkg/pathmap"
)

// Chunk number marking the final part of a chunked upload.
const lastChunk = -1

// upload buffers the parts of a chunked upload.
type upload struct {
	mu    sync.Mutex
	parts [][]byte
	next  int
}

// Save writes model to path and returns the saved entry without content.
//
// Notebooks are stored as indented JSON, files as text or base64-decoded
// bytes, and directories as a zero-byte marker. Type defaults from the path
// extension, format from the type and mimetype. Models with a Chunk are
// buffered until the chunk numbered -1 arrives.
func (m *Manager) Save(ctx context.Context, path string, model Model) (*Entry, error) {
	p, err := normalizeArg(path)
	if err != nil {
		return nil, err
	}
	if pathmap.IsRoot(p) {
		return nil, invalidArgument("cannot save the root directory")
	}

	typ := model.Type
	if typ == "" {
		typ = typeFromPath(p)
	}
	if typ == TypeDirectory {
		return m.saveDirectory(ctx, p)
	}

	body, contentType, err := m.encode(p, typ, model.Format, model.Content)
	if err != nil {
		return nil, err
	}

	if model.Chunk != 0 {
		complete, done, err := m.bufferChunk(p, model.Chunk, body)
		if err != nil {
			return nil, err
		}
		if !done {
			return m.pendingEntry(p, typ), nil
		}
		body = complete
	}

	return m.put(ctx, p, typ, body, contentType)
}

// encode converts model content to stored bytes and content type.
func (m *Manager) encode(p string, typ EntryType, format string, content any) ([]byte, string, error) {
	switch typ {
	case TypeNotebook:
		if format != "" && format != FormatJSON {
			return nil, "", invalidArgument("format %q is not valid for a notebook", format)
		}
		body, err := encodeNotebook(content)
		return body, NotebookContentType, err

	case TypeFile:
		s, ok := content.(string)
		if !ok {
			if content != nil {
				return nil, "", invalidArgument("file content must be a string")
			}
			s = ""
		}
		mt := guessMimetype(p)
		if format == "" {
			format = FormatText
			if mt != "" && !isTextMimetype(mt) {
				format = FormatBase64
			}
		}
		switch format {
		case FormatText:
			if !isTextMimetype(mt) {
				mt = TextMimetype
			}
			return []byte(s), mt, nil
		case FormatBase64:
			body, err := decodeBase64(s)
			if err != nil {
				return nil, "", invalidArgument("invalid base64 content: %v", err)
			}
			if mt == "" {
				mt = DefaultMimetype
			}
			return body, mt, nil
		default:
			return nil, "", invalidArgument("format %q is not valid for a file", format)
		}

	default:
		return nil, "", invalidArgument("unknown type %q", typ)
	}
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.NewReplacer("\n", "", "\r", "").Replace(s)
	return base64.StdEncoding.DecodeString(s)
}

// bufferChunk appends a part to the upload of p. It returns the concatenated
// body and done=true when chunk is the last one.
func (m *Manager) bufferChunk(p string, chunk int, body []byte) ([]byte, bool, error) {
	if chunk == 1 {
		m.uploads.Set(p, &upload{parts: [][]byte{body}, next: 2}, ttlcache.DefaultTTL)
		m.logger.Debug("Started chunked upload", zap.String("path", p))
		return nil, false, nil
	}
	if chunk < lastChunk || chunk == 0 {
		return nil, false, invalidArgument("invalid chunk number %d", chunk)
	}

	item := m.uploads.Get(p)
	if item == nil {
		return nil, false, invalidArgument("no upload in progress for %q (chunk %d)", p, chunk)
	}
	u := item.Value()
	u.mu.Lock()
	defer u.mu.Unlock()

	if chunk != lastChunk && chunk != u.next {
		return nil, false, invalidArgument("chunk %d out of order for %q, expected %d", chunk, p, u.next)
	}
	u.parts = append(u.parts, body)
	u.next++
	if chunk != lastChunk {
		return nil, false, nil
	}

	m.uploads.Delete(p)
	size := 0
	for _, part := range u.parts {
		size += len(part)
	}
	complete := make([]byte, 0, size)
	for _, part := range u.parts {
		complete = append(complete, part...)
	}
	m.logger.Debug("Completed chunked upload", zap.String("path", p), zap.Int("parts", len(u.parts)), zap.Int("bytes", size))
	return complete, true, nil
}

// pendingEntry models a path whose chunked upload is still in progress.
func (m *Manager) pendingEntry(p string, typ EntryType) *Entry {
	now := m.now().UTC()
	e := &Entry{
		Name:         pathmap.Name(p),
		Path:         p,
		Type:         typ,
		Writable:     true,
		Created:      now,
		LastModified: now,
	}
	if typ == TypeFile {
		e.Mimetype = guessMimetype(p)
	}
	return e
}

func (m *Manager) put(ctx context.Context, p string, typ EntryType, body []byte, contentType string) (*Entry, error) {
	key := m.mapper.ToKey(p)
	meta, err := m.client.Put(ctx, key, body, contentType)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("Saved", zap.String("path", p), zap.Int("bytes", len(body)))

	// The PUT response carries no Last-Modified; read back the store's value.
	if head, err := m.client.Head(ctx, key); err == nil {
		meta = head
	} else {
		m.logger.Debug("Head after save failed", zap.String("path", p), zap.Error(err))
	}
	mt := ""
	if typ == TypeFile {
		mt = contentType
	}
	return m.objectEntry(p, typ, meta.ObjectSummary, mt), nil
}

func (m *Manager) saveDirectory(ctx context.Context, p string) (*Entry, error) {
	key := m.mapper.DirectoryMarkerKey(p)
	meta, err := m.client.Put(ctx, key, nil, DirectoryContentType)
	if err != nil {
		return nil, err
	}
	entry := directoryEntry(p)
	entry.Created = meta.LastModified
	entry.LastModified = meta.LastModified
	if head, err := m.client.Head(ctx, key); err == nil {
		entry.Created = head.LastModified
		entry.LastModified = head.LastModified
	}
	return entry, nil
}

// New creates path from model, or an empty notebook, file or directory when
// model is nil. Returns ErrAlreadyExists if path is taken.
func (m *Manager) New(ctx context.Context, path string, model *Model) (*Entry, error) {
	p, err := normalizeArg(path)
	if err != nil {
		return nil, err
	}
	if pathmap.IsRoot(p) {
		return nil, invalidArgument("cannot create the root directory")
	}
	ok, err := m.exists(ctx, p)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, alreadyExists(p)
	}

	if model == nil {
		model = &Model{}
	}
	md := *model
	md.Chunk = 0
	if md.Type == "" {
		md.Type = typeFromPath(p)
	}
	if md.Content == nil {
		switch md.Type {
		case TypeNotebook:
			md.Content = emptyNotebook()
			md.Format = FormatJSON
		case TypeFile:
			md.Content = ""
			md.Format = FormatText
		}
	}
	return m.Save(ctx, p, md)
}

// NewUntitled creates an empty entry with the first free untitled name in
// dir: "Untitled.ipynb", "Untitled1.ipynb", "Untitled.txt", "UntitledFolder"
// and so on. An empty typ is derived from ext (".ipynb" means notebook).
func (m *Manager) NewUntitled(ctx context.Context, dir string, typ EntryType, ext string) (*Entry, error) {
	d, err := normalizeArg(dir)
	if err != nil {
		return nil, err
	}
	ok, err := m.dirExists(ctx, d)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound(d)
	}

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if typ == "" {
		typ = TypeFile
		if strings.EqualFold(ext, ".ipynb") {
			typ = TypeNotebook
		}
	}

	var base string
	switch typ {
	case TypeNotebook:
		base, ext = "Untitled", ".ipynb"
	case TypeDirectory:
		base, ext = "UntitledFolder", ""
	case TypeFile:
		base = "Untitled"
	default:
		return nil, invalidArgument("unknown type %q", typ)
	}

	name, err := m.incrementName(ctx, d, base+ext, "")
	if err != nil {
		return nil, err
	}
	return m.New(ctx, pathmap.Join(d, name), &Model{Type: typ})
}
