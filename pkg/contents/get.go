package contents

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/3leaps/s3contents/pkg/objectstore"
	"github.com/3leaps/s3contents/pkg/pathmap"
)

// prefixCheckConcurrency bounds the directory checks a single listing issues.
const prefixCheckConcurrency = 8

// List returns the visible entries directly under the directory at path,
// directories first, each group in key order.
func (m *Manager) List(ctx context.Context, path string) ([]*Entry, error) {
	p, err := normalizeArg(path)
	if err != nil {
		return nil, err
	}
	ok, err := m.dirExists(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound(p)
	}
	return m.list(ctx, p)
}

func (m *Manager) list(ctx context.Context, p string) ([]*Entry, error) {
	prefix := m.mapper.DirectoryPrefix(p)
	res, err := m.client.List(ctx, objectstore.ListOptions{Prefix: prefix, Delimiter: pathmap.Separator})
	if err != nil {
		return nil, err
	}

	files := make(map[string]bool, len(res.Objects))
	for _, obj := range res.Objects {
		files[obj.Key] = true
	}

	var candidates []string
	for _, cp := range res.CommonPrefixes {
		if m.mapper.IsCheckpointKey(cp) {
			continue
		}
		childPath, err := m.mapper.ToPath(cp)
		if err != nil || m.hidden.Match(childPath) {
			continue
		}
		candidates = append(candidates, cp)
	}
	visible, err := m.classifyPrefixes(ctx, candidates, files)
	if err != nil {
		return nil, err
	}

	dirs := make([]*Entry, 0, len(candidates))
	for i, cp := range candidates {
		if !visible[i] {
			continue
		}
		childPath, _ := m.mapper.ToPath(cp)
		dirs = append(dirs, directoryEntry(childPath))
	}

	entries := make([]*Entry, 0, len(dirs)+len(res.Objects))
	entries = append(entries, dirs...)
	for _, obj := range res.Objects {
		if obj.Key == prefix || pathmap.IsMarkerKey(obj.Key) || m.mapper.IsCheckpointKey(obj.Key) {
			continue
		}
		childPath, err := m.mapper.ToPath(obj.Key)
		if err != nil || m.hidden.Match(childPath) {
			continue
		}
		entries = append(entries, m.objectEntry(childPath, typeFromPath(childPath), obj, ""))
	}
	return entries, nil
}

// classifyPrefixes decides which common prefixes are directories. A prefix can
// be nothing but the checkpoint namespace of a file, live or deleted, so each
// is checked for a visible child. Probes run concurrently.
func (m *Manager) classifyPrefixes(ctx context.Context, prefixes []string, files map[string]bool) ([]bool, error) {
	visible := make([]bool, len(prefixes))
	errs := make([]error, len(prefixes))
	sem := make(chan struct{}, prefixCheckConcurrency)
	var wg sync.WaitGroup
	for i, cp := range prefixes {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, cp string) {
			defer wg.Done()
			defer func() { <-sem }()
			ok, err := m.hasVisibleChild(ctx, cp)
			if err != nil && !files[strings.TrimSuffix(cp, pathmap.Separator)] {
				// A failed check keeps a prefix that has no sibling file.
				m.logger.Debug("Directory check failed", zap.String("prefix", cp), zap.Error(err))
				ok, err = true, nil
			}
			visible[i], errs[i] = ok, err
		}(i, cp)
	}
	wg.Wait()
	return visible, errors.Join(errs...)
}

// Get returns the entry at path, with its content when opts.Content is set.
func (m *Manager) Get(ctx context.Context, path string, opts GetOptions) (*Entry, error) {
	p, err := normalizeArg(path)
	if err != nil {
		return nil, err
	}
	typ := opts.Type
	if typ == "" {
		if typ, err = m.resolveType(ctx, p); err != nil {
			return nil, err
		}
	}

	switch typ {
	case TypeDirectory:
		return m.getDirectory(ctx, p, opts)
	case TypeNotebook:
		return m.getNotebook(ctx, p, opts)
	case TypeFile:
		return m.getFile(ctx, p, opts)
	default:
		return nil, invalidArgument("unknown type %q", typ)
	}
}

func (m *Manager) getDirectory(ctx context.Context, p string, opts GetOptions) (*Entry, error) {
	if opts.Format != "" && opts.Format != FormatJSON {
		return nil, invalidArgument("format %q is not valid for a directory", opts.Format)
	}
	ok, err := m.dirExists(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound(p)
	}

	entry := directoryEntry(p)
	if !pathmap.IsRoot(p) {
		if meta, err := m.client.Head(ctx, m.mapper.DirectoryMarkerKey(p)); err == nil {
			entry.LastModified = meta.LastModified
			entry.Created = meta.LastModified
		}
	}
	if !opts.Content {
		return entry, nil
	}

	children, err := m.list(ctx, p)
	if err != nil {
		return nil, err
	}
	entry.Format = FormatJSON
	entry.Content = children
	return entry, nil
}

func (m *Manager) getNotebook(ctx context.Context, p string, opts GetOptions) (*Entry, error) {
	if opts.Format != "" && opts.Format != FormatJSON {
		return nil, invalidArgument("format %q is not valid for a notebook", opts.Format)
	}
	key := m.mapper.ToKey(p)
	if !opts.Content {
		meta, err := m.client.Head(ctx, key)
		if err != nil {
			return nil, err
		}
		return m.objectEntry(p, TypeNotebook, meta.ObjectSummary, ""), nil
	}

	obj, err := m.client.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	nb, err := decodeNotebook(p, obj.Body)
	if err != nil {
		return nil, err
	}
	entry := m.objectEntry(p, TypeNotebook, obj.ObjectSummary, "")
	entry.Format = FormatJSON
	entry.Content = nb
	return entry, nil
}

func (m *Manager) getFile(ctx context.Context, p string, opts GetOptions) (*Entry, error) {
	switch opts.Format {
	case "", FormatText, FormatBase64:
	default:
		return nil, invalidArgument("format %q is not valid for a file", opts.Format)
	}
	key := m.mapper.ToKey(p)
	if !opts.Content {
		meta, err := m.client.Head(ctx, key)
		if err != nil {
			return nil, err
		}
		mt := fileMimetype(p, meta.ContentType)
		if mt == "" {
			mt = DefaultMimetype
		}
		return m.objectEntry(p, TypeFile, meta.ObjectSummary, mt), nil
	}

	obj, err := m.client.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	mt := fileMimetype(p, obj.ContentType)

	format := opts.Format
	if format == "" {
		format = FormatBase64
		if isTextMimetype(mt) && utf8.Valid(obj.Body) {
			format = FormatText
		}
	}

	entry := m.objectEntry(p, TypeFile, obj.ObjectSummary, mt)
	entry.Format = format
	switch format {
	case FormatText:
		if !utf8.Valid(obj.Body) {
			return nil, corrupt(p, "file is not UTF-8 encoded")
		}
		if entry.Mimetype == "" {
			entry.Mimetype = TextMimetype
		}
		entry.Content = string(obj.Body)
	case FormatBase64:
		if entry.Mimetype == "" || isTextMimetype(entry.Mimetype) {
			entry.Mimetype = DefaultMimetype
		}
		entry.Content = base64.StdEncoding.EncodeToString(obj.Body)
	}
	return entry, nil
}

func directoryEntry(p string) *Entry {
	return &Entry{
		Name:         pathmap.Name(p),
		Path:         p,
		Type:         TypeDirectory,
		Writable:     true,
		Created:      dirTimestamp,
		LastModified: dirTimestamp,
	}
}

func (m *Manager) objectEntry(p string, typ EntryType, obj objectstore.ObjectSummary, mimetype string) *Entry {
	if typ == TypeFile && mimetype == "" {
		mimetype = guessMimetype(p)
	}
	if typ == TypeNotebook {
		mimetype = ""
	}
	return &Entry{
		Name:         pathmap.Name(p),
		Path:         p,
		Type:         typ,
		Writable:     true,
		Created:      obj.LastModified,
		LastModified: obj.LastModified,
		Size:         int64Ptr(obj.Size),
		Mimetype:     mimetype,
	}
}
