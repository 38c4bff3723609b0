package contents

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/s3contents/pkg/objectstore"
	"github.com/3leaps/s3contents/pkg/pathmap"
)

// Operation names used in BulkResult failures.
const (
	opCopy   = "copy"
	opDelete = "delete"
	opList   = "list"
)

// Delete removes the file or directory at path.
//
// A file's checkpoints are kept unless opts.WithCheckpoints is set. A
// directory is removed key by key, deepest first, continuing past failures;
// if any key failed the returned error is a *BulkError and the result lists
// what was deleted.
func (m *Manager) Delete(ctx context.Context, path string, opts DeleteOptions) (*BulkResult, error) {
	p, err := normalizeArg(path)
	if err != nil {
		return nil, err
	}
	if pathmap.IsRoot(p) {
		return nil, invalidArgument("cannot delete the root directory")
	}

	key := m.mapper.ToKey(p)
	isFile, err := m.client.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if isFile {
		return m.deleteFile(ctx, p, key, opts)
	}

	isDir, err := m.dirExists(ctx, p)
	if err != nil {
		return nil, err
	}
	if !isDir {
		return nil, notFound(p)
	}

	keys, err := m.keysUnder(ctx, m.mapper.DirectoryPrefix(p))
	if err != nil {
		return nil, err
	}
	sortForDelete(keys)

	res := &BulkResult{}
	for _, k := range keys {
		if err := m.client.Delete(ctx, k); err != nil {
			m.logger.Warn("Delete failed", zap.String("key", k), zap.Error(err))
			res.fail(k, m.pathOf(k), opDelete, err)
			continue
		}
		res.succeed(k)
	}
	m.logger.Debug("Deleted directory", zap.String("path", p),
		zap.Int("deleted", len(res.Succeeded)), zap.Int("failed", len(res.Failed)))
	return res, res.Err(opDelete, p)
}

func (m *Manager) deleteFile(ctx context.Context, p, key string, opts DeleteOptions) (*BulkResult, error) {
	if err := m.client.Delete(ctx, key); err != nil {
		return nil, err
	}
	res := &BulkResult{Succeeded: []string{key}}
	if !opts.WithCheckpoints {
		return res, nil
	}

	cpKeys, err := m.checkpoints.Keys(ctx, p)
	if err != nil {
		res.fail(m.mapper.CheckpointNamespace(p), p, opList, err)
		return res, res.Err(opDelete, p)
	}
	for _, k := range cpKeys {
		if err := m.client.Delete(ctx, k); err != nil {
			res.fail(k, p, opDelete, err)
			continue
		}
		res.succeed(k)
	}
	return res, res.Err(opDelete, p)
}

// Rename moves the entry at oldPath to newPath.
//
// The source must exist and the target must not. Objects are copied
// server-side and an original is deleted only once its copy succeeded. A
// file's checkpoints move with it. On partial failure the entry at newPath
// is returned together with a *BulkError.
func (m *Manager) Rename(ctx context.Context, oldPath, newPath string) (*Entry, error) {
	o, err := normalizeArg(oldPath)
	if err != nil {
		return nil, err
	}
	n, err := normalizeArg(newPath)
	if err != nil {
		return nil, err
	}
	if pathmap.IsRoot(o) || pathmap.IsRoot(n) {
		return nil, invalidArgument("cannot rename the root directory")
	}
	if o == n {
		return nil, invalidArgument("source and target are the same: %q", o)
	}
	if strings.HasPrefix(n, o+pathmap.Separator) {
		return nil, invalidArgument("cannot move %q into itself", o)
	}

	isFile, isDir, err := m.kindOf(ctx, o)
	if err != nil {
		return nil, err
	}
	if !isFile && !isDir {
		return nil, notFound(o)
	}
	taken, err := m.exists(ctx, n)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, alreadyExists(n)
	}

	if isFile {
		res, err := m.renameFile(ctx, o, n)
		if err != nil {
			return nil, err
		}
		entry, err := m.Get(ctx, n, GetOptions{Type: typeFromPath(n)})
		if err != nil {
			return nil, err
		}
		return entry, res.Err("rename", o)
	}

	res, err := m.transferTree(ctx, o, n, true)
	if err != nil {
		return nil, err
	}
	return directoryEntry(n), res.Err("rename", o)
}

func (m *Manager) renameFile(ctx context.Context, o, n string) (*BulkResult, error) {
	src, dst := m.mapper.ToKey(o), m.mapper.ToKey(n)
	if err := m.client.Copy(ctx, src, dst); err != nil {
		return nil, err
	}

	res := &BulkResult{}
	var moved []string
	srcNS, dstNS := m.mapper.CheckpointNamespace(o), m.mapper.CheckpointNamespace(n)
	cpKeys, err := m.checkpoints.Keys(ctx, o)
	if err != nil {
		res.fail(srcNS, o, opList, err)
	}
	for _, k := range cpKeys {
		if err := m.client.Copy(ctx, k, dstNS+strings.TrimPrefix(k, srcNS)); err != nil {
			res.fail(k, o, opCopy, err)
			continue
		}
		moved = append(moved, k)
	}

	if err := m.client.Delete(ctx, src); err != nil {
		res.fail(src, o, opDelete, err)
	} else {
		res.succeed(src)
	}
	for _, k := range moved {
		if err := m.client.Delete(ctx, k); err != nil {
			res.fail(k, o, opDelete, err)
			continue
		}
		res.succeed(k)
	}
	m.logger.Debug("Renamed file", zap.String("from", o), zap.String("to", n), zap.Int("checkpoints", len(moved)))
	return res, nil
}

// transferTree copies every key under directory src to directory dst, and
// with move set deletes each original whose copy succeeded. Copying skips
// checkpoints; moving carries them along.
func (m *Manager) transferTree(ctx context.Context, src, dst string, move bool) (*BulkResult, error) {
	srcPrefix, dstPrefix := m.mapper.DirectoryPrefix(src), m.mapper.DirectoryPrefix(dst)
	keys, err := m.keysUnder(ctx, srcPrefix)
	if err != nil {
		return nil, err
	}
	sortForCopy(keys)

	res := &BulkResult{}
	var copied []string
	for _, k := range keys {
		if !move && m.mapper.IsCheckpointKey(k) {
			continue
		}
		if err := m.client.Copy(ctx, k, dstPrefix+strings.TrimPrefix(k, srcPrefix)); err != nil {
			m.logger.Warn("Copy failed", zap.String("key", k), zap.Error(err))
			res.fail(k, m.pathOf(k), opCopy, err)
			continue
		}
		if move {
			copied = append(copied, k)
		} else {
			res.succeed(k)
		}
	}
	if !move {
		return res, nil
	}

	sortForDelete(copied)
	for _, k := range copied {
		if err := m.client.Delete(ctx, k); err != nil {
			m.logger.Warn("Delete failed", zap.String("key", k), zap.Error(err))
			res.fail(k, m.pathOf(k), opDelete, err)
			continue
		}
		res.succeed(k)
	}
	return res, nil
}

// Copy duplicates the entry at fromPath server-side.
//
// An empty toPath means the source's own directory. When toPath is an
// existing directory the copy is placed inside it under the first free
// "name-CopyN.ext" name; otherwise toPath is the target and must not exist.
func (m *Manager) Copy(ctx context.Context, fromPath, toPath string) (*Entry, error) {
	f, err := normalizeArg(fromPath)
	if err != nil {
		return nil, err
	}
	t, err := normalizeArg(toPath)
	if err != nil {
		return nil, err
	}
	if pathmap.IsRoot(f) {
		return nil, invalidArgument("cannot copy the root directory")
	}

	isFile, isDir, err := m.kindOf(ctx, f)
	if err != nil {
		return nil, err
	}
	if !isFile && !isDir {
		return nil, notFound(f)
	}

	dest, err := m.copyTarget(ctx, f, t, toPath == "")
	if err != nil {
		return nil, err
	}
	if isDir && strings.HasPrefix(dest, f+pathmap.Separator) {
		return nil, invalidArgument("cannot copy %q into itself", f)
	}

	if isFile {
		if err := m.client.Copy(ctx, m.mapper.ToKey(f), m.mapper.ToKey(dest)); err != nil {
			return nil, err
		}
		return m.Get(ctx, dest, GetOptions{Type: typeFromPath(dest)})
	}

	res, err := m.transferTree(ctx, f, dest, false)
	if err != nil {
		return nil, err
	}
	return directoryEntry(dest), res.Err("copy", f)
}

func (m *Manager) copyTarget(ctx context.Context, f, t string, sameDir bool) (string, error) {
	if sameDir {
		t = pathmap.Parent(f)
	}
	isDir, err := m.dirExists(ctx, t)
	if err != nil {
		return "", err
	}
	if isDir {
		name, err := m.incrementName(ctx, t, copySourceName(pathmap.Name(f)), copyInsert)
		if err != nil {
			return "", err
		}
		return pathmap.Join(t, name), nil
	}
	taken, err := m.client.Exists(ctx, m.mapper.ToKey(t))
	if err != nil {
		return "", err
	}
	if taken {
		return "", alreadyExists(t)
	}
	return t, nil
}

// kindOf reports whether p is a file object or a directory.
func (m *Manager) kindOf(ctx context.Context, p string) (isFile, isDir bool, err error) {
	isFile, err = m.client.Exists(ctx, m.mapper.ToKey(p))
	if err != nil || isFile {
		return isFile, false, err
	}
	isDir, err = m.dirExists(ctx, p)
	return false, isDir, err
}

// keysUnder lists every key below prefix, markers and checkpoints included.
func (m *Manager) keysUnder(ctx context.Context, prefix string) ([]string, error) {
	res, err := m.client.List(ctx, objectstore.ListOptions{Prefix: prefix})
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(res.Objects))
	for _, obj := range res.Objects {
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (m *Manager) pathOf(key string) string {
	p, err := m.mapper.ToPath(key)
	if err != nil {
		return key
	}
	return p
}
