// Package contents implements a hierarchical contents store (directories,
// files, notebooks and their checkpoints) on top of an object store.
//
// Directories are a naming convention: a directory exists when a zero-byte
// marker "<dir>/" exists or when any non-checkpoint key lives under its prefix.
// Copy and rename use server-side copies, so file bodies never pass through
// this process. Recursive operations are best effort and report per-key
// outcomes in a BulkResult.
//
// Every Manager method blocks the calling goroutine on network I/O only; run
// operations concurrently from separate goroutines. A Manager is safe for
// concurrent use.
package contents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/3leaps/s3contents/pkg/checkpoint"
	"github.com/3leaps/s3contents/pkg/match"
	"github.com/3leaps/s3contents/pkg/objectstore"
	"github.com/3leaps/s3contents/pkg/pathmap"
)

// DefaultUploadTTL bounds how long a partial chunked upload is kept.
const DefaultUploadTTL = time.Hour

// Config configures a Manager.
type Config struct {
	// Prefix is the key prefix the root directory maps to.
	Prefix string

	// HideGlobs are doublestar patterns omitted from listings.
	// Nil selects match.DefaultHidePatterns.
	HideGlobs []string

	// HideDotted also omits entries with a segment starting with ".".
	HideDotted bool

	// UploadTTL bounds the lifetime of buffered chunked uploads.
	UploadTTL time.Duration
}

// Manager maps contents operations onto an objectstore.Client.
type Manager struct {
	client      objectstore.Client
	mapper      *pathmap.Mapper
	checkpoints *checkpoint.Store
	hidden      *match.Matcher
	uploads     *ttlcache.Cache[string, *upload]
	logger      *zap.Logger
	now         func() time.Time

	checkpointOpts []checkpoint.Option
	closeOnce      sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides time.Now for models of buffered upload chunks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithCheckpointOptions passes options to the checkpoint store.
func WithCheckpointOptions(opts ...checkpoint.Option) Option {
	return func(m *Manager) {
		m.checkpointOpts = append(m.checkpointOpts, opts...)
	}
}

// New returns a Manager over client.
func New(client objectstore.Client, cfg Config, opts ...Option) (*Manager, error) {
	if client == nil {
		return nil, invalidArgument("object store client is required")
	}
	hidden, err := match.New(match.Config{Patterns: cfg.HideGlobs, HideDotted: cfg.HideDotted})
	if err != nil {
		return nil, err
	}
	ttl := cfg.UploadTTL
	if ttl <= 0 {
		ttl = DefaultUploadTTL
	}

	m := &Manager{
		client: client,
		mapper: pathmap.New(cfg.Prefix),
		hidden: hidden,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	cpOpts := append([]checkpoint.Option{checkpoint.WithLogger(m.logger)}, m.checkpointOpts...)
	m.checkpoints = checkpoint.New(client, m.mapper, cpOpts...)

	m.uploads = ttlcache.New[string, *upload](
		ttlcache.WithTTL[string, *upload](ttl),
		ttlcache.WithDisableTouchOnHit[string, *upload](),
	)
	go m.uploads.Start()

	return m, nil
}

// Mapper returns the path mapper.
func (m *Manager) Mapper() *pathmap.Mapper {
	return m.mapper
}

// Close stops the upload buffer and closes the object store client.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.uploads.Stop()
		m.uploads.DeleteAll()
		err = m.client.Close()
	})
	return err
}

// Ping checks that the store answers a one-key listing of the root prefix.
func (m *Manager) Ping(ctx context.Context) error {
	_, err := m.client.List(ctx, objectstore.ListOptions{
		Prefix:    m.mapper.DirectoryPrefix(""),
		Delimiter: pathmap.Separator,
		MaxKeys:   1,
		Limit:     1,
	})
	return err
}

// FileExists reports whether a file or notebook object exists at path.
func (m *Manager) FileExists(ctx context.Context, path string) (bool, error) {
	p, err := normalizeArg(path)
	if err != nil {
		return false, err
	}
	if pathmap.IsRoot(p) {
		return false, nil
	}
	return m.client.Exists(ctx, m.mapper.ToKey(p))
}

// DirExists reports whether path is a directory: the root, a path with a
// marker, or a prefix holding any non-checkpoint key.
func (m *Manager) DirExists(ctx context.Context, path string) (bool, error) {
	p, err := normalizeArg(path)
	if err != nil {
		return false, err
	}
	return m.dirExists(ctx, p)
}

// Exists reports whether path is a file, notebook or directory.
func (m *Manager) Exists(ctx context.Context, path string) (bool, error) {
	p, err := normalizeArg(path)
	if err != nil {
		return false, err
	}
	return m.exists(ctx, p)
}

func (m *Manager) exists(ctx context.Context, p string) (bool, error) {
	if pathmap.IsRoot(p) {
		return true, nil
	}
	ok, err := m.client.Exists(ctx, m.mapper.ToKey(p))
	if err != nil || ok {
		return ok, err
	}
	return m.dirExists(ctx, p)
}

func (m *Manager) dirExists(ctx context.Context, p string) (bool, error) {
	if pathmap.IsRoot(p) {
		return true, nil
	}
	return m.hasVisibleChild(ctx, m.mapper.DirectoryPrefix(p))
}

// hasVisibleChild reports whether anything other than a checkpoint namespace
// lives under prefix. The namespace collapses into a single common prefix, so
// two entries are enough to decide.
func (m *Manager) hasVisibleChild(ctx context.Context, prefix string) (bool, error) {
	res, err := m.client.List(ctx, objectstore.ListOptions{
		Prefix:    prefix,
		Delimiter: pathmap.Separator,
		MaxKeys:   2,
		Limit:     2,
	})
	if err != nil {
		return false, err
	}
	if len(res.Objects) > 0 {
		return true, nil
	}
	for _, cp := range res.CommonPrefixes {
		if !m.mapper.IsCheckpointKey(cp) {
			return true, nil
		}
	}
	return false, nil
}

// resolveType decides what kind of entry p is when the caller did not say.
func (m *Manager) resolveType(ctx context.Context, p string) (EntryType, error) {
	if pathmap.IsRoot(p) {
		return TypeDirectory, nil
	}
	if isNotebookPath(p) {
		return TypeNotebook, nil
	}
	ok, err := m.client.Exists(ctx, m.mapper.ToKey(p))
	if err != nil {
		return "", err
	}
	if ok {
		return TypeFile, nil
	}
	ok, err = m.dirExists(ctx, p)
	if err != nil {
		return "", err
	}
	if ok {
		return TypeDirectory, nil
	}
	return "", notFound(p)
}

func notFound(p string) error {
	return fmt.Errorf("%w: no such file or directory: %q", objectstore.ErrNotFound, p)
}

func isNotebookPath(p string) bool {
	return pathmap.Ext(p) == ".ipynb"
}

func typeFromPath(p string) EntryType {
	if isNotebookPath(p) {
		return TypeNotebook
	}
	return TypeFile
}

func normalizeArg(path string) (string, error) {
	p, err := pathmap.Normalize(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return p, nil
}
