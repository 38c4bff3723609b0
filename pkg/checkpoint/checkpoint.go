// Package checkpoint keeps point-in-time copies of files next to them in the
// object store.
//
// A checkpoint of the file at path p is a server-side copy stored at
// "<key(p)>/.checkpoints/<id>". IDs are UUIDv7 strings, so lexical order is
// creation order and listings can be returned newest first without reading
// timestamps.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/s3contents/pkg/objectstore"
	"github.com/3leaps/s3contents/pkg/pathmap"
)

// ErrInvalidID indicates a malformed checkpoint id.
var ErrInvalidID = errors.New("invalid checkpoint id")

// Checkpoint describes one saved copy of a file.
type Checkpoint struct {
	ID           string    `json:"id" yaml:"id"`
	LastModified time.Time `json:"last_modified" yaml:"last_modified"`
}

// Store creates, lists, restores and deletes checkpoints.
type Store struct {
	client objectstore.Client
	mapper *pathmap.Mapper
	newID  func() (string, error)
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIDGenerator replaces the UUIDv7 id source.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// New returns a Store over client using mapper for key layout.
func New(client objectstore.Client, mapper *pathmap.Mapper, opts ...Option) *Store {
	s := &Store{
		client: client,
		mapper: mapper,
		newID:  newUUIDv7,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Create copies the current object at path into a new checkpoint.
// Returns objectstore.ErrNotFound if path does not exist.
func (s *Store) Create(ctx context.Context, path string) (*Checkpoint, error) {
	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("generate checkpoint id: %w", err)
	}

	key := s.mapper.CheckpointKey(path, id)
	if err := s.client.Copy(ctx, s.mapper.ToKey(path), key); err != nil {
		return nil, err
	}
	meta, err := s.client.Head(ctx, key)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Created checkpoint", zap.String("path", path), zap.String("id", id))
	return &Checkpoint{ID: id, LastModified: meta.LastModified}, nil
}

// List returns the checkpoints of path, newest first.
func (s *Store) List(ctx context.Context, path string) ([]Checkpoint, error) {
	ns := s.mapper.CheckpointNamespace(path)
	res, err := s.client.List(ctx, objectstore.ListOptions{Prefix: ns, Delimiter: pathmap.Separator})
	if err != nil {
		return nil, err
	}

	out := make([]Checkpoint, 0, len(res.Objects))
	for _, obj := range res.Objects {
		id := strings.TrimPrefix(obj.Key, ns)
		if id == "" {
			continue
		}
		out = append(out, Checkpoint{ID: id, LastModified: obj.LastModified})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Get returns a single checkpoint.
// Returns objectstore.ErrNotFound for unknown ids.
func (s *Store) Get(ctx context.Context, path, id string) (*Checkpoint, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	meta, err := s.client.Head(ctx, s.mapper.CheckpointKey(path, id))
	if err != nil {
		return nil, err
	}
	return &Checkpoint{ID: id, LastModified: meta.LastModified}, nil
}

// Restore overwrites the object at path with checkpoint id.
func (s *Store) Restore(ctx context.Context, path, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := s.client.Copy(ctx, s.mapper.CheckpointKey(path, id), s.mapper.ToKey(path)); err != nil {
		return err
	}
	s.logger.Debug("Restored checkpoint", zap.String("path", path), zap.String("id", id))
	return nil
}

// Delete removes checkpoint id of path.
// Returns objectstore.ErrNotFound for unknown ids.
func (s *Store) Delete(ctx context.Context, path, id string) error {
	if _, err := s.Get(ctx, path, id); err != nil {
		return err
	}
	return s.client.Delete(ctx, s.mapper.CheckpointKey(path, id))
}

// Keys returns every key in the checkpoint namespace of path.
func (s *Store) Keys(ctx context.Context, path string) ([]string, error) {
	res, err := s.client.List(ctx, objectstore.ListOptions{Prefix: s.mapper.CheckpointNamespace(path)})
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(res.Objects))
	for _, obj := range res.Objects {
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// DeleteAll removes every checkpoint of path, continuing past failures.
// It returns the number deleted and the joined per-key errors.
func (s *Store) DeleteAll(ctx context.Context, path string) (int, error) {
	keys, err := s.Keys(ctx, path)
	if err != nil {
		return 0, err
	}
	deleted := 0
	var errs []error
	for _, key := range keys {
		if err := s.client.Delete(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

// ValidateID rejects ids that would escape the checkpoint namespace.
func ValidateID(id string) error {
	if id == "" || strings.Contains(id, pathmap.Separator) || strings.Contains(id, `\`) || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
