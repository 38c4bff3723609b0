package contents

import (
	"context"
	"fmt"

	"github.com/3leaps/s3contents/pkg/checkpoint"
	"github.com/3leaps/s3contents/pkg/pathmap"
)

// CreateCheckpoint saves a server-side copy of the file at path.
func (m *Manager) CreateCheckpoint(ctx context.Context, path string) (*checkpoint.Checkpoint, error) {
	p, err := m.checkpointPath(path)
	if err != nil {
		return nil, err
	}
	return m.checkpoints.Create(ctx, p)
}

// ListCheckpoints returns the checkpoints of path, newest first.
func (m *Manager) ListCheckpoints(ctx context.Context, path string) ([]checkpoint.Checkpoint, error) {
	p, err := m.checkpointPath(path)
	if err != nil {
		return nil, err
	}
	return m.checkpoints.List(ctx, p)
}

// RestoreCheckpoint overwrites the file at path with checkpoint id.
func (m *Manager) RestoreCheckpoint(ctx context.Context, path, id string) error {
	p, err := m.checkpointPath(path)
	if err != nil {
		return err
	}
	if err := checkpoint.ValidateID(id); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return m.checkpoints.Restore(ctx, p, id)
}

// DeleteCheckpoint removes checkpoint id of path.
func (m *Manager) DeleteCheckpoint(ctx context.Context, path, id string) error {
	p, err := m.checkpointPath(path)
	if err != nil {
		return err
	}
	if err := checkpoint.ValidateID(id); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return m.checkpoints.Delete(ctx, p, id)
}

// DeleteAllCheckpoints removes every checkpoint of path and returns how many
// were deleted.
func (m *Manager) DeleteAllCheckpoints(ctx context.Context, path string) (int, error) {
	p, err := m.checkpointPath(path)
	if err != nil {
		return 0, err
	}
	return m.checkpoints.DeleteAll(ctx, p)
}

func (m *Manager) checkpointPath(path string) (string, error) {
	p, err := normalizeArg(path)
	if err != nil {
		return "", err
	}
	if pathmap.IsRoot(p) {
		return "", invalidArgument("the root directory has no checkpoints")
	}
	return p, nil
}
