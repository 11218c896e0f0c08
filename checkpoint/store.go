package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/olegkotsar/dupesweep/config"
	"github.com/olegkotsar/dupesweep/model"
)

// Store persists one checkpoint per deletion plan.
type Store interface {
	// Load returns ErrNotFound when no open checkpoint exists for planID
	Load(ctx context.Context, planID string) (*model.Checkpoint, error)
	// Save replaces the stored checkpoint; a crash leaves the old or the new one, never a torn mix
	Save(ctx context.Context, cp *model.Checkpoint) error
	// Finalize removes the open checkpoint, or moves it aside when archive is set
	Finalize(ctx context.Context, planID string, archive bool) error
	// List returns the open checkpoints
	List(ctx context.Context) ([]*model.Checkpoint, error)
	Close() error
}

var (
	ErrNotFound       = errors.New("checkpoint not found")
	ErrBucketNotFound = errors.New("bucket not found")
)

func CreateStore(cfg *config.CheckpointConfig) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint configuration: %w", err)
	}

	switch cfg.CheckpointType {
	case config.CheckpointTypeFile:
		return NewFileStore(cfg.File)
	case config.CheckpointTypeBbolt:
		return NewBboltStore(cfg.Bbolt)
	default:
		return nil, fmt.Errorf("unsupported checkpoint type: %s", cfg.CheckpointType)
	}
}
