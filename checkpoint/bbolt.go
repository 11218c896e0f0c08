package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/olegkotsar/dupesweep/config"
	"github.com/olegkotsar/dupesweep/model"
)

const archiveBucket = "archive"

// BboltStore keeps checkpoints as JSON values keyed by plan ID.
// Every write is a single bbolt transaction.
type BboltStore struct {
	db     *bbolt.DB
	bucket string
}

// NewBboltStore creates a new BboltStore based on configuration
func NewBboltStore(cfg *config.BboltConfig) (*BboltStore, error) {
	// Apply defaults to ensure required values are set
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bbolt config: %w", err)
	}

	db, err := bbolt.Open(cfg.Path, cfg.Mode, nil)
	if err != nil {
		return nil, err
	}
	db.NoSync = cfg.NoSync

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{cfg.Bucket, archiveBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BboltStore{
		db:     db,
		bucket: cfg.Bucket,
	}, nil
}

func (s *BboltStore) Close() error {
	return s.db.Close()
}

func (s *BboltStore) Load(ctx context.Context, planID string) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(s.bucket))
		if b == nil {
			return ErrBucketNotFound
		}
		val := b.Get([]byte(planID))
		if val == nil {
			return ErrNotFound
		}
		return json.Unmarshal(val, &cp)
	})
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *BboltStore) Save(ctx context.Context, cp *model.Checkpoint) error {
	if cp.PlanID == "" {
		return fmt.Errorf("checkpoint has no plan id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(s.bucket))
		if b == nil {
			return ErrBucketNotFound
		}
		return b.Put([]byte(cp.PlanID), val)
	})
}

func (s *BboltStore) Finalize(ctx context.Context, planID string, archive bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(s.bucket))
		if b == nil {
			return ErrBucketNotFound
		}

		val := b.Get([]byte(planID))
		if val == nil {
			return ErrNotFound
		}

		if archive {
			a := tx.Bucket([]byte(archiveBucket))
			if a == nil {
				return ErrBucketNotFound
			}
			// val is only valid for the life of the transaction; Put copies it
			if err := a.Put([]byte(planID), val); err != nil {
				return err
			}
		}
		return b.Delete([]byte(planID))
	})
}

// List returns open checkpoints ordered by last update, most recent first.
func (s *BboltStore) List(ctx context.Context) ([]*model.Checkpoint, error) {
	var out []*model.Checkpoint

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(s.bucket))
		if b == nil {
			return ErrBucketNotFound
		}

		return b.ForEach(func(k, v []byte) error {
			var cp model.Checkpoint
			if err := json.Unmarshal(v, &cp); err != nil {
				return fmt.Errorf("unmarshal error for key %s: %w", k, err)
			}
			out = append(out, &cp)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortByUpdate(out)
	return out, nil
}

// Archived loads a finalized checkpoint kept in the archive bucket.
func (s *BboltStore) Archived(planID string) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	err := s.db.View(func(tx *bbolt.Tx) error {
		a := tx.Bucket([]byte(archiveBucket))
		if a == nil {
			return ErrBucketNotFound
		}
		val := a.Get([]byte(planID))
		if val == nil {
			return ErrNotFound
		}
		return json.Unmarshal(val, &cp)
	})
	if err != nil {
		return nil, err
	}
	return &cp, nil
}
