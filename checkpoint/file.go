package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/olegkotsar/dupesweep/config"
	"github.com/olegkotsar/dupesweep/fsutil"
	"github.com/olegkotsar/dupesweep/model"
)

const (
	openSuffix     = ".yaml"
	archivedSuffix = ".done.yaml"
)

// FileStore keeps each checkpoint as a YAML document named <plan_id>.yaml.
type FileStore struct {
	dir string
}

func NewFileStore(cfg *config.FileStoreConfig) (*FileStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid file store config: %w", err)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir: %w", err)
	}
	return &FileStore{dir: cfg.Dir}, nil
}

func (s *FileStore) path(planID string) string {
	return filepath.Join(s.dir, planID+openSuffix)
}

func validID(planID string) error {
	if planID == "" || strings.ContainsAny(planID, `/\`) || strings.HasPrefix(planID, ".") {
		return fmt.Errorf("invalid plan id %q", planID)
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context, planID string) (*model.Checkpoint, error) {
	if err := validID(planID); err != nil {
		return nil, err
	}
	return readCheckpoint(s.path(planID))
}

func readCheckpoint(path string) (*model.Checkpoint, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint %s: %w", path, err)
	}
	var cp model.Checkpoint
	if err := yaml.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decoding checkpoint %s: %w", path, err)
	}
	return &cp, nil
}

func (s *FileStore) Save(ctx context.Context, cp *model.Checkpoint) error {
	if err := validID(cp.PlanID); err != nil {
		return err
	}
	data, err := yaml.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	return fsutil.WriteFileAtomic(ctx, s.path(cp.PlanID), data, 0o644)
}

func (s *FileStore) Finalize(ctx context.Context, planID string, archive bool) error {
	if err := validID(planID); err != nil {
		return err
	}
	src := s.path(planID)
	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if archive {
		return fsutil.RenameWithRetry(ctx, src, filepath.Join(s.dir, planID+archivedSuffix))
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("removing checkpoint %s: %w", src, err)
	}
	return nil
}

// List returns open checkpoints ordered by last update, most recent first.
func (s *FileStore) List(ctx context.Context) ([]*model.Checkpoint, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoint dir: %w", err)
	}

	var out []*model.Checkpoint
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, openSuffix) || strings.HasSuffix(name, archivedSuffix) || strings.HasPrefix(name, ".") {
			continue
		}
		cp, err := readCheckpoint(filepath.Join(s.dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sortByUpdate(out)
	return out, nil
}

func sortByUpdate(cps []*model.Checkpoint) {
	sort.Slice(cps, func(i, j int) bool {
		if !cps[i].UpdatedAt.Equal(cps[j].UpdatedAt) {
			return cps[i].UpdatedAt.After(cps[j].UpdatedAt)
		}
		return cps[i].PlanID < cps[j].PlanID
	})
}

func (s *FileStore) Close() error {
	return nil
}
