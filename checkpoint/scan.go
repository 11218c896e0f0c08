package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/olegkotsar/dupesweep/fsutil"
	"github.com/olegkotsar/dupesweep/model"
)

// ScanFile persists the state of one unfinished scan as a JSON file.
// A scan state can hold millions of entries, so it is kept out of the
// plan checkpoint stores and written whole on every save.
type ScanFile struct {
	path string
}

func NewScanFile(path string) *ScanFile {
	return &ScanFile{path: path}
}

func (s *ScanFile) Path() string { return s.path }

// Load returns the saved scan state, or ErrNotFound.
func (s *ScanFile) Load() (*model.ScanState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading scan state: %w", err)
	}

	var st model.ScanState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decoding scan state %s: %w", s.path, err)
	}
	return &st, nil
}

func (s *ScanFile) Save(ctx context.Context, st *model.ScanState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding scan state: %w", err)
	}
	if err := fsutil.WriteFileAtomic(ctx, s.path, data, 0o600); err != nil {
		return fmt.Errorf("saving scan state: %w", err)
	}
	return nil
}

// Clear removes the scan state. A missing file is not an error.
func (s *ScanFile) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing scan state: %w", err)
	}
	return nil
}
