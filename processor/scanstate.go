package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/olegkotsar/dupesweep/catalog"
	"github.com/olegkotsar/dupesweep/checkpoint"
	"github.com/olegkotsar/dupesweep/config"
	"github.com/olegkotsar/dupesweep/dedupe"
	"github.com/olegkotsar/dupesweep/logger"
	"github.com/olegkotsar/dupesweep/model"
)

// ErrScanStateMismatch is returned when the saved scan was made for another
// provider, root or filter.
var ErrScanStateMismatch = errors.New("saved scan state belongs to a different scan")

// scanKey identifies the inventory a scan produces.
func scanKey(provider string, sc *config.ScanConfig) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s\n%s\n%s\n%s\n%d",
		provider, sc.Root, sc.Category,
		strings.Join(sc.Extensions, ","), strings.Join(sc.Include, ","), strings.Join(sc.Exclude, ","),
		sc.MinSizeBytes)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// scanTracker saves the listing cursor together with the grouped inventory.
// The builder reports cursors from its goroutine; a cursor is only saved once
// every entry emitted before it has reached the grouper.
type scanTracker struct {
	file     *checkpoint.ScanFile
	key      string
	provider string
	root     string
	every    int64
	grouper  *dedupe.Grouper
	logger   logger.Logger

	mu      sync.Mutex
	pending []catalog.Cursor

	latest   *catalog.Cursor
	consumed int64
	savedAt  int64
}

// newScanTracker prepares scan checkpointing for grouper and returns the
// builder options that resume a saved scan. A nil tracker disables it.
func (r *Runner) newScanTracker(grouper *dedupe.Grouper) (*scanTracker, []catalog.Option, error) {
	sc := &r.cfg.Scan
	if sc.StateFile == "" {
		return nil, nil, nil
	}

	t := &scanTracker{
		file:     checkpoint.NewScanFile(sc.StateFile),
		key:      scanKey(r.provider.Name(), sc),
		provider: r.provider.Name(),
		root:     sc.Root,
		every:    int64(sc.CheckpointEvery),
		grouper:  grouper,
		logger:   r.logger,
	}
	if t.every <= 0 {
		t.every = 10000
	}
	opts := []catalog.Option{catalog.WithProgress(t.report)}

	if !sc.Resume {
		if err := t.file.Clear(); err != nil {
			return nil, nil, err
		}
		return t, opts, nil
	}

	st, err := t.file.Load()
	if errors.Is(err, checkpoint.ErrNotFound) {
		r.logger.Warn("No saved scan state at %s, starting a full scan", sc.StateFile)
		return t, opts, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if st.Key != t.key {
		return nil, nil, fmt.Errorf("%w: %s was saved for %s %s", ErrScanStateMismatch, sc.StateFile, st.Provider, displayRoot(st.Root))
	}

	for _, e := range st.Entries {
		_ = grouper.Add(e)
	}
	r.logger.Info("Resuming scan from %s: %d entries inventoried, %d directories queued", sc.StateFile, len(st.Entries), len(st.Queue))
	opts = append(opts, catalog.WithCursor(catalog.Cursor{Queue: st.Queue, PageToken: st.PageToken}))
	return t, opts, nil
}

// report runs on the builder goroutine.
func (t *scanTracker) report(c catalog.Cursor) {
	t.mu.Lock()
	t.pending = append(t.pending, c)
	t.mu.Unlock()
}

// advance moves latest to the newest cursor the grouper has caught up with.
func (t *scanTracker) advance() {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := 0
	for ; i < len(t.pending) && t.pending[i].Emitted <= t.consumed; i++ {
		c := t.pending[i]
		t.latest = &c
	}
	t.pending = t.pending[i:]
}

// added is called after each entry reaches the grouper and saves every
// CheckpointEvery entries.
func (t *scanTracker) added(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.consumed++
	t.advance()
	if t.latest == nil || t.consumed-t.savedAt < t.every {
		return nil
	}
	return t.save(ctx)
}

// interrupted saves the last consistent cursor once the stream has ended early.
func (t *scanTracker) interrupted(ctx context.Context) {
	if t == nil {
		return
	}
	t.advance()
	if t.latest == nil {
		return
	}
	if err := t.save(context.WithoutCancel(ctx)); err != nil {
		t.logger.Error("Could not save scan state: %v", err)
		return
	}
	t.logger.Info("Scan state saved to %s, continue with --resume", t.file.Path())
}

// finished removes the saved state of a completed scan.
func (t *scanTracker) finished() error {
	if t == nil {
		return nil
	}
	return t.file.Clear()
}

func (t *scanTracker) save(ctx context.Context) error {
	st := &model.ScanState{
		Key:       t.key,
		Provider:  t.provider,
		Root:      t.root,
		Queue:     t.latest.Queue,
		PageToken: t.latest.PageToken,
		Entries:   t.grouper.Entries(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := t.file.Save(ctx, st); err != nil {
		return err
	}
	t.savedAt = t.consumed
	t.logger.Debug("Scan state saved: %d entries, %d directories queued", len(st.Entries), len(st.Queue))
	return nil
}
