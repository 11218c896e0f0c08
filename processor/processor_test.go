package processor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/olegkotsar/dupesweep/catalog"
	"github.com/olegkotsar/dupesweep/checkpoint"
	"github.com/olegkotsar/dupesweep/config"
	"github.com/olegkotsar/dupesweep/dedupe"
	"github.com/olegkotsar/dupesweep/deleter"
	"github.com/olegkotsar/dupesweep/model"
	"github.com/olegkotsar/dupesweep/remote"
	"github.com/olegkotsar/dupesweep/testutils"
)

var t0 = time.Date(2023, 7, 1, 9, 0, 0, 0, time.UTC)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := &config.AppConfig{}
	cfg.Scan.Root = "/"
	cfg.Scan.PlanFile = filepath.Join(t.TempDir(), "plan.json")
	cfg.ApplyDefaults()
	return cfg
}

func newTestRunner(t *testing.T, fake *testutils.FakeStorage, cfg *config.AppConfig) (*Runner, checkpoint.Store) {
	t.Helper()
	store, err := checkpoint.NewFileStore(&config.FileStoreConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	r := NewRunner(fake, store, cfg, nil,
		WithBuilderOptions(catalog.WithSleep(noSleep)),
		WithEngineOptions(deleter.WithSleep(noSleep)),
	)
	return r, store
}

// scenarioStore holds one duplicate pair and three unique files
func scenarioStore() *testutils.FakeStorage {
	fake := testutils.NewFakeStorage()
	fake.AddFile("/x/a.jpg", 100, "H1", t0)
	fake.AddFile("/x/y/a.jpg", 100, "H1", t0)
	fake.AddFile("/x/b.jpg", 10, "U1", t0)
	fake.AddFile("/c.jpg", 20, "U2", t0)
	fake.AddFile("/x/y/z/d.jpg", 30, "U3", t0)
	return fake
}

func TestRunner_EndToEnd(t *testing.T) {
	fake := scenarioStore()
	cfg := testConfig(t)
	r, store := newTestRunner(t, fake, cfg)
	ctx := context.Background()

	res, rep, err := r.ScanAndDelete(ctx)
	require.NoError(t, err)

	require.Equal(t, int64(5), res.Scan.Emitted)
	require.Equal(t, 1, res.Plan.Groups)
	require.Equal(t, []string{"/x/y/a.jpg"}, res.Plan.Paths())
	require.Equal(t, int64(100), res.Plan.ReclaimableBytes)

	require.True(t, rep.Clean())
	require.Equal(t, 1, rep.Deleted)
	require.Equal(t, int64(100), rep.BytesReclaimed)

	require.False(t, fake.Exists("/x/y/a.jpg"))
	require.Equal(t, []string{"/c.jpg", "/x/a.jpg", "/x/b.jpg", "/x/y/z/d.jpg"}, fake.Paths())

	open, err := store.List(ctx)
	require.NoError(t, err)
	require.Empty(t, open, "checkpoint removed after a clean run")
}

func TestRunner_ScanWritesPlanArtifact(t *testing.T) {
	fake := scenarioStore()
	cfg := testConfig(t)
	r, _ := newTestRunner(t, fake, cfg)

	res, err := r.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, len(fake.Paths()), "scan never deletes")

	plan, err := dedupe.ReadPlan(cfg.Scan.PlanFile)
	require.NoError(t, err)
	require.Equal(t, res.Plan.ID, plan.ID)
	require.Equal(t, "fake", plan.Provider)
	require.Equal(t, "/x/a.jpg", plan.Candidates[0].Keeper)
	require.Contains(t, res.String(), "planned_deletions=1")
}

func TestRunner_ScanFilters(t *testing.T) {
	fake := scenarioStore()
	fake.AddFile("/x/notes.txt", 100, "T1", t0)
	fake.AddFile("/x/y/notes.txt", 100, "T1", t0)
	cfg := testConfig(t)
	cfg.Scan.Category = config.CategoryPhotos
	cfg.Scan.Exclude = []string{"x/y/**"}
	r, _ := newTestRunner(t, fake, cfg)

	res, err := r.Scan(context.Background())
	require.NoError(t, err)
	require.Empty(t, res.Plan.Candidates, "excluded copies and other categories are never planned")
	require.Equal(t, int64(3), res.Scan.Emitted)
}

func TestRunner_DeleteScopeProtects(t *testing.T) {
	fake := scenarioStore()
	fake.AddFile("/backup/x/y/a.jpg", 100, "H1", t0)
	cfg := testConfig(t)
	cfg.Scan.DeleteScope = []string{"backup/**"}
	r, _ := newTestRunner(t, fake, cfg)

	res, rep, err := r.ScanAndDelete(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"/backup/x/y/a.jpg"}, res.Plan.Paths())
	require.Equal(t, 1, res.Plan.Protected)
	require.True(t, rep.Clean())
	require.True(t, fake.Exists("/x/y/a.jpg"))
}

func TestRunner_IncompleteScanProducesNoPlan(t *testing.T) {
	fake := scenarioStore()
	fake.ListErrors = []error{remote.NewError(remote.ErrInvalidCredential, "list", errors.New("expired"))}
	cfg := testConfig(t)
	r, _ := newTestRunner(t, fake, cfg)

	_, _, err := r.ScanAndDelete(context.Background())
	require.ErrorIs(t, err, remote.ErrInvalidCredential)
	require.Zero(t, fake.DeleteCalls)
	require.NoFileExists(t, cfg.Scan.PlanFile)
}

func TestRunner_DeleteFromPlanFile(t *testing.T) {
	fake := scenarioStore()
	cfg := testConfig(t)
	r, _ := newTestRunner(t, fake, cfg)
	ctx := context.Background()

	_, err := r.Scan(ctx)
	require.NoError(t, err)
	plan, err := dedupe.ReadPlan(cfg.Scan.PlanFile)
	require.NoError(t, err)

	rep, err := r.Delete(ctx, plan)
	require.NoError(t, err)
	require.True(t, rep.Clean())
	require.False(t, fake.Exists("/x/y/a.jpg"))
}

func TestRunner_DeleteRejectsForeignPlan(t *testing.T) {
	r, _ := newTestRunner(t, scenarioStore(), testConfig(t))
	plan := &model.DeletionPlan{ID: "abc", Provider: "dropbox", Candidates: []model.PlanItem{{Path: "/x/y/a.jpg"}}}

	_, err := r.Delete(context.Background(), plan)
	require.Error(t, err)
	require.Contains(t, err.Error(), "dropbox")
}

func TestRunner_ResumeOnlyOpenCheckpoint(t *testing.T) {
	fake := scenarioStore()
	fake.DeleteErrors = []error{remote.NewError(remote.ErrInvalidCredential, "delete_batch", nil)}
	cfg := testConfig(t)
	r, _ := newTestRunner(t, fake, cfg)
	ctx := context.Background()

	res, _, err := r.ScanAndDelete(ctx)
	require.ErrorIs(t, err, deleter.ErrFatal)

	open, err := r.Checkpoints(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, res.Plan.ID, open[0].PlanID)

	rep, err := r.Resume(ctx, "")
	require.NoError(t, err)
	require.True(t, rep.Clean())
	require.False(t, fake.Exists("/x/y/a.jpg"))
}

func TestRunner_ResumeSelection(t *testing.T) {
	ctx := context.Background()

	t.Run("none open", func(t *testing.T) {
		r, _ := newTestRunner(t, scenarioStore(), testConfig(t))
		_, err := r.Resume(ctx, "")
		require.ErrorIs(t, err, deleter.ErrNoCheckpoint)
	})

	t.Run("several open", func(t *testing.T) {
		r, store := newTestRunner(t, scenarioStore(), testConfig(t))
		for _, id := range []string{"aaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbb"} {
			require.NoError(t, store.Save(ctx, model.NewCheckpoint(model.DeletionPlan{ID: id}, "run", t0)))
		}
		_, err := r.Resume(ctx, "")
		require.ErrorIs(t, err, ErrAmbiguousResume)
		require.Contains(t, err.Error(), "aaaaaaaaaaaaaaaa")
	})
}

func TestRunner_RPSLoggingStops(t *testing.T) {
	fake := scenarioStore()
	r, _ := newTestRunner(t, fake, testConfig(t))
	r.rpsInterval = time.Millisecond

	stop := r.logRPS(context.Background(), "listing")
	stop()
	stop()
}
