package processor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/olegkotsar/dupesweep/checkpoint"
	"github.com/olegkotsar/dupesweep/config"
	"github.com/olegkotsar/dupesweep/model"
	"github.com/olegkotsar/dupesweep/remote"
)

func stateConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := testConfig(t)
	cfg.Scan.StateFile = filepath.Join(t.TempDir(), "scan.json")
	cfg.Scan.CheckpointEvery = 1
	return cfg
}

func TestRunner_ScanResumesAfterInterruption(t *testing.T) {
	ctx := context.Background()

	clean := scenarioStore()
	clean.PageSize = 1
	want, err := func() (*ScanResult, error) {
		r, _ := newTestRunner(t, clean, stateConfig(t))
		return r.Scan(ctx)
	}()
	require.NoError(t, err)

	fake := scenarioStore()
	fake.PageSize = 1
	// "/" takes two pages, the fourth call lists the second page of "/x"
	fake.ListErrors = []error{nil, nil, nil, remote.NewError(remote.ErrInvalidCredential, "list", errors.New("expired"))}
	cfg := stateConfig(t)
	r, _ := newTestRunner(t, fake, cfg)

	_, err = r.Scan(ctx)
	require.ErrorIs(t, err, remote.ErrInvalidCredential)
	require.NoFileExists(t, cfg.Scan.PlanFile)

	st, err := checkpoint.NewScanFile(cfg.Scan.StateFile).Load()
	require.NoError(t, err)
	require.Equal(t, "fake", st.Provider)
	require.Equal(t, []string{"/x"}, st.Queue)
	require.Equal(t, "1", st.PageToken)
	require.Len(t, st.Entries, 2)
	require.Equal(t, "/c.jpg", st.Entries[0].Path)
	require.Equal(t, "/x/a.jpg", st.Entries[1].Path)

	fake.ListCalls = 0
	cfg.Scan.Resume = true
	r, _ = newTestRunner(t, fake, cfg)
	got, err := r.Scan(ctx)
	require.NoError(t, err)

	require.Equal(t, want.Plan.ID, got.Plan.ID)
	require.Equal(t, want.Plan.Candidates, got.Plan.Candidates)
	require.Less(t, fake.ListCalls, clean.ListCalls, "listed pages are not listed again")
	require.NoFileExists(t, cfg.Scan.StateFile, "a finished scan removes its state")
}

func TestRunner_ScanResumeRejectsOtherScan(t *testing.T) {
	fake := scenarioStore()
	cfg := stateConfig(t)
	cfg.Scan.Resume = true
	require.NoError(t, checkpoint.NewScanFile(cfg.Scan.StateFile).Save(context.Background(), &model.ScanState{
		Key:      "0123456789abcdef",
		Provider: "fake",
		Root:     "/elsewhere",
		Queue:    []string{"/elsewhere"},
	}))
	r, _ := newTestRunner(t, fake, cfg)

	_, err := r.Scan(context.Background())
	require.ErrorIs(t, err, ErrScanStateMismatch)
	require.Zero(t, fake.ListCalls)
	require.FileExists(t, cfg.Scan.StateFile, "a rejected state is kept")
}

func TestRunner_ScanResumeWithoutStateScansEverything(t *testing.T) {
	fake := scenarioStore()
	cfg := stateConfig(t)
	cfg.Scan.Resume = true
	r, _ := newTestRunner(t, fake, cfg)

	res, err := r.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(5), res.Scan.Emitted)
	require.NoFileExists(t, cfg.Scan.StateFile)
}

func TestRunner_FreshScanDiscardsOldState(t *testing.T) {
	fake := scenarioStore()
	fake.ListErrors = []error{remote.NewError(remote.ErrInvalidCredential, "list", errors.New("expired"))}
	cfg := stateConfig(t)
	sf := checkpoint.NewScanFile(cfg.Scan.StateFile)
	require.NoError(t, sf.Save(context.Background(), &model.ScanState{Key: "old", Queue: []string{"/x"}}))
	r, _ := newTestRunner(t, fake, cfg)

	_, err := r.Scan(context.Background())
	require.Error(t, err)
	_, err = sf.Load()
	require.ErrorIs(t, err, checkpoint.ErrNotFound, "nothing listed yet, so nothing to resume")
}

func TestScanKey(t *testing.T) {
	sc := &config.ScanConfig{Root: "/Photos", Category: config.CategoryPhotos}
	k := scanKey("dropbox", sc)
	require.Len(t, k, 16)
	require.Equal(t, k, scanKey("dropbox", sc))
	require.NotEqual(t, k, scanKey("s3", sc))

	other := *sc
	other.Exclude = []string{"tmp/**"}
	require.NotEqual(t, k, scanKey("dropbox", &other))
}
