package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/olegkotsar/dupesweep/config"
	"github.com/olegkotsar/dupesweep/model"
)

var created = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func testPlan() model.DeletionPlan {
	items := []model.PlanItem{
		{Path: "/x/y/a.jpg", SizeBytes: 100, Fingerprint: "H1", Keeper: "/x/a.jpg"},
		{Path: "/x/y/b.jpg", SizeBytes: 50, Fingerprint: "H2", Keeper: "/x/b.jpg"},
		{Path: "/x/y/c.jpg", SizeBytes: 25, Fingerprint: "H3", Keeper: "/x/c.jpg"},
	}
	return model.DeletionPlan{
		ID:               model.PlanID(items),
		Root:             "/x",
		CreatedAt:        created,
		Groups:           3,
		ReclaimableBytes: 175,
		Candidates:       items,
	}
}

type storeFactory struct {
	name string
	open func(t *testing.T, dir string) Store
}

func factories() []storeFactory {
	return []storeFactory{
		{"file", func(t *testing.T, dir string) Store {
			s, err := NewFileStore(&config.FileStoreConfig{Dir: dir})
			require.NoError(t, err)
			return s
		}},
		{"bbolt", func(t *testing.T, dir string) Store {
			s, err := NewBboltStore(&config.BboltConfig{Path: filepath.Join(dir, "cp.db")})
			require.NoError(t, err)
			return s
		}},
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			s := f.open(t, t.TempDir())
			defer s.Close()

			cp := model.NewCheckpoint(testPlan(), "run-1", created)
			cp.MarkCompleted("/x/y/a.jpg")
			cp.MarkFailed("/x/y/b.jpg", "path/restricted_content")
			cp.InFlight = &model.InFlightBatch{JobID: "job-7", Paths: []string{"/x/y/c.jpg"}, SubmittedAt: created.Add(time.Minute)}
			cp.UpdatedAt = created.Add(time.Minute)
			require.NoError(t, s.Save(ctx, cp))

			got, err := s.Load(ctx, cp.PlanID)
			require.NoError(t, err)
			require.Equal(t, cp.PlanID, got.PlanID)
			require.Equal(t, "run-1", got.RunID)
			require.Equal(t, []string{"/x/y/a.jpg"}, got.Completed)
			require.Equal(t, []model.FailedPath{{Path: "/x/y/b.jpg", Reason: "path/restricted_content"}}, got.Failed)
			require.Equal(t, "job-7", got.InFlight.JobID)
			require.Equal(t, []string{"/x/y/c.jpg"}, got.InFlight.Paths)
			require.True(t, cp.UpdatedAt.Equal(got.UpdatedAt))
			require.Equal(t, cp.Plan.Candidates, got.Plan.Candidates)
			require.Equal(t, int64(100), got.BytesReclaimed())
			require.Len(t, got.Pending(), 1)
		})
	}
}

func TestStore_LoadMissing(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.open(t, t.TempDir())
			defer s.Close()

			_, err := s.Load(context.Background(), "0123456789abcdef")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			s := f.open(t, t.TempDir())
			defer s.Close()

			cp := model.NewCheckpoint(testPlan(), "run-1", created)
			require.NoError(t, s.Save(ctx, cp))
			cp.MarkCompleted("/x/y/a.jpg")
			cp.MarkCompleted("/x/y/b.jpg")
			require.NoError(t, s.Save(ctx, cp))

			got, err := s.Load(ctx, cp.PlanID)
			require.NoError(t, err)
			require.Equal(t, []string{"/x/y/a.jpg", "/x/y/b.jpg"}, got.Completed)

			all, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
		})
	}
}

func TestStore_Finalize(t *testing.T) {
	for _, f := range factories() {
		for _, archive := range []bool{false, true} {
			name := f.name + "/delete"
			if archive {
				name = f.name + "/archive"
			}
			t.Run(name, func(t *testing.T) {
				ctx := context.Background()
				dir := t.TempDir()
				s := f.open(t, dir)
				defer s.Close()

				cp := model.NewCheckpoint(testPlan(), "run-1", created)
				require.NoError(t, s.Save(ctx, cp))
				require.NoError(t, s.Finalize(ctx, cp.PlanID, archive))

				_, err := s.Load(ctx, cp.PlanID)
				require.ErrorIs(t, err, ErrNotFound)

				all, err := s.List(ctx)
				require.NoError(t, err)
				require.Empty(t, all)

				require.ErrorIs(t, s.Finalize(ctx, cp.PlanID, archive), ErrNotFound)

				switch st := s.(type) {
				case *FileStore:
					_, err := os.Stat(filepath.Join(dir, cp.PlanID+archivedSuffix))
					require.Equal(t, archive, err == nil)
				case *BboltStore:
					_, err := st.Archived(cp.PlanID)
					if archive {
						require.NoError(t, err)
					} else {
						require.ErrorIs(t, err, ErrNotFound)
					}
				}
			})
		}
	}
}

func TestStore_ListOrder(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			s := f.open(t, t.TempDir())
			defer s.Close()

			older := model.NewCheckpoint(testPlan(), "run-1", created)
			newer := model.NewCheckpoint(model.DeletionPlan{ID: "ffffffffffffffff", Candidates: []model.PlanItem{}}, "run-2", created.Add(time.Hour))
			require.NoError(t, s.Save(ctx, older))
			require.NoError(t, s.Save(ctx, newer))

			all, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			require.Equal(t, newer.PlanID, all[0].PlanID)
			require.Equal(t, older.PlanID, all[1].PlanID)
		})
	}
}

func TestFileStore_HumanReadable(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(&config.FileStoreConfig{Dir: dir})
	require.NoError(t, err)

	cp := model.NewCheckpoint(testPlan(), "run-1", created)
	cp.MarkCompleted("/x/y/a.jpg")
	require.NoError(t, s.Save(context.Background(), cp))

	data, err := os.ReadFile(filepath.Join(dir, cp.PlanID+".yaml"))
	require.NoError(t, err)
	require.Contains(t, string(data), "plan_id: "+cp.PlanID)
	require.Contains(t, string(data), "- /x/y/a.jpg")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStore_RejectsUnsafeIDs(t *testing.T) {
	s, err := NewFileStore(&config.FileStoreConfig{Dir: t.TempDir()})
	require.NoError(t, err)

	for _, id := range []string{"", "../escape", "a/b", ".hidden"} {
		_, err := s.Load(context.Background(), id)
		require.Error(t, err, id)
		require.NotErrorIs(t, err, ErrNotFound)
	}
}

func TestBboltStore_OpenInvalidPath(t *testing.T) {
	_, err := NewBboltStore(&config.BboltConfig{Path: "/invalid/path.db"})
	require.Error(t, err)
}

func TestCreateStore(t *testing.T) {
	dir := t.TempDir()

	s, err := CreateStore(&config.CheckpointConfig{
		CheckpointType: config.CheckpointTypeFile,
		File:           &config.FileStoreConfig{Dir: dir},
	})
	require.NoError(t, err)
	require.IsType(t, &FileStore{}, s)

	s, err = CreateStore(&config.CheckpointConfig{
		CheckpointType: config.CheckpointTypeBbolt,
		Bbolt:          &config.BboltConfig{Path: filepath.Join(dir, "cp.db"), Bucket: "checkpoints"},
	})
	require.NoError(t, err)
	require.IsType(t, &BboltStore{}, s)
	require.NoError(t, s.Close())

	_, err = CreateStore(&config.CheckpointConfig{CheckpointType: "redis"})
	require.Error(t, err)
}
