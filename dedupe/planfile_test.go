package dedupe

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/olegkotsar/dupesweep/model"
)

func samplePlan() *model.DeletionPlan {
	g := NewGrouper("dropbox", nil, nil)
	for _, e := range []model.InventoryEntry{
		entry("/x/a.jpg", 100, "H1", t0),
		entry("/x/y/a.jpg", 100, "H1", t0),
		entry("/x/y/z/a.jpg", 100, "H1", t0),
	} {
		_ = g.Add(e)
	}
	return g.Plan("/x")
}

func TestWriteReadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	plan := samplePlan()

	require.NoError(t, WritePlan(context.Background(), path, plan))

	got, err := ReadPlan(path)
	require.NoError(t, err)
	require.Equal(t, plan.ID, got.ID)
	require.Equal(t, plan.Candidates, got.Candidates)
	require.Equal(t, "dropbox", got.Provider)
	require.True(t, plan.CreatedAt.Equal(got.CreatedAt))
}

func TestReadPlan_RejectsTamperedPlan(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name   string
		mutate func(p *model.DeletionPlan)
	}{
		{"edited path", func(p *model.DeletionPlan) { p.Candidates[0].Path = "/elsewhere.jpg" }},
		{"wrong total", func(p *model.DeletionPlan) { p.ReclaimableBytes++ }},
		{"keeper planned for deletion", func(p *model.DeletionPlan) {
			p.Candidates[1].Keeper = p.Candidates[0].Path
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := samplePlan()
			tt.mutate(plan)
			path := filepath.Join(dir, tt.name+".json")
			require.NoError(t, WritePlan(context.Background(), path, plan))

			_, err := ReadPlan(path)
			require.ErrorIs(t, err, ErrInvalidPlan)
		})
	}
}

func TestReadPlan_Missing(t *testing.T) {
	_, err := ReadPlan(filepath.Join(t.TempDir(), "none.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
