package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testPlan() DeletionPlan {
	items := []PlanItem{
		{Path: "/a/1.jpg", SizeBytes: 10},
		{Path: "/a/2.jpg", SizeBytes: 20},
		{Path: "/a/3.jpg", SizeBytes: 30},
	}
	return DeletionPlan{ID: PlanID(items), Candidates: items, ReclaimableBytes: 60}
}

func TestCheckpoint_PendingKeepsPlanOrder(t *testing.T) {
	cp := NewCheckpoint(testPlan(), "run", time.Now())
	cp.MarkCompleted("/a/2.jpg")

	pending := cp.Pending()
	require.Len(t, pending, 2)
	require.Equal(t, "/a/1.jpg", pending[0].Path)
	require.Equal(t, "/a/3.jpg", pending[1].Path)
}

func TestCheckpoint_MarkIsIdempotent(t *testing.T) {
	cp := NewCheckpoint(testPlan(), "run", time.Now())
	cp.MarkCompleted("/a/1.jpg")
	cp.MarkCompleted("/a/1.jpg")
	cp.MarkFailed("/a/1.jpg", "late failure")
	cp.MarkFailed("/a/3.jpg", "denied")

	require.Equal(t, []string{"/a/1.jpg"}, cp.Completed)
	require.Equal(t, []FailedPath{{Path: "/a/3.jpg", Reason: "denied"}}, cp.Failed)
	require.Len(t, cp.Pending(), 1)
}

func TestCheckpoint_IndexRebuiltAfterDecode(t *testing.T) {
	// simulate a checkpoint read back from disk: no in-memory index yet
	cp := &Checkpoint{
		Plan:      testPlan(),
		Completed: []string{"/a/1.jpg", "/a/3.jpg"},
	}
	require.True(t, cp.IsSettled("/a/3.jpg"))
	require.Equal(t, int64(40), cp.BytesReclaimed())
	require.Len(t, cp.Pending(), 1)
}

func TestCheckpoint_AbsentReclaimsNothing(t *testing.T) {
	cp := NewCheckpoint(testPlan(), "run", time.Now())
	cp.MarkCompleted("/a/1.jpg")
	cp.MarkAbsent("/a/2.jpg")
	cp.MarkAbsent("/a/1.jpg")

	require.Equal(t, []string{"/a/1.jpg", "/a/2.jpg"}, cp.Completed)
	require.Equal(t, []string{"/a/2.jpg"}, cp.Absent)
	require.Equal(t, int64(10), cp.BytesReclaimed())
}

func TestInventoryEntry_Depth(t *testing.T) {
	require.Equal(t, 3, InventoryEntry{Path: "/a/b/x.jpg"}.Depth())
	require.Equal(t, 4, InventoryEntry{Path: "/a/b/c/x.jpg"}.Depth())
	require.Equal(t, 2, InventoryEntry{Path: "photos/x.jpg"}.Depth())
}

func TestPlanID_StableForSameOrder(t *testing.T) {
	p := testPlan()
	require.Equal(t, PlanID(p.Candidates), PlanID(p.Candidates))
	require.Len(t, PlanID(p.Candidates), 16)

	reversed := []PlanItem{p.Candidates[2], p.Candidates[1], p.Candidates[0]}
	require.NotEqual(t, PlanID(p.Candidates), PlanID(reversed))
}
