package dedupe

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/olegkotsar/dupesweep/catalog"
	"github.com/olegkotsar/dupesweep/logger"
	"github.com/olegkotsar/dupesweep/model"
)

// ErrMissingFingerprint rejects an inventory entry that cannot be grouped.
var ErrMissingFingerprint = errors.New("entry has no content fingerprint")

// GroupStats contains statistics from grouping one inventory
type GroupStats struct {
	Added      int64 // Entries accepted
	Malformed  int64 // Entries rejected for a missing fingerprint
	Repeated   int64 // Entries whose path was already added
	Groups     int64 // Fingerprints shared by two or more entries
	Duplicates int64 // Non-keeper entries across all groups
}

func (s *GroupStats) String() string {
	return fmt.Sprintf("Group: added=%d, malformed=%d, repeated=%d, groups=%d, duplicates=%d",
		s.Added, s.Malformed, s.Repeated, s.Groups, s.Duplicates)
}

// Grouper accumulates inventory entries by fingerprint and derives a deletion plan.
type Grouper struct {
	byFingerprint map[string][]model.InventoryEntry
	seen          map[string]struct{}
	deleteScope   []string
	provider      string
	logger        logger.Logger
	now           func() time.Time
	stats         GroupStats
}

// NewGrouper creates a grouper. When deleteScope is non-empty only non-keepers
// matching one of its globs become delete candidates.
func NewGrouper(provider string, deleteScope []string, log logger.Logger) *Grouper {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Grouper{
		byFingerprint: make(map[string][]model.InventoryEntry),
		seen:          make(map[string]struct{}),
		deleteScope:   deleteScope,
		provider:      provider,
		logger:        log.With("component", "dedupe"),
		now:           time.Now,
	}
}

// Add accumulates one entry. An entry without a fingerprint is excluded and
// reported with ErrMissingFingerprint; it is never planned for deletion.
func (g *Grouper) Add(e model.InventoryEntry) error {
	if e.Fingerprint == "" {
		g.stats.Malformed++
		g.logger.Warn("Skipping %s: %v", e.Path, ErrMissingFingerprint)
		return fmt.Errorf("%s: %w", e.Path, ErrMissingFingerprint)
	}
	if _, dup := g.seen[e.Path]; dup {
		g.stats.Repeated++
		g.logger.Debug("Ignoring repeated listing of %s", e.Path)
		return nil
	}
	g.seen[e.Path] = struct{}{}
	g.byFingerprint[e.Fingerprint] = append(g.byFingerprint[e.Fingerprint], e)
	g.stats.Added++
	return nil
}

// Entries returns every accepted entry, sorted by path.
func (g *Grouper) Entries() []model.InventoryEntry {
	out := make([]model.InventoryEntry, 0, len(g.seen))
	for _, entries := range g.byFingerprint {
		out = append(out, entries...)
	}
	sortByPath(out)
	return out
}

// Stats returns the grouping counters.
func (g *Grouper) Stats() GroupStats {
	return g.stats
}

// keeperLess orders a group so that the keeper comes first: fewest path
// segments, then earliest modified time, then smallest path. A missing
// modified time ranks after any known one.
func keeperLess(a, b model.InventoryEntry) bool {
	if da, db := a.Depth(), b.Depth(); da != db {
		return da < db
	}
	az, bz := a.ModifiedAt.IsZero(), b.ModifiedAt.IsZero()
	switch {
	case az != bz:
		return bz
	case !az && !a.ModifiedAt.Equal(b.ModifiedAt):
		return a.ModifiedAt.Before(b.ModifiedAt)
	}
	return a.Path < b.Path
}

// Groups returns every duplicate group with its keeper chosen, ordered by
// reclaimable bytes (largest first) and then by fingerprint.
func (g *Grouper) Groups() []model.DuplicateGroup {
	var groups []model.DuplicateGroup
	for fp, entries := range g.byFingerprint {
		if len(entries) < 2 {
			continue
		}

		sorted := append([]model.InventoryEntry(nil), entries...)
		sort.SliceStable(sorted, func(i, j int) bool { return keeperLess(sorted[i], sorted[j]) })

		group := model.DuplicateGroup{Fingerprint: fp, Keeper: sorted[0]}
		for _, e := range sorted[1:] {
			if len(g.deleteScope) > 0 && !catalog.MatchAny(g.deleteScope, strings.TrimPrefix(e.Path, "/")) {
				group.Protected = append(group.Protected, e)
				continue
			}
			group.Candidates = append(group.Candidates, e)
		}
		sortByPath(group.Candidates)
		sortByPath(group.Protected)

		groups = append(groups, group)
	}

	sort.Slice(groups, func(i, j int) bool {
		ri, rj := groups[i].ReclaimableBytes(), groups[j].ReclaimableBytes()
		if ri != rj {
			return ri > rj
		}
		return groups[i].Fingerprint < groups[j].Fingerprint
	})

	return groups
}

func sortByPath(entries []model.InventoryEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
}

// Plan derives the deletion plan for everything added so far.
func (g *Grouper) Plan(root string) *model.DeletionPlan {
	groups := g.Groups()

	plan := &model.DeletionPlan{
		Provider:   g.provider,
		Root:       root,
		CreatedAt:  g.now().UTC(),
		Groups:     len(groups),
		Candidates: []model.PlanItem{},
	}
	for _, grp := range groups {
		for _, c := range grp.Candidates {
			plan.Candidates = append(plan.Candidates, model.PlanItem{
				Path:        c.Path,
				SizeBytes:   c.SizeBytes,
				Fingerprint: grp.Fingerprint,
				Keeper:      grp.Keeper.Path,
			})
			plan.ReclaimableBytes += c.SizeBytes
		}
		plan.Protected += len(grp.Protected)
	}
	plan.ID = model.PlanID(plan.Candidates)

	g.stats.Groups = int64(len(groups))
	g.stats.Duplicates = int64(len(plan.Candidates) + plan.Protected)

	g.logger.Info("Planned %d deletions in %d groups, %d bytes reclaimable", len(plan.Candidates), plan.Groups, plan.ReclaimableBytes)
	return plan
}
