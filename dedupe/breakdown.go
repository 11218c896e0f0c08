package dedupe

import (
	"path"
	"sort"
	"strings"

	"github.com/olegkotsar/dupesweep/model"
)

// Bucket totals the planned deletions that share one key.
type Bucket struct {
	Key   string
	Files int
	Bytes int64
}

// GroupSummary describes one duplicate group of a plan.
type GroupSummary struct {
	Fingerprint string
	Keeper      string
	Copies      int // keeper plus planned deletions
	SizeBytes   int64
	Reclaimable int64
}

// Breakdown shows where the reclaimable bytes of a plan are.
type Breakdown struct {
	ByFolder    []Bucket // top-level folder of each candidate
	ByExtension []Bucket
	Largest     []GroupSummary
}

// Summarize breaks plan down by top-level folder, by extension and by group.
// Each list is sorted by bytes, largest first, and cut to top entries; top <= 0
// keeps everything.
func Summarize(plan *model.DeletionPlan, top int) Breakdown {
	folders := map[string]*Bucket{}
	exts := map[string]*Bucket{}
	groups := map[string]*GroupSummary{}

	for _, c := range plan.Candidates {
		add(folders, topFolder(c.Path), c.SizeBytes)
		add(exts, extension(c.Path), c.SizeBytes)

		g, ok := groups[c.Fingerprint]
		if !ok {
			g = &GroupSummary{Fingerprint: c.Fingerprint, Keeper: c.Keeper, Copies: 1, SizeBytes: c.SizeBytes}
			groups[c.Fingerprint] = g
		}
		g.Copies++
		g.Reclaimable += c.SizeBytes
	}

	b := Breakdown{
		ByFolder:    sortBuckets(folders, top),
		ByExtension: sortBuckets(exts, top),
	}
	for _, g := range groups {
		b.Largest = append(b.Largest, *g)
	}
	sort.Slice(b.Largest, func(i, j int) bool {
		if b.Largest[i].Reclaimable != b.Largest[j].Reclaimable {
			return b.Largest[i].Reclaimable > b.Largest[j].Reclaimable
		}
		return b.Largest[i].Fingerprint < b.Largest[j].Fingerprint
	})
	if top > 0 && len(b.Largest) > top {
		b.Largest = b.Largest[:top]
	}
	return b
}

func add(m map[string]*Bucket, key string, size int64) {
	b, ok := m[key]
	if !ok {
		b = &Bucket{Key: key}
		m[key] = b
	}
	b.Files++
	b.Bytes += size
}

func sortBuckets(m map[string]*Bucket, top int) []Bucket {
	out := make([]Bucket, 0, len(m))
	for _, b := range m {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bytes != out[j].Bytes {
			return out[i].Bytes > out[j].Bytes
		}
		return out[i].Key < out[j].Key
	})
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out
}

// topFolder returns "/Photos" for "/Photos/2020/a.jpg" and "/" for "/a.jpg".
func topFolder(p string) string {
	trimmed := strings.TrimPrefix(p, "/")
	i := strings.IndexByte(trimmed, '/')
	if i < 0 {
		return "/"
	}
	return "/" + trimmed[:i]
}

func extension(p string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if ext == "" {
		return "(none)"
	}
	return ext
}
