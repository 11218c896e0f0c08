package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DuplicateGroup holds two or more entries sharing one content fingerprint.
type DuplicateGroup struct {
	Fingerprint string
	Keeper      InventoryEntry
	Candidates  []InventoryEntry // non-keepers selected for deletion
	Protected   []InventoryEntry // non-keepers outside the delete scope
}

func (g *DuplicateGroup) Size() int {
	return 1 + len(g.Candidates) + len(g.Protected)
}

func (g *DuplicateGroup) ReclaimableBytes() int64 {
	var total int64
	for _, c := range g.Candidates {
		total += c.SizeBytes
	}
	return total
}

// PlanItem is one delete candidate of a DeletionPlan.
type PlanItem struct {
	Path        string `json:"path" yaml:"path"`
	SizeBytes   int64  `json:"size_bytes" yaml:"size_bytes"`
	Fingerprint string `json:"content_fingerprint" yaml:"content_fingerprint"`
	Keeper      string `json:"keeper" yaml:"keeper"`
}

// DeletionPlan is the ordered list of paths a deletion run must remove.
type DeletionPlan struct {
	ID               string     `json:"id" yaml:"id"`
	Provider         string     `json:"provider,omitempty" yaml:"provider,omitempty"`
	Root             string     `json:"root" yaml:"root"`
	CreatedAt        time.Time  `json:"created_at" yaml:"created_at"`
	Groups           int        `json:"groups" yaml:"groups"`
	Protected        int        `json:"protected,omitempty" yaml:"protected,omitempty"` // non-keepers left alone by the delete scope
	ReclaimableBytes int64      `json:"reclaimable_bytes" yaml:"reclaimable_bytes"`
	Candidates       []PlanItem `json:"candidates" yaml:"candidates"`
}

// PlanID fingerprints the ordered set of candidate paths.
func PlanID(items []PlanItem) string {
	h := sha256.New()
	for _, it := range items {
		h.Write([]byte(it.Path))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (p *DeletionPlan) Paths() []string {
	paths := make([]string, len(p.Candidates))
	for i, c := range p.Candidates {
		paths[i] = c.Path
	}
	return paths
}
