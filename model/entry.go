package model

import (
	"strings"
	"time"
)

type EntryType int

const (
	EntryFile EntryType = iota
	EntryDir
)

func (t EntryType) String() string {
	if t == EntryDir {
		return "dir"
	}
	return "file"
}

// RemoteEntry is one row of a provider listing page.
type RemoteEntry struct {
	Path        string
	Type        EntryType
	Size        int64
	Fingerprint string
	ModifiedAt  time.Time // zero when the provider does not report it
}

// InventoryEntry is an immutable snapshot of one remote file.
type InventoryEntry struct {
	Path        string    `json:"path"`
	SizeBytes   int64     `json:"size_bytes"`
	Fingerprint string    `json:"content_fingerprint"`
	ModifiedAt  time.Time `json:"modified_at,omitempty"`
}

func (e RemoteEntry) Inventory() InventoryEntry {
	return InventoryEntry{
		Path:        e.Path,
		SizeBytes:   e.Size,
		Fingerprint: e.Fingerprint,
		ModifiedAt:  e.ModifiedAt,
	}
}

// Depth returns the number of non-empty "/"-delimited segments of the path.
func (e InventoryEntry) Depth() int {
	n := 0
	for _, seg := range strings.Split(e.Path, "/") {
		if seg != "" {
			n++
		}
	}
	return n
}
