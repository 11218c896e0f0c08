package model

import "time"

// ScanState is the saved progress of an unfinished scan: the listing cursor
// and every entry inventoried before it.
type ScanState struct {
	Key       string           `json:"key"` // identifies provider, root and filter
	Provider  string           `json:"provider"`
	Root      string           `json:"root"`
	Queue     []string         `json:"queue"` // directories still to list, Queue[0] first
	PageToken string           `json:"page_token,omitempty"`
	Entries   []InventoryEntry `json:"entries"`
	UpdatedAt time.Time        `json:"updated_at"`
}
