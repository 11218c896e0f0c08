package config

import (
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Category names an extension preset for the scan filter
type Category string

const (
	CategoryAll    Category = "all"
	CategoryPhotos Category = "photos"
	CategoryModels Category = "models"
	CategoryEbooks Category = "ebooks"
)

// ProviderMaxBatchSize is the documented upper bound of a batch-delete call.
const ProviderMaxBatchSize = 1000

// ScanConfig selects which part of the remote tree is scanned and grouped
type ScanConfig struct {
	Root         string   `json:"root" yaml:"root" mapstructure:"root"`
	Category     Category `json:"category,omitempty" yaml:"category,omitempty" mapstructure:"category"`
	Extensions   []string `json:"extensions,omitempty" yaml:"extensions,omitempty" mapstructure:"extensions"` // overrides the category preset
	Include      []string `json:"include,omitempty" yaml:"include,omitempty" mapstructure:"include"`          // doublestar globs
	Exclude      []string `json:"exclude,omitempty" yaml:"exclude,omitempty" mapstructure:"exclude"`          // doublestar globs
	MinSizeBytes int64    `json:"min_size_bytes,omitempty" yaml:"min_size_bytes,omitempty" mapstructure:"min_size_bytes"`
	DeleteScope  []string `json:"delete_scope,omitempty" yaml:"delete_scope,omitempty" mapstructure:"delete_scope"` // only matching non-keepers are deleted
	PlanFile     string   `json:"plan_file,omitempty" yaml:"plan_file,omitempty" mapstructure:"plan_file"`          // where the plan artifact is written

	// Scan checkpointing; an empty StateFile disables it
	StateFile       string `json:"state_file,omitempty" yaml:"state_file,omitempty" mapstructure:"state_file"`
	CheckpointEvery int    `json:"checkpoint_every,omitempty" yaml:"checkpoint_every,omitempty" mapstructure:"checkpoint_every"` // entries between saves
	Resume          bool   `json:"resume,omitempty" yaml:"resume,omitempty" mapstructure:"resume"`                               // continue from StateFile
}

// DeleteConfig tunes the batch deletion engine
type DeleteConfig struct {
	BatchSize       int           `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`
	InterBatchDelay time.Duration `json:"inter_batch_delay" yaml:"inter_batch_delay" mapstructure:"inter_batch_delay"`
	PostErrorDelay  time.Duration `json:"post_error_delay" yaml:"post_error_delay" mapstructure:"post_error_delay"`
	PollInterval    time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`
	MaxRetries      int           `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
	CallTimeout     time.Duration `json:"call_timeout" yaml:"call_timeout" mapstructure:"call_timeout"`
}

func (sc *ScanConfig) Validate() error {
	switch sc.Category {
	case CategoryAll, CategoryPhotos, CategoryModels, CategoryEbooks, "":
	default:
		return fmt.Errorf("unsupported category: %s (must be one of: all, photos, models, ebooks)", sc.Category)
	}
	if sc.MinSizeBytes < 0 {
		return fmt.Errorf("min_size_bytes cannot be negative")
	}
	if sc.CheckpointEvery < 0 {
		return fmt.Errorf("checkpoint_every cannot be negative")
	}
	if sc.Resume && sc.StateFile == "" {
		return fmt.Errorf("resume needs a state_file")
	}
	for _, group := range [][]string{sc.Include, sc.Exclude, sc.DeleteScope} {
		for _, p := range group {
			if !doublestar.ValidatePattern(p) {
				return fmt.Errorf("invalid glob pattern: %q", p)
			}
		}
	}
	return nil
}

func (sc *ScanConfig) ApplyDefaults() {
	if sc.Category == "" {
		sc.Category = CategoryAll
	}
	if sc.PlanFile == "" {
		sc.PlanFile = "./dupesweep-plan.json"
	}
	if sc.CheckpointEvery <= 0 {
		sc.CheckpointEvery = 10000
	}
}

func (dc *DeleteConfig) Validate() error {
	if dc.BatchSize <= 0 || dc.BatchSize > ProviderMaxBatchSize {
		return fmt.Errorf("batch_size must be between 1 and %d", ProviderMaxBatchSize)
	}
	if dc.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if dc.InterBatchDelay < 0 || dc.PostErrorDelay < 0 || dc.PollInterval < 0 || dc.CallTimeout < 0 {
		return fmt.Errorf("delays and timeouts cannot be negative")
	}
	return nil
}

// ApplyDefaults fills only the values that cannot be zero. Delays and
// max_retries keep an explicit 0; their defaults come from Load
// (2s between batches, 5s after an error, 1s job polling, 5 retries).
func (dc *DeleteConfig) ApplyDefaults() {
	if dc.BatchSize <= 0 {
		dc.BatchSize = ProviderMaxBatchSize
	}
	if dc.CallTimeout == 0 {
		dc.CallTimeout = 30 * time.Second
	}
}
