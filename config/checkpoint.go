package config

import (
	"fmt"
	"os"
)

// CheckpointType represents the checkpoint store backend
type CheckpointType string

const (
	CheckpointTypeFile  CheckpointType = "file"
	CheckpointTypeBbolt CheckpointType = "bbolt"
)

// CheckpointConfig holds the configuration for the checkpoint store
type CheckpointConfig struct {
	CheckpointType CheckpointType `json:"type" yaml:"type" mapstructure:"type"`
	Archive        bool           `json:"archive,omitempty" yaml:"archive,omitempty" mapstructure:"archive"` // keep finished checkpoints instead of deleting them

	// Type-specific configs
	File  *FileStoreConfig `json:"file,omitempty" yaml:"file,omitempty" mapstructure:"file"`
	Bbolt *BboltConfig     `json:"bbolt,omitempty" yaml:"bbolt,omitempty" mapstructure:"bbolt"`
}

// FileStoreConfig holds the YAML file store configuration
type FileStoreConfig struct {
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"` // Directory holding <plan_id>.yaml files
}

// BboltConfig holds bbolt-specific configuration
type BboltConfig struct {
	Path   string      `json:"path" yaml:"path" mapstructure:"path"`                              // Path to bbolt DB file
	Bucket string      `json:"bucket" yaml:"bucket" mapstructure:"bucket"`                        // Name of the bucket for open checkpoints
	Mode   os.FileMode `json:"mode,omitempty" yaml:"mode,omitempty" mapstructure:"mode"`          // File open mode: 0600, 0644
	NoSync bool        `json:"no_sync,omitempty" yaml:"no_sync,omitempty" mapstructure:"no_sync"` // Disable fsync; unsafe for checkpoints
}

// Validate validates the checkpoint configuration
func (cc *CheckpointConfig) Validate() error {
	switch cc.CheckpointType {
	case CheckpointTypeFile:
		if cc.File == nil {
			return fmt.Errorf("file configuration is required when type is 'file'")
		}
		return cc.File.Validate()
	case CheckpointTypeBbolt:
		if cc.Bbolt == nil {
			return fmt.Errorf("bbolt configuration is required when type is 'bbolt'")
		}
		return cc.Bbolt.Validate()
	default:
		return fmt.Errorf("unsupported checkpoint type: %s", cc.CheckpointType)
	}
}

func (fc *FileStoreConfig) Validate() error {
	if fc.Dir == "" {
		return fmt.Errorf("checkpoint dir is required")
	}
	return nil
}

// ApplyDefaults sets default values for the file store
func (fc *FileStoreConfig) ApplyDefaults() {
	if fc.Dir == "" {
		fc.Dir = "./checkpoints"
	}
}

func (bc *BboltConfig) Validate() error {
	if bc.Path == "" {
		return fmt.Errorf("bbolt path is required")
	}
	if bc.Bucket == "" {
		return fmt.Errorf("bbolt bucket is required")
	}
	return nil
}

// ApplyDefaults sets default values if not provided for bbolt
func (bc *BboltConfig) ApplyDefaults() {
	if bc.Path == "" {
		bc.Path = "./checkpoints.db"
	}
	if bc.Bucket == "" {
		bc.Bucket = "checkpoints"
	}
	if bc.Mode == 0 {
		bc.Mode = 0600
	}
	// NoSync remains false by default for data safety
}
