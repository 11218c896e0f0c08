// The storage configuration allows adding other providers later: add a new StorageType, extend StorageConfig and define its validation.
package config

import (
	"fmt"
	"os"
	"strings"
)

// StorageType represents the remote storage provider
type StorageType string

const (
	StorageTypeS3      StorageType = "s3"
	StorageTypeDropbox StorageType = "dropbox"
	StorageTypeFTP     StorageType = "ftp"
)

// ListingStrategy defines how the S3 provider lists a bucket
type ListingStrategy string

const (
	ListingStrategyFlat         ListingStrategy = "flat"         // Default: one recursive listing without delimiter
	ListingStrategyHierarchical ListingStrategy = "hierarchical" // Delimiter listing; prefixes become directories
)

// StorageConfig holds the configuration for the remote storage provider
type StorageConfig struct {
	StorageType StorageType `json:"type" yaml:"type" mapstructure:"type"`

	// Common options for all providers
	Common CommonStorageConfig `json:"common,omitempty" yaml:"common,omitempty" mapstructure:"common"`

	// Type-specific configurations
	S3      *S3Config      `json:"s3,omitempty" yaml:"s3,omitempty" mapstructure:"s3"`
	Dropbox *DropboxConfig `json:"dropbox,omitempty" yaml:"dropbox,omitempty" mapstructure:"dropbox"`
	FTP     *FTPConfig     `json:"ftp,omitempty" yaml:"ftp,omitempty" mapstructure:"ftp"`
}

// CommonStorageConfig contains settings applicable to every provider
type CommonStorageConfig struct {
	TimeoutSeconds  int             `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty" mapstructure:"timeout_seconds"`    // optional: per-request timeout in seconds
	MaxRetries      int             `json:"max_retries,omitempty" yaml:"max_retries,omitempty" mapstructure:"max_retries"`                // optional: retries for listing calls
	MaxRPS          int             `json:"max_rps,omitempty" yaml:"max_rps,omitempty" mapstructure:"max_rps"`                            // optional: maximum requests per second (0 = no limit)
	ListingStrategy ListingStrategy `json:"listing_strategy,omitempty" yaml:"listing_strategy,omitempty" mapstructure:"listing_strategy"` // optional: S3 listing strategy
}

// S3Config holds S3-specific configuration
type S3Config struct {
	Region          string `json:"region" yaml:"region" mapstructure:"region"`
	Bucket          string `json:"bucket" yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" mapstructure:"endpoint"` // For S3-compatible services
}

// DropboxConfig holds Dropbox-specific configuration.
// Only an already issued bearer token is consumed; the OAuth flow is not handled here.
type DropboxConfig struct {
	Token     string `json:"token,omitempty" yaml:"token,omitempty" mapstructure:"token"`
	TokenFile string `json:"token_file,omitempty" yaml:"token_file,omitempty" mapstructure:"token_file"`
	APIURL    string `json:"api_url,omitempty" yaml:"api_url,omitempty" mapstructure:"api_url"` // override for tests and proxies
}

// FTPConfig holds FTP-specific configuration
type FTPConfig struct {
	Host     string `json:"host" yaml:"host" mapstructure:"host"`
	Port     int    `json:"port" yaml:"port" mapstructure:"port"`
	Username string `json:"username" yaml:"username" mapstructure:"username"`
	Password string `json:"password,omitempty" yaml:"password,omitempty" mapstructure:"password"`
	UseTLS   bool   `json:"use_tls,omitempty" yaml:"use_tls,omitempty" mapstructure:"use_tls"` // Use FTPS (FTP over TLS)
}

// Validate ensures the configuration is valid for the specified storage type
func (sc *StorageConfig) Validate() error {
	if err := sc.Common.Validate(); err != nil {
		return err
	}

	switch sc.StorageType {
	case StorageTypeS3:
		if sc.S3 == nil {
			return fmt.Errorf("s3 configuration is required when type is 's3'")
		}
		return sc.S3.Validate()
	case StorageTypeDropbox:
		if sc.Dropbox == nil {
			return fmt.Errorf("dropbox configuration is required when type is 'dropbox'")
		}
		return sc.Dropbox.Validate()
	case StorageTypeFTP:
		if sc.FTP == nil {
			return fmt.Errorf("ftp configuration is required when type is 'ftp'")
		}
		return sc.FTP.Validate()
	default:
		return fmt.Errorf("unsupported storage type: %s", sc.StorageType)
	}
}

// Validate validates S3 configuration
func (s3c *S3Config) Validate() error {
	if s3c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if s3c.AccessKeyID == "" {
		return fmt.Errorf("s3 access key is required")
	}
	if s3c.SecretAccessKey == "" {
		return fmt.Errorf("s3 secret key is required")
	}
	return nil
}

// Validate validates Dropbox configuration
func (dc *DropboxConfig) Validate() error {
	if dc.Token == "" && dc.TokenFile == "" {
		return fmt.Errorf("dropbox token or token_file is required")
	}
	return nil
}

// ResolveToken returns the configured token, reading token_file when no inline token is set.
func (dc *DropboxConfig) ResolveToken() (string, error) {
	if dc.Token != "" {
		return dc.Token, nil
	}
	data, err := os.ReadFile(dc.TokenFile)
	if err != nil {
		return "", fmt.Errorf("reading dropbox token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("dropbox token file %s is empty", dc.TokenFile)
	}
	return token, nil
}

// ApplyDefaults sets default values for Dropbox configuration
func (dc *DropboxConfig) ApplyDefaults() {
	if dc.APIURL == "" {
		dc.APIURL = "https://api.dropboxapi.com/2"
	}
}

// Validate validates FTP configuration
func (fc *FTPConfig) Validate() error {
	if fc.Host == "" {
		return fmt.Errorf("ftp host is required")
	}
	if fc.Port <= 0 || fc.Port > 65535 {
		return fmt.Errorf("ftp port must be between 1 and 65535")
	}
	if fc.Username == "" {
		return fmt.Errorf("ftp username is required")
	}
	// Password can be empty for anonymous FTP
	return nil
}

// ApplyDefaults sets default values for FTP configuration
func (fc *FTPConfig) ApplyDefaults() {
	if fc.Port == 0 {
		fc.Port = 21
	}
}

// ApplyDefaults sets default values if they are not provided
func (c *CommonStorageConfig) ApplyDefaults() {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	// MaxRPS leave 0 (means no limit)

	if c.ListingStrategy == "" {
		c.ListingStrategy = ListingStrategyFlat
	}
}

func (c *CommonStorageConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds cannot be negative")
	}
	if c.MaxRPS < 0 {
		return fmt.Errorf("max_rps cannot be negative")
	}

	switch c.ListingStrategy {
	case ListingStrategyFlat, ListingStrategyHierarchical, "":
		// Empty is OK, will be set to default in ApplyDefaults
	default:
		return fmt.Errorf("unsupported listing strategy: %s (must be 'flat' or 'hierarchical')", c.ListingStrategy)
	}

	return nil
}
