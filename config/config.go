package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. DUPESWEEP_STORAGE_TYPE.
const EnvPrefix = "DUPESWEEP"

// AppConfig represents the complete application configuration
type AppConfig struct {
	Storage    StorageConfig    `json:"storage" yaml:"storage" mapstructure:"storage"`
	Scan       ScanConfig       `json:"scan" yaml:"scan" mapstructure:"scan"`
	Delete     DeleteConfig     `json:"delete" yaml:"delete" mapstructure:"delete"`
	Checkpoint CheckpointConfig `json:"checkpoint" yaml:"checkpoint" mapstructure:"checkpoint"`
	Logger     LoggerConfig     `json:"logger" yaml:"logger" mapstructure:"logger"`
}

// Validate validates the entire configuration
func (ac *AppConfig) Validate() error {
	if err := ac.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config error: %w", err)
	}
	if err := ac.Scan.Validate(); err != nil {
		return fmt.Errorf("scan config error: %w", err)
	}
	if err := ac.Delete.Validate(); err != nil {
		return fmt.Errorf("delete config error: %w", err)
	}
	if err := ac.Checkpoint.Validate(); err != nil {
		return fmt.Errorf("checkpoint config error: %w", err)
	}
	if err := ac.Logger.Validate(); err != nil {
		return fmt.Errorf("logger config error: %w", err)
	}
	return nil
}

// ApplyDefaults applies default values to all components
func (ac *AppConfig) ApplyDefaults() {
	ac.Storage.Common.ApplyDefaults()
	ac.Scan.ApplyDefaults()
	ac.Delete.ApplyDefaults()
	ac.Logger.ApplyDefaults()

	if ac.Storage.Dropbox != nil {
		ac.Storage.Dropbox.ApplyDefaults()
	}
	if ac.Storage.FTP != nil {
		ac.Storage.FTP.ApplyDefaults()
	}
	if ac.Checkpoint.CheckpointType == "" {
		ac.Checkpoint.CheckpointType = CheckpointTypeFile
	}
	if ac.Checkpoint.File == nil {
		ac.Checkpoint.File = &FileStoreConfig{}
	}
	ac.Checkpoint.File.ApplyDefaults()
	if ac.Checkpoint.Bbolt == nil {
		ac.Checkpoint.Bbolt = &BboltConfig{}
	}
	ac.Checkpoint.Bbolt.ApplyDefaults()
}

// Load builds the configuration from, in increasing precedence: defaults,
// the optional YAML config file, DUPESWEEP_* environment variables and
// command-line flags. bindings maps flag names to configuration keys.
func Load(configFile string, flags *pflag.FlagSet, bindings map[string]string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	if flags != nil {
		for name, key := range bindings {
			f := flags.Lookup(name)
			if f == nil {
				return nil, fmt.Errorf("unknown flag binding %q", name)
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.ApplyDefaults()

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.type", string(StorageTypeDropbox))
	v.SetDefault("storage.common.timeout_seconds", 30)
	v.SetDefault("storage.common.max_retries", 3)
	v.SetDefault("storage.common.max_rps", 0)
	v.SetDefault("storage.common.listing_strategy", string(ListingStrategyFlat))

	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.endpoint", "")

	v.SetDefault("storage.dropbox.token", "")
	v.SetDefault("storage.dropbox.token_file", "")
	v.SetDefault("storage.dropbox.api_url", "https://api.dropboxapi.com/2")

	v.SetDefault("storage.ftp.host", "")
	v.SetDefault("storage.ftp.port", 21)
	v.SetDefault("storage.ftp.username", "")
	v.SetDefault("storage.ftp.password", "")
	v.SetDefault("storage.ftp.use_tls", false)

	v.SetDefault("scan.root", "")
	v.SetDefault("scan.category", string(CategoryAll))
	v.SetDefault("scan.extensions", []string{})
	v.SetDefault("scan.include", []string{})
	v.SetDefault("scan.exclude", []string{})
	v.SetDefault("scan.min_size_bytes", 0)
	v.SetDefault("scan.delete_scope", []string{})
	v.SetDefault("scan.plan_file", "./dupesweep-plan.json")
	v.SetDefault("scan.state_file", "./dupesweep-scan.json")
	v.SetDefault("scan.checkpoint_every", 10000)
	v.SetDefault("scan.resume", false)

	v.SetDefault("delete.batch_size", ProviderMaxBatchSize)
	v.SetDefault("delete.inter_batch_delay", "2s")
	v.SetDefault("delete.post_error_delay", "5s")
	v.SetDefault("delete.poll_interval", "1s")
	v.SetDefault("delete.max_retries", 5)
	v.SetDefault("delete.call_timeout", "30s")

	v.SetDefault("checkpoint.type", string(CheckpointTypeFile))
	v.SetDefault("checkpoint.archive", false)
	v.SetDefault("checkpoint.file.dir", "./checkpoints")
	v.SetDefault("checkpoint.bbolt.path", "./checkpoints.db")
	v.SetDefault("checkpoint.bbolt.bucket", "checkpoints")
	v.SetDefault("checkpoint.bbolt.mode", 0600)
	v.SetDefault("checkpoint.bbolt.no_sync", false)

	v.SetDefault("logger.level", string(LogLevelInfo))
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.time_format", "2006-01-02 15:04:05")
	v.SetDefault("logger.json", false)
}
