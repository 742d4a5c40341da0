// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/beautydex/harvester/internal/fetch"
	"github.com/beautydex/harvester/internal/orchestrator"
	"github.com/beautydex/harvester/internal/storage/postgres"
)

// Config captures all knobs for both the orchestrator and the job binary.
type Config struct {
	Harvest   orchestrator.Config         `mapstructure:"harvest"`
	Source    fetch.Config                `mapstructure:"source"`
	Cache     CacheConfig                 `mapstructure:"cache"`
	Reference ReferenceConfig             `mapstructure:"reference"`
	Job       JobConfig                   `mapstructure:"job"`
	Retry     RetryConfig                 `mapstructure:"retry"`
	Resources orchestrator.ResourceLimits `mapstructure:"resources"`
	Server    ServerConfig                `mapstructure:"server"`
	DB        postgres.SummaryStoreConfig `mapstructure:"db"`
	Logging   LoggingConfig               `mapstructure:"logging"`
}

// CacheConfig controls the shared deduplication store.
type CacheConfig struct {
	Path          string `mapstructure:"path"`
	SaveFrequency int    `mapstructure:"save_frequency"`
}

// ReferenceConfig points at the catalog file items are matched against.
type ReferenceConfig struct {
	Path string `mapstructure:"path"`
}

// JobConfig tells the orchestrator how to start job processes.
type JobConfig struct {
	Binary string `mapstructure:"binary"`
}

// RetryConfig bounds re-launches of a failed job window.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("harvest.start_offset", 0)
	v.SetDefault("harvest.total_pages", 1000)
	v.SetDefault("harvest.pages_per_job", 20)
	v.SetDefault("harvest.batch_size", 100)
	v.SetDefault("harvest.threshold", 90)
	v.SetDefault("harvest.work_dir", "harvest_output")
	v.SetDefault("harvest.job_pause", "5s")
	v.SetDefault("source.offset_param", "offset")
	v.SetDefault("source.user_agent", "beautydex-harvester/0.1")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.delay", "1s")
	v.SetDefault("cache.save_frequency", 10)
	v.SetDefault("job.binary", "harvestjob")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "10s")
	v.SetDefault("retry.max_delay", "5m")
	v.SetDefault("resources.max_memory_percent", 85)
	v.SetDefault("resources.max_disk_percent", 90)
	v.SetDefault("resources.disk_path", "/")
	v.SetDefault("resources.check_interval", "30s")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.table", "job_summaries")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url must be set")
	}
	if c.Reference.Path == "" {
		return fmt.Errorf("reference.path must be set")
	}
	if c.Harvest.TotalPages <= 0 {
		return fmt.Errorf("harvest.total_pages must be > 0")
	}
	if c.Harvest.PagesPerJob <= 0 {
		return fmt.Errorf("harvest.pages_per_job must be > 0")
	}
	if c.Harvest.BatchSize <= 0 {
		return fmt.Errorf("harvest.batch_size must be > 0")
	}
	if c.Harvest.Threshold < 0 || c.Harvest.Threshold > 100 {
		return fmt.Errorf("harvest.threshold must be between 0 and 100")
	}
	if c.Cache.SaveFrequency <= 0 {
		return fmt.Errorf("cache.save_frequency must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	return nil
}
