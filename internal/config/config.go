// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/crawler"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/logging"
)

// AppName scopes XDG directories.
const AppName = "cvpr-scrape2plot"

// EnvPrefix is prepended to every environment override, e.g. CVPR_HARVEST_START_YEAR.
const EnvPrefix = "CVPR"

// Config captures every harvester knob.
type Config struct {
	Harvest  HarvestConfig  `mapstructure:"harvest"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Output   OutputConfig   `mapstructure:"output"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Server   ServerConfig   `mapstructure:"server"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  logging.Config `mapstructure:"logging"`
}

// HarvestConfig selects the years and the scheduling budget.
type HarvestConfig struct {
	StartYear            int    `mapstructure:"start_year"`
	EndYear              int    `mapstructure:"end_year"`
	SequentialYears      bool   `mapstructure:"sequential_years"`
	GlobalConcurrency    int    `mapstructure:"global_concurrency"`
	PerYearConcurrency   int    `mapstructure:"per_year_concurrency"`
	MaxIndexPages        int    `mapstructure:"max_index_pages"`
	LegacyIndexTemplate  string `mapstructure:"legacy_index_template"`
	CurrentIndexTemplate string `mapstructure:"current_index_template"`
	LegacyUntil          int    `mapstructure:"legacy_until"`
	PartialPrefix        string `mapstructure:"partial_prefix"`
}

// FetchConfig configures the HTTP transport, pacing and retries.
type FetchConfig struct {
	UserAgent          string `mapstructure:"user_agent"`
	RespectRobots      bool   `mapstructure:"respect_robots"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
	DelayMs            int    `mapstructure:"delay_ms"`
	MaxAttempts        int    `mapstructure:"max_attempts"`
	BackoffInitialMs   int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs       int    `mapstructure:"backoff_max_ms"`
	ThrottleMultiplier int    `mapstructure:"throttle_multiplier"`
	// RPS is a per-host ceiling; zero leaves pacing to DelayMs alone.
	RPS                 float64 `mapstructure:"rps"`
	Burst               int     `mapstructure:"burst"`
	MaxIdleConnsPerHost int     `mapstructure:"max_idle_conns_per_host"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Backend is fs, sqlite or memory.
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	Namespace string `mapstructure:"namespace"`
}

// OutputConfig chooses where snapshots and exports are written.
type OutputConfig struct {
	// Backend is local, gcs or memory.
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	Format    string `mapstructure:"format"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// DBConfig enables the Postgres mirror when DSN is set.
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	MaxConns    int32  `mapstructure:"max_conns"`
	RecordTable string `mapstructure:"record_table"`
	Migrate     bool   `mapstructure:"migrate"`
}

// PubSubConfig enables flush notifications when ProjectID and Topic are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the status API.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs  int `mapstructure:"sink_timeout_ms"`
}

// FlagBindings maps CLI flag names to config keys. Flags absent from the set
// passed to Load are skipped.
var FlagBindings = map[string]string{
	"start-year":       "harvest.start_year",
	"end-year":         "harvest.end_year",
	"sequential-years": "harvest.sequential_years",
	"concurrency":      "harvest.global_concurrency",
	"per-year":         "harvest.per_year_concurrency",
	"delay":            "fetch.delay_ms",
	"output-dir":       "output.dir",
	"format":           "output.format",
	"cache-dir":        "cache.dir",
	"cache-backend":    "cache.backend",
	"serve":            "server.enabled",
	"port":             "server.port",
	"log-level":        "logging.level",
	"dev":              "logging.development",
}

// Load builds a Config from defaults, an optional file, .env, the environment
// and flags, in increasing precedence. An empty path falls back to
// $XDG_CONFIG_HOME/cvpr-scrape2plot/config.yaml when it exists.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path == "" {
		if found, err := xdg.SearchConfigFile(filepath.Join(AppName, "config.yaml")); err == nil {
			path = found
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range FlagBindings {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
		// --no-cache is the negation of cache.enabled.
		if flag := flags.Lookup("no-cache"); flag != nil && flag.Changed {
			v.Set("cache.enabled", flag.Value.String() != "true")
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
	v.SetDefault("harvest.start_year", crawler.MinYear)
	v.SetDefault("harvest.end_year", crawler.MaxYear)
	v.SetDefault("harvest.sequential_years", false)
	v.SetDefault("harvest.global_concurrency", 100)
	v.SetDefault("harvest.per_year_concurrency", 100)
	v.SetDefault("harvest.max_index_pages", 16)
	v.SetDefault("harvest.legacy_index_template", crawler.DefaultLegacyIndexTemplate)
	v.SetDefault("harvest.current_index_template", crawler.DefaultCurrentIndexTemplate)
	v.SetDefault("harvest.legacy_until", crawler.DefaultLegacyUntil)
	v.SetDefault("harvest.partial_prefix", "partial")
	v.SetDefault("fetch.user_agent", "cvpr-scrape2plot/0.1 (+https://github.com/TontonTremblay/cvpr-scrape2plot)")
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.delay_ms", 10)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff_initial_ms", 250)
	v.SetDefault("fetch.backoff_max_ms", 5000)
	v.SetDefault("fetch.throttle_multiplier", 4)
	v.SetDefault("fetch.rps", 0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("fetch.max_idle_conns_per_host", 100)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", "fs")
	v.SetDefault("cache.dir", filepath.Join(xdg.CacheHome, AppName))
	v.SetDefault("cache.namespace", "v1")
	v.SetDefault("output.backend", "local")
	v.SetDefault("output.dir", "cvpr_data")
	v.SetDefault("output.format", "both")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.record_table", "papers")
	v.SetDefault("db.migrate", true)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 500)
	v.SetDefault("progress.max_batch_wait_ms", 1000)
	v.SetDefault("progress.sink_timeout_ms", 2000)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	h := c.Harvest
	if h.StartYear < crawler.MinYear || h.EndYear > crawler.MaxYear {
		return fmt.Errorf("harvest years must be within %d..%d", crawler.MinYear, crawler.MaxYear)
	}
	if h.StartYear > h.EndYear {
		return fmt.Errorf("harvest.start_year %d is after harvest.end_year %d", h.StartYear, h.EndYear)
	}
	if h.GlobalConcurrency <= 0 {
		return fmt.Errorf("harvest.global_concurrency must be > 0")
	}
	if h.PerYearConcurrency <= 0 {
		return fmt.Errorf("harvest.per_year_concurrency must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.DelayMs < 0 {
		return fmt.Errorf("fetch.delay_ms must be >= 0")
	}
	switch c.Cache.Backend {
	case "fs", "sqlite", "memory":
	default:
		return fmt.Errorf("cache.backend must be fs, sqlite or memory, got %q", c.Cache.Backend)
	}
	switch c.Output.Backend {
	case "local", "memory":
	case "gcs":
		if c.Output.GCSBucket == "" {
			return fmt.Errorf("output.gcs_bucket must be set when output.backend is gcs")
		}
	default:
		return fmt.Errorf("output.backend must be local, gcs or memory, got %q", c.Output.Backend)
	}
	switch strings.ToLower(c.Output.Format) {
	case "json", "csv", "both":
	default:
		return fmt.Errorf("output.format must be json, csv or both, got %q", c.Output.Format)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	return nil
}

// Mode maps the sequential toggle onto a run mode.
func (c Config) Mode() crawler.RunMode {
	if c.Harvest.SequentialYears {
		return crawler.RunSequential
	}
	return crawler.RunParallel
}

// RunRequest returns the year range and mode for Orchestrator.Run.
func (c Config) RunRequest() crawler.RunRequest {
	return crawler.RunRequest{StartYear: c.Harvest.StartYear, EndYear: c.Harvest.EndYear, Mode: c.Mode()}
}

// CrawlConfig converts the harvest section.
func (c Config) CrawlConfig() crawler.CrawlConfig {
	h := c.Harvest
	return crawler.CrawlConfig{
		GlobalConcurrency:    h.GlobalConcurrency,
		PerYearConcurrency:   h.PerYearConcurrency,
		MaxIndexPages:        h.MaxIndexPages,
		LegacyIndexTemplate:  h.LegacyIndexTemplate,
		CurrentIndexTemplate: h.CurrentIndexTemplate,
		LegacyUntil:          h.LegacyUntil,
		PartialPrefix:        h.PartialPrefix,
		Topic:                c.PubSub.Topic,
	}
}

// FetcherConfig converts the fetch and cache sections.
func (c Config) FetcherConfig() crawler.FetcherConfig {
	f := c.Fetch
	return crawler.FetcherConfig{
		Delay:        time.Duration(f.DelayMs) * time.Millisecond,
		CacheEnabled: c.Cache.Enabled,
		Retry: crawler.RetryOptions{
			MaxAttempts:        f.MaxAttempts,
			BaseDelay:          time.Duration(f.BackoffInitialMs) * time.Millisecond,
			MaxDelay:           time.Duration(f.BackoffMaxMs) * time.Millisecond,
			ThrottleMultiplier: f.ThrottleMultiplier,
		},
	}
}

// Timeout is the per-request transport timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}
