package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/crawler"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"), nil)
	require.NoError(t, err)

	assert.Equal(t, crawler.MinYear, cfg.Harvest.StartYear)
	assert.Equal(t, crawler.MaxYear, cfg.Harvest.EndYear)
	assert.Equal(t, 100, cfg.Harvest.GlobalConcurrency)
	assert.Equal(t, crawler.RunParallel, cfg.Mode())
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "cvpr_data", cfg.Output.Dir)
	assert.Equal(t, 10*time.Millisecond, cfg.FetcherConfig().Delay)
	assert.Equal(t, 30*time.Second, cfg.Timeout())
	assert.Contains(t, cfg.Cache.Dir, AppName)
}

func TestLoadWithFileOverrides(t *testing.T) {
	path := writeConfig(t, `
harvest:
  start_year: 2018
  end_year: 2020
  sequential_years: true
  global_concurrency: 12
  per_year_concurrency: 4
fetch:
  delay_ms: 50
  max_attempts: 5
  backoff_initial_ms: 100
cache:
  backend: sqlite
output:
  backend: gcs
  gcs_bucket: papers
  format: csv
pubsub:
  project_id: demo
  topic: cvpr-flushed
logging:
  development: true
  level: debug
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	req := cfg.RunRequest()
	assert.Equal(t, crawler.RunRequest{StartYear: 2018, EndYear: 2020, Mode: crawler.RunSequential}, req)

	crawl := cfg.CrawlConfig()
	assert.Equal(t, 12, crawl.GlobalConcurrency)
	assert.Equal(t, 4, crawl.YearCap())
	assert.Equal(t, "cvpr-flushed", crawl.Topic)
	require.NoError(t, crawl.Validate())

	fetch := cfg.FetcherConfig()
	assert.Equal(t, 50*time.Millisecond, fetch.Delay)
	assert.Equal(t, 5, fetch.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, fetch.Retry.BaseDelay)
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "harvest:\n  start_year: 2016\n")
	t.Setenv("CVPR_HARVEST_START_YEAR", "2019")
	t.Setenv("CVPR_OUTPUT_DIR", "/tmp/elsewhere")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 2019, cfg.Harvest.StartYear)
	assert.Equal(t, "/tmp/elsewhere", cfg.Output.Dir)
}

func TestLoadFlagsWin(t *testing.T) {
	path := writeConfig(t, "harvest:\n  global_concurrency: 7\n")

	flags := pflag.NewFlagSet("harvest", pflag.ContinueOnError)
	flags.Int("concurrency", 100, "")
	flags.Bool("sequential-years", false, "")
	flags.Bool("no-cache", false, "")
	flags.String("format", "both", "")
	require.NoError(t, flags.Parse([]string{"--concurrency=3", "--sequential-years", "--no-cache", "--format=json"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Harvest.GlobalConcurrency)
	assert.Equal(t, crawler.RunSequential, cfg.Mode())
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, "json", cfg.Output.Format)
}

func TestLoadUnsetFlagsKeepFileValues(t *testing.T) {
	path := writeConfig(t, "harvest:\n  global_concurrency: 7\n")

	flags := pflag.NewFlagSet("harvest", pflag.ContinueOnError)
	flags.Int("concurrency", 100, "")
	flags.Bool("no-cache", false, "")
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Harvest.GlobalConcurrency)
	assert.True(t, cfg.Cache.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.ErrorContains(t, err, "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Harvest: HarvestConfig{StartYear: 2015, EndYear: 2025, GlobalConcurrency: 1, PerYearConcurrency: 1},
		Fetch:   FetchConfig{TimeoutSeconds: 10},
		Cache:   CacheConfig{Backend: "fs"},
		Output:  OutputConfig{Backend: "local", Format: "both"},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"year before range", func(c *Config) { c.Harvest.StartYear = 2010 }, "within"},
		{"year after range", func(c *Config) { c.Harvest.EndYear = 2030 }, "within"},
		{"inverted range", func(c *Config) { c.Harvest.StartYear, c.Harvest.EndYear = 2020, 2018 }, "after"},
		{"zero concurrency", func(c *Config) { c.Harvest.GlobalConcurrency = 0 }, "global_concurrency"},
		{"zero per year", func(c *Config) { c.Harvest.PerYearConcurrency = 0 }, "per_year_concurrency"},
		{"zero timeout", func(c *Config) { c.Fetch.TimeoutSeconds = 0 }, "timeout_seconds"},
		{"negative delay", func(c *Config) { c.Fetch.DelayMs = -1 }, "delay_ms"},
		{"cache backend", func(c *Config) { c.Cache.Backend = "redis" }, "cache.backend"},
		{"output backend", func(c *Config) { c.Output.Backend = "s3" }, "output.backend"},
		{"gcs bucket", func(c *Config) { c.Output.Backend = "gcs" }, "gcs_bucket"},
		{"format", func(c *Config) { c.Output.Format = "xml" }, "output.format"},
		{"pubsub half set", func(c *Config) { c.PubSub.Topic = "t" }, "pubsub"},
		{"server port", func(c *Config) { c.Server.Enabled = true }, "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}
}
