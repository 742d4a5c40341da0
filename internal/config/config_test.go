package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
source:
  base_url: "https://catalog.example.com"
  listing_path: "/products/all"
  link_selector: "a[href^='/products/']"
reference:
  path: "reference.json"
`

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Harvest.PagesPerJob)
	assert.Equal(t, 100, cfg.Harvest.BatchSize)
	assert.Equal(t, 90, cfg.Harvest.Threshold)
	assert.Equal(t, 5*time.Second, cfg.Harvest.JobPause)
	assert.Equal(t, "offset", cfg.Source.OffsetParam)
	assert.Equal(t, 30*time.Second, cfg.Source.Timeout)
	assert.Equal(t, 10, cfg.Cache.SaveFrequency)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Retry.BaseDelay)
	assert.InDelta(t, 85.0, cfg.Resources.MaxMemoryPercent, 1e-9)
	assert.Equal(t, "job_summaries", cfg.DB.Table)
	assert.True(t, cfg.Logging.Development)
	assert.False(t, cfg.Server.Enabled)
}

func TestLoadOverridesFromFile(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `
source:
  base_url: "https://catalog.example.com"
  listing_path: "/products/all"
  link_selector: "a[href^='/products/']"
  selectors:
    name: "span.product-name"
    brand: "span.product-brand"
reference:
  path: "reference.json"
harvest:
  total_pages: 250
  pages_per_job: 10
  threshold: 85
  work_dir: "/var/harvest"
retry:
  max_attempts: 5
server:
  enabled: true
  port: 9090
`))
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Harvest.TotalPages)
	assert.Equal(t, 10, cfg.Harvest.PagesPerJob)
	assert.Equal(t, 85, cfg.Harvest.Threshold)
	assert.Equal(t, "/var/harvest", cfg.Harvest.WorkDir)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "span.product-name", cfg.Source.Selectors.Name)
	assert.Equal(t, "span.product-brand", cfg.Source.Selectors.Brand)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
	}{
		{"missing base url", `
reference:
  path: "reference.json"
`},
		{"missing reference path", `
source:
  base_url: "https://catalog.example.com"
`},
		{"zero pages per job", minimalConfig + `
harvest:
  pages_per_job: 0
`},
		{"threshold out of range", minimalConfig + `
harvest:
  threshold: 120
`},
		{"zero save frequency", minimalConfig + `
cache:
  save_frequency: 0
`},
		{"server enabled without port", minimalConfig + `
server:
  enabled: true
  port: 0
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
