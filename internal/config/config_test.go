package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
crawler:
  seeds: ["https://example.com/la/reviews"]
  user_agent: test-agent
  concurrency: 12
  per_origin_concurrency: 3
  per_origin_qps: 1.5
  request_timeout: 20s
  max_retries: 5
  backoff_initial: 100ms
  backoff_max: 2s
  max_depth: 2
  recapture_changed: true
  start_date: "2024-01-01"
  end_date: "2024-12-31"
render:
  enabled: true
  timeout: 40s
  max_concurrency: 3
  scroll_stable_rounds: 7
images:
  min_bytes: 2048
  min_width: 300
  min_height: 300
  allowed_formats: ["jpeg", "png"]
  max_aspect_ratio: 4.0
output:
  dir: /tmp/records
  fingerprint_file: /tmp/fingerprints.log
logging:
  development: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Crawler.Concurrency != 12 || cfg.Crawler.MaxDepth != 2 {
		t.Fatalf("expected crawler overrides to apply, got %+v", cfg.Crawler)
	}
	if cfg.Crawler.RequestTimeout != 20*time.Second {
		t.Fatalf("expected request_timeout 20s, got %v", cfg.Crawler.RequestTimeout)
	}
	if !cfg.Crawler.RecaptureChanged {
		t.Fatalf("expected recapture_changed to be true")
	}
	if !cfg.Render.Enabled || cfg.Render.ScrollStableRounds != 7 {
		t.Fatalf("expected render overrides to apply, got %+v", cfg.Render)
	}
	if cfg.Images.MinWidth != 300 || len(cfg.Images.AllowedFormats) != 2 {
		t.Fatalf("expected image overrides to apply, got %+v", cfg.Images)
	}
	if cfg.Output.Dir != "/tmp/records" {
		t.Fatalf("expected output dir override, got %q", cfg.Output.Dir)
	}
	if !cfg.Logging.Development {
		t.Fatalf("expected logging development true")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
crawler:
  seeds: ["https://example.com/la/reviews"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Crawler.Concurrency != 8 {
		t.Fatalf("expected default concurrency 8, got %d", cfg.Crawler.Concurrency)
	}
	if cfg.Crawler.RequestTimeout != 15*time.Second {
		t.Fatalf("expected default request_timeout 15s, got %v", cfg.Crawler.RequestTimeout)
	}
	if cfg.Crawler.MaxDepth != 1 {
		t.Fatalf("expected default max_depth 1, got %d", cfg.Crawler.MaxDepth)
	}
	if cfg.Crawler.LinkPattern != "/reviews/" {
		t.Fatalf("expected default link_pattern, got %q", cfg.Crawler.LinkPattern)
	}
	if cfg.Images.MinBytes != 1024 {
		t.Fatalf("expected default min_bytes 1024, got %d", cfg.Images.MinBytes)
	}
	if cfg.Output.FingerprintFile != "data/fingerprints.log" {
		t.Fatalf("expected default fingerprint file, got %q", cfg.Output.FingerprintFile)
	}
	if cfg.Metrics.Listen != "" {
		t.Fatalf("expected metrics listener off by default, got %q", cfg.Metrics.Listen)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			Crawler: CrawlerConfig{
				Seeds:                []string{"https://example.com/la/reviews"},
				UserAgent:            "test-agent",
				Concurrency:          4,
				PerOriginConcurrency: 2,
				PerOriginQPS:         2,
				RequestTimeout:       10 * time.Second,
				MaxRetries:           3,
				BackoffInitial:       100 * time.Millisecond,
				BackoffMax:           time.Second,
				MaxDepth:             1,
			},
			Images: ImagesConfig{MinBytes: 1024, MinWidth: 200, MinHeight: 200},
			Output: OutputConfig{Dir: "data/records", FingerprintFile: "data/fp.log"},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("expected valid base config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no seeds", func(c *Config) { c.Crawler.Seeds = nil }},
		{"no user agent", func(c *Config) { c.Crawler.UserAgent = "" }},
		{"zero concurrency", func(c *Config) { c.Crawler.Concurrency = 0 }},
		{"zero per-origin", func(c *Config) { c.Crawler.PerOriginConcurrency = 0 }},
		{"negative qps", func(c *Config) { c.Crawler.PerOriginQPS = -1 }},
		{"zero timeout", func(c *Config) { c.Crawler.RequestTimeout = 0 }},
		{"negative retries", func(c *Config) { c.Crawler.MaxRetries = -1 }},
		{"inverted backoff", func(c *Config) { c.Crawler.BackoffMax = time.Millisecond }},
		{"negative depth", func(c *Config) { c.Crawler.MaxDepth = -1 }},
		{"bad start date", func(c *Config) { c.Crawler.StartDate = "March 1" }},
		{"bad end date", func(c *Config) { c.Crawler.EndDate = "2024-13-99" }},
		{"render on without slots", func(c *Config) { c.Render.Enabled = true; c.Render.MaxConcurrency = 0 }},
		{"negative image bytes", func(c *Config) { c.Images.MinBytes = -1 }},
		{"negative aspect", func(c *Config) { c.Images.MaxAspectRatio = -1 }},
		{"no output dir", func(c *Config) { c.Output.Dir = "" }},
		{"no fingerprint file", func(c *Config) { c.Output.FingerprintFile = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
