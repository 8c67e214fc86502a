// Package config loads and validates engine configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every configuration knob the engine consumes. Values
// come from a config file, environment variables (REVIEWCRAWLER_*), or
// CLI flags bound by the cmd package.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Render  RenderConfig  `mapstructure:"render"`
	Images  ImagesConfig  `mapstructure:"images"`
	Output  OutputConfig  `mapstructure:"output"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlerConfig governs enumeration, dispatch, and retry behavior.
type CrawlerConfig struct {
	Seeds                []string      `mapstructure:"seeds"`
	UserAgent            string        `mapstructure:"user_agent"`
	Concurrency          int           `mapstructure:"concurrency"`
	PerOriginConcurrency int           `mapstructure:"per_origin_concurrency"`
	PerOriginQPS         float64       `mapstructure:"per_origin_qps"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	MaxRetries           int           `mapstructure:"max_retries"`
	BackoffInitial       time.Duration `mapstructure:"backoff_initial"`
	BackoffMax           time.Duration `mapstructure:"backoff_max"`
	MaxDepth             int           `mapstructure:"max_depth"`
	RecaptureChanged     bool          `mapstructure:"recapture_changed"`
	StartDate            string        `mapstructure:"start_date"`
	EndDate              string        `mapstructure:"end_date"`
	LinkPattern          string        `mapstructure:"link_pattern"`
}

// RenderConfig controls the headless renderer used for JS-heavy listing
// pages.
type RenderConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxConcurrency     int           `mapstructure:"max_concurrency"`
	ScrollStableRounds int           `mapstructure:"scroll_stable_rounds"`
}

// ImagesConfig holds the validator thresholds.
type ImagesConfig struct {
	MinBytes       int      `mapstructure:"min_bytes"`
	MinWidth       int      `mapstructure:"min_width"`
	MinHeight      int      `mapstructure:"min_height"`
	AllowedFormats []string `mapstructure:"allowed_formats"`
	MaxAspectRatio float64  `mapstructure:"max_aspect_ratio"`
}

// OutputConfig sets where records and the fingerprint index live.
type OutputConfig struct {
	Dir                 string `mapstructure:"dir"`
	FingerprintFile     string `mapstructure:"fingerprint_file"`
	RebuildFingerprints bool   `mapstructure:"rebuild_fingerprints"`
}

// MetricsConfig enables the Prometheus listener for the run's duration.
// An empty listen address disables it.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REVIEWCRAWLER")
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
	v.SetDefault("crawler.user_agent", "plateful-reviewcrawler/1.0")
	v.SetDefault("crawler.concurrency", 8)
	v.SetDefault("crawler.per_origin_concurrency", 2)
	v.SetDefault("crawler.per_origin_qps", 2.0)
	v.SetDefault("crawler.request_timeout", "15s")
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.backoff_initial", "250ms")
	v.SetDefault("crawler.backoff_max", "5s")
	v.SetDefault("crawler.max_depth", 1)
	v.SetDefault("crawler.recapture_changed", false)
	v.SetDefault("crawler.link_pattern", "/reviews/")
	v.SetDefault("render.enabled", false)
	v.SetDefault("render.timeout", "25s")
	v.SetDefault("render.max_concurrency", 2)
	v.SetDefault("render.scroll_stable_rounds", 5)
	v.SetDefault("images.min_bytes", 1024)
	v.SetDefault("images.min_width", 200)
	v.SetDefault("images.min_height", 200)
	v.SetDefault("images.allowed_formats", []string{"jpeg", "png", "webp"})
	v.SetDefault("images.max_aspect_ratio", 0.0)
	v.SetDefault("output.dir", "data/records")
	v.SetDefault("output.fingerprint_file", "data/fingerprints.log")
	v.SetDefault("output.rebuild_fingerprints", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Crawler.Seeds) == 0 {
		return fmt.Errorf("crawler.seeds must include at least one URL")
	}
	if c.Crawler.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.PerOriginConcurrency <= 0 {
		return fmt.Errorf("crawler.per_origin_concurrency must be > 0")
	}
	if c.Crawler.PerOriginQPS < 0 {
		return fmt.Errorf("crawler.per_origin_qps must be >= 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.Crawler.BackoffInitial <= 0 || c.Crawler.BackoffMax < c.Crawler.BackoffInitial {
		return fmt.Errorf("crawler backoff bounds are invalid")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	for _, d := range []string{c.Crawler.StartDate, c.Crawler.EndDate} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("date %q is not YYYY-MM-DD", d)
		}
	}
	if c.Render.Enabled && c.Render.MaxConcurrency <= 0 {
		return fmt.Errorf("render.max_concurrency must be > 0 when rendering is enabled")
	}
	if c.Images.MinBytes < 0 || c.Images.MinWidth < 0 || c.Images.MinHeight < 0 {
		return fmt.Errorf("image thresholds must be >= 0")
	}
	if c.Images.MaxAspectRatio < 0 {
		return fmt.Errorf("images.max_aspect_ratio must be >= 0")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must be set")
	}
	if c.Output.FingerprintFile == "" {
		return fmt.Errorf("output.fingerprint_file must be set")
	}
	return nil
}
