// Package config loads and validates the scraper configuration.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file and NAMES_* environment variables. The entry point may apply flag
// overrides afterwards and must then call Normalize and Validate again.
// Once validated, a Config is treated as read-only by every component.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/Sternrassler/names-scraper/pkg/model"
	"gopkg.in/yaml.v3"
)

// Worker pool bounds.
const (
	MinWorkers = 1
	MaxWorkers = 64
)

// Output formats.
const (
	FormatCSV      = "csv"
	FormatJSON     = "json"
	FormatSQLite   = "sqlite"
	FormatPostgres = "postgres"
	FormatXLSX     = "xlsx"
)

// Progress backends.
const (
	ProgressBackendFile  = "file"
	ProgressBackendRedis = "redis"
)

// Publish targets.
const (
	PublishNone = "none"
	PublishS3   = "s3"
)

// Config is the complete scraper configuration.
type Config struct {
	BaseURL  string            `yaml:"base_url"`
	Listings map[string]string `yaml:"listings"`

	Scraper  ScraperConfig  `yaml:"scraper"`
	Network  NetworkConfig  `yaml:"network"`
	Output   OutputConfig   `yaml:"output"`
	Progress ProgressConfig `yaml:"progress"`
	Redis    RedisConfig    `yaml:"redis"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Publish  PublishConfig  `yaml:"publish"`
}

// ScraperConfig controls the worker pool and page enumeration.
type ScraperConfig struct {
	// Categories to scrape; empty means every listing.
	Categories []string `yaml:"categories"`

	// Workers is clamped to [MinWorkers, MaxWorkers].
	Workers int `yaml:"workers"`

	// MaxPages > 0 enables bounded mode.
	MaxPages int `yaml:"max_pages"`

	// TestMode enables bounded mode with TestModePages pages per category.
	TestMode      bool `yaml:"test_mode"`
	TestModePages int  `yaml:"test_mode_pages"`

	// SaveInterval is the number of completed pages between progress flushes.
	SaveInterval int `yaml:"save_interval"`

	// RetryFailedPasses re-dispatches failed pages after RetryDelay.
	RetryFailedPasses int           `yaml:"retry_failed_passes"`
	RetryDelay        time.Duration `yaml:"retry_delay"`

	ProgressLogEvery int `yaml:"progress_log_every"`
}

// NetworkConfig controls the fetcher.
type NetworkConfig struct {
	MaxRetries        int               `yaml:"max_retries"`
	BackoffFactor     time.Duration     `yaml:"backoff_factor"`
	MaxBackoff        time.Duration     `yaml:"max_backoff"`
	Timeout           time.Duration     `yaml:"timeout"`
	MaxConnections    int               `yaml:"max_connections"`
	RetryableStatuses []int             `yaml:"retryable_statuses"`
	RequestsPerSecond float64           `yaml:"requests_per_second"`
	Burst             int               `yaml:"burst"`
	UserAgent         string            `yaml:"user_agent"`
	Headers           map[string]string `yaml:"headers"`
}

// OutputConfig names the artifacts written by a run.
type OutputConfig struct {
	Dir         string   `yaml:"dir"`
	Formats     []string `yaml:"formats"`
	CSVFile     string   `yaml:"csv_file"`
	JSONFile    string   `yaml:"json_file"`
	SQLiteFile  string   `yaml:"sqlite_file"`
	XLSXFile    string   `yaml:"xlsx_file"`
	PostgresDSN string   `yaml:"postgres_dsn"`
	SummaryFile string   `yaml:"summary_file"`
}

// ProgressConfig selects where resumable progress is kept.
type ProgressConfig struct {
	Backend string `yaml:"backend"`
	File    string `yaml:"file"`

	// Fresh ignores previously persisted progress.
	Fresh bool `yaml:"fresh"`
}

// RedisConfig is shared by the Redis progress store and the page cache.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// CacheConfig enables the Redis page cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// PublishConfig describes the optional post-run upload.
type PublishConfig struct {
	Target      string   `yaml:"target"`
	Bucket      string   `yaml:"bucket"`
	Prefix      string   `yaml:"prefix"`
	Region      string   `yaml:"region"`
	Endpoint    string   `yaml:"endpoint"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Visibility  string   `yaml:"visibility"`
	Tags        []string `yaml:"tags"`
}

// Default returns the configuration used when nothing else is supplied.
func Default() Config {
	return Config{
		BaseURL: "https://muslimnames.com",
		Listings: map[string]string{
			string(model.Male):   "/boy-names",
			string(model.Female): "/girl-names",
		},
		Scraper: ScraperConfig{
			Workers:           16,
			TestModePages:     2,
			SaveInterval:      10,
			RetryFailedPasses: 1,
			RetryDelay:        2 * time.Second,
			ProgressLogEvery:  50,
		},
		Network: NetworkConfig{
			MaxRetries:        3,
			BackoffFactor:     300 * time.Millisecond,
			MaxBackoff:        30 * time.Second,
			Timeout:           15 * time.Second,
			MaxConnections:    32,
			RetryableStatuses: []int{429, 500, 502, 503, 504},
			RequestsPerSecond: 10,
			Burst:             16,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
			Headers: map[string]string{
				"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
				"Accept-Language": "en-US,en;q=0.5",
			},
		},
		Output: OutputConfig{
			Dir:         "data",
			Formats:     []string{FormatCSV, FormatJSON, FormatSQLite},
			CSVFile:     "muslim_names.csv",
			JSONFile:    "muslim_names.json",
			SQLiteFile:  "muslim_names.db",
			XLSXFile:    "muslim_names.xlsx",
			SummaryFile: "summary.json",
		},
		Progress: ProgressConfig{
			Backend: ProgressBackendFile,
			File:    "progress.json",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "names",
		},
		Cache: CacheConfig{
			TTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Publish: PublishConfig{
			Target:      PublishNone,
			Title:       "Muslim Names Dataset",
			Description: "Islamic names with meanings, native script spelling and gender, scraped from muslimnames.com",
			Visibility:  "public",
			Tags:        []string{"names", "islamic", "arabic", "culture"},
		},
	}
}

// Load resolves the configuration from defaults, the YAML file at path (if
// non-empty) and the environment. The result is normalized and validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, &ConfigurationError{Field: "config", Reason: "cannot open file", Err: err}
		}
		defer f.Close()

		if err := decodeYAML(f, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeYAML overlays the document in r onto cfg. Unknown keys are rejected.
func decodeYAML(r io.Reader, cfg *Config) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return &ConfigurationError{Field: "config", Reason: "cannot read file", Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return &ConfigurationError{Field: "config", Reason: "invalid YAML", Err: err}
	}
	return nil
}

// Normalize clamps bounded values and fills derived defaults.
func (c Config) Normalize() Config {
	if c.Scraper.Workers < MinWorkers {
		c.Scraper.Workers = MinWorkers
	}
	if c.Scraper.Workers > MaxWorkers {
		c.Scraper.Workers = MaxWorkers
	}
	if c.Scraper.TestMode && c.Scraper.MaxPages == 0 {
		c.Scraper.MaxPages = c.Scraper.TestModePages
	}
	if c.Scraper.ProgressLogEvery <= 0 {
		c.Scraper.ProgressLogEvery = 50
	}
	if c.Network.MaxBackoff < c.Network.BackoffFactor {
		c.Network.MaxBackoff = c.Network.BackoffFactor
	}
	if c.Network.Burst < 1 {
		c.Network.Burst = 1
	}
	if c.Progress.Backend == "" {
		c.Progress.Backend = ProgressBackendFile
	}
	if c.Publish.Target == "" {
		c.Publish.Target = PublishNone
	}
	return c
}

// Validate reports the first invalid setting as a *ConfigurationError.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigurationError{Field: "base_url", Reason: fmt.Sprintf("must be an absolute URL, got %q", c.BaseURL)}
	}

	if len(c.Listings) == 0 {
		return &ConfigurationError{Field: "listings", Reason: "at least one listing is required"}
	}
	for name, path := range c.Listings {
		if _, err := model.ParseCategory(name); err != nil {
			return &ConfigurationError{Field: "listings", Reason: err.Error()}
		}
		if path == "" {
			return &ConfigurationError{Field: "listings." + name, Reason: "path is required"}
		}
	}
	if _, err := c.CategoryList(); err != nil {
		return err
	}

	if c.Scraper.MaxPages < 0 {
		return &ConfigurationError{Field: "scraper.max_pages", Reason: "must be >= 0"}
	}
	if c.Scraper.TestMode && c.Scraper.TestModePages < 1 {
		return &ConfigurationError{Field: "scraper.test_mode_pages", Reason: "must be >= 1 in test mode"}
	}
	if c.Scraper.SaveInterval < 1 {
		return &ConfigurationError{Field: "scraper.save_interval", Reason: "must be >= 1"}
	}
	if c.Scraper.RetryFailedPasses < 0 {
		return &ConfigurationError{Field: "scraper.retry_failed_passes", Reason: "must be >= 0"}
	}
	if c.Scraper.RetryDelay < 0 {
		return &ConfigurationError{Field: "scraper.retry_delay", Reason: "must be >= 0"}
	}

	if c.Network.MaxRetries < 1 {
		return &ConfigurationError{Field: "network.max_retries", Reason: "must be >= 1"}
	}
	if c.Network.BackoffFactor <= 0 {
		return &ConfigurationError{Field: "network.backoff_factor", Reason: "must be > 0"}
	}
	if c.Network.Timeout <= 0 {
		return &ConfigurationError{Field: "network.timeout", Reason: "must be > 0"}
	}
	if c.Network.MaxConnections < 1 {
		return &ConfigurationError{Field: "network.max_connections", Reason: "must be >= 1"}
	}
	if c.Network.RequestsPerSecond < 0 {
		return &ConfigurationError{Field: "network.requests_per_second", Reason: "must be >= 0"}
	}
	for _, code := range c.Network.RetryableStatuses {
		if code < 400 || code > 599 {
			return &ConfigurationError{Field: "network.retryable_statuses", Reason: fmt.Sprintf("status %d is not an HTTP error code", code)}
		}
	}
	if c.Network.UserAgent == "" {
		return &ConfigurationError{Field: "network.user_agent", Reason: "is required"}
	}

	if c.Output.Dir == "" {
		return &ConfigurationError{Field: "output.dir", Reason: "is required"}
	}
	if len(c.Output.Formats) == 0 {
		return &ConfigurationError{Field: "output.formats", Reason: "at least one format is required"}
	}
	for _, f := range c.Output.Formats {
		switch f {
		case FormatCSV, FormatJSON, FormatSQLite, FormatXLSX:
		case FormatPostgres:
			if c.Output.PostgresDSN == "" {
				return &ConfigurationError{Field: "output.postgres_dsn", Reason: "is required for the postgres format"}
			}
		default:
			return &ConfigurationError{Field: "output.formats", Reason: fmt.Sprintf("unknown format %q", f)}
		}
	}

	switch c.Progress.Backend {
	case ProgressBackendFile:
		if c.Progress.File == "" {
			return &ConfigurationError{Field: "progress.file", Reason: "is required for the file backend"}
		}
	case ProgressBackendRedis:
		if c.Redis.Addr == "" {
			return &ConfigurationError{Field: "redis.addr", Reason: "is required for the redis backend"}
		}
	default:
		return &ConfigurationError{Field: "progress.backend", Reason: fmt.Sprintf("unknown backend %q", c.Progress.Backend)}
	}

	if c.Cache.Enabled {
		if c.Redis.Addr == "" {
			return &ConfigurationError{Field: "redis.addr", Reason: "is required when the page cache is enabled"}
		}
		if c.Cache.TTL <= 0 {
			return &ConfigurationError{Field: "cache.ttl", Reason: "must be > 0"}
		}
	}

	switch c.Publish.Target {
	case PublishNone:
	case PublishS3:
		if c.Publish.Bucket == "" {
			return &ConfigurationError{Field: "publish.bucket", Reason: "is required for the s3 target"}
		}
	default:
		return &ConfigurationError{Field: "publish.target", Reason: fmt.Sprintf("unknown target %q", c.Publish.Target)}
	}

	return nil
}

// CategoryList returns the categories selected for this run.
func (c Config) CategoryList() ([]model.Category, error) {
	if len(c.Scraper.Categories) == 0 {
		var out []model.Category
		for _, cat := range model.Categories {
			if _, ok := c.Listings[string(cat)]; ok {
				out = append(out, cat)
			}
		}
		return out, nil
	}

	seen := make(map[model.Category]bool)
	out := make([]model.Category, 0, len(c.Scraper.Categories))
	for _, name := range c.Scraper.Categories {
		cat, err := model.ParseCategory(name)
		if err != nil {
			return nil, &ConfigurationError{Field: "scraper.categories", Reason: err.Error()}
		}
		if _, ok := c.Listings[string(cat)]; !ok {
			return nil, &ConfigurationError{Field: "scraper.categories", Reason: fmt.Sprintf("no listing configured for %q", cat)}
		}
		if !seen[cat] {
			seen[cat] = true
			out = append(out, cat)
		}
	}
	return out, nil
}

// ListingURL returns the first-page URL of a category.
func (c Config) ListingURL(cat model.Category) string {
	return c.BaseURL + c.Listings[string(cat)]
}

// OutputPath joins name onto the output directory. Absolute names are
// returned unchanged.
func (c Config) OutputPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Output.Dir, name)
}

// HasFormat reports whether format is enabled.
func (c Config) HasFormat(format string) bool {
	for _, f := range c.Output.Formats {
		if f == format {
			return true
		}
	}
	return false
}
