package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/names-scraper/pkg/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default().Normalize()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should validate, got %v", err)
	}

	if cfg.Scraper.Workers != 16 {
		t.Errorf("Workers = %d, want 16", cfg.Scraper.Workers)
	}
	if cfg.Network.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Network.MaxRetries)
	}
	if cfg.Network.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v, want 15s", cfg.Network.Timeout)
	}
	if cfg.Network.MaxConnections != 32 {
		t.Errorf("MaxConnections = %d, want 32", cfg.Network.MaxConnections)
	}
	if cfg.Scraper.SaveInterval != 10 {
		t.Errorf("SaveInterval = %d, want 10", cfg.Scraper.SaveInterval)
	}
	if got := cfg.ListingURL(model.Female); got != "https://muslimnames.com/girl-names" {
		t.Errorf("ListingURL(female) = %q", got)
	}
}

func TestLoad_YAMLOverlay(t *testing.T) {
	path := writeConfig(t, `
base_url: http://localhost:9999
scraper:
  workers: 4
  categories: [girls]
network:
  timeout: 2s
  backoff_factor: 10ms
output:
  dir: out
  formats: [csv, json]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BaseURL != "http://localhost:9999" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Scraper.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Scraper.Workers)
	}
	if cfg.Network.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v, want 2s", cfg.Network.Timeout)
	}
	if cfg.Network.MaxRetries != 3 {
		t.Errorf("MaxRetries should keep its default, got %d", cfg.Network.MaxRetries)
	}
	if cfg.OutputPath("x.csv") != filepath.Join("out", "x.csv") {
		t.Errorf("OutputPath = %q", cfg.OutputPath("x.csv"))
	}
	if abs := filepath.Join(string(filepath.Separator), "tmp", "p.json"); cfg.OutputPath(abs) != abs {
		t.Errorf("OutputPath(%q) = %q, want it unchanged", abs, cfg.OutputPath(abs))
	}

	cats, err := cfg.CategoryList()
	if err != nil {
		t.Fatalf("CategoryList() error = %v", err)
	}
	if len(cats) != 1 || cats[0] != model.Female {
		t.Errorf("CategoryList() = %v, want [female]", cats)
	}
}

func TestLoad_UnknownKeyFails(t *testing.T) {
	path := writeConfig(t, "scraper:\n  wokers: 3\n")

	_, err := Load(path)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load() error = %v, want ErrInvalid", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Load() error = %v, want *ConfigurationError", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NAMES_WORKERS", "200")
	t.Setenv("NAMES_FORMATS", "csv, sqlite")
	t.Setenv("NAMES_TIMEOUT", "3s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scraper.Workers != MaxWorkers {
		t.Errorf("Workers = %d, want clamp to %d", cfg.Scraper.Workers, MaxWorkers)
	}
	if len(cfg.Output.Formats) != 2 || !cfg.HasFormat(FormatSQLite) {
		t.Errorf("Formats = %v", cfg.Output.Formats)
	}
	if cfg.Network.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", cfg.Network.Timeout)
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("NAMES_WORKERS", "many")

	if _, err := Load(""); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load() error = %v, want ErrInvalid", err)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		wantWorkers int
		wantMax     int
	}{
		{name: "workers below floor", mutate: func(c *Config) { c.Scraper.Workers = 0 }, wantWorkers: 1},
		{name: "workers above ceiling", mutate: func(c *Config) { c.Scraper.Workers = 500 }, wantWorkers: 64},
		{name: "test mode sets max pages", mutate: func(c *Config) { c.Scraper.TestMode = true }, wantWorkers: 16, wantMax: 2},
		{name: "explicit max pages wins", mutate: func(c *Config) {
			c.Scraper.TestMode = true
			c.Scraper.MaxPages = 5
		}, wantWorkers: 16, wantMax: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			cfg = cfg.Normalize()
			if cfg.Scraper.Workers != tt.wantWorkers {
				t.Errorf("Workers = %d, want %d", cfg.Scraper.Workers, tt.wantWorkers)
			}
			if cfg.Scraper.MaxPages != tt.wantMax {
				t.Errorf("MaxPages = %d, want %d", cfg.Scraper.MaxPages, tt.wantMax)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{name: "relative base url", mutate: func(c *Config) { c.BaseURL = "/names" }, wantField: "base_url"},
		{name: "unknown listing", mutate: func(c *Config) { c.Listings["other"] = "/x" }, wantField: "listings"},
		{name: "unknown category", mutate: func(c *Config) { c.Scraper.Categories = []string{"x"} }, wantField: "scraper.categories"},
		{name: "zero retries", mutate: func(c *Config) { c.Network.MaxRetries = 0 }, wantField: "network.max_retries"},
		{name: "zero timeout", mutate: func(c *Config) { c.Network.Timeout = 0 }, wantField: "network.timeout"},
		{name: "no connections", mutate: func(c *Config) { c.Network.MaxConnections = 0 }, wantField: "network.max_connections"},
		{name: "bad status", mutate: func(c *Config) { c.Network.RetryableStatuses = []int{200} }, wantField: "network.retryable_statuses"},
		{name: "no formats", mutate: func(c *Config) { c.Output.Formats = nil }, wantField: "output.formats"},
		{name: "unknown format", mutate: func(c *Config) { c.Output.Formats = []string{"parquet"} }, wantField: "output.formats"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Output.Formats = []string{"postgres"} }, wantField: "output.postgres_dsn"},
		{name: "zero save interval", mutate: func(c *Config) { c.Scraper.SaveInterval = 0 }, wantField: "scraper.save_interval"},
		{name: "unknown backend", mutate: func(c *Config) { c.Progress.Backend = "etcd" }, wantField: "progress.backend"},
		{name: "s3 without bucket", mutate: func(c *Config) { c.Publish.Target = PublishS3 }, wantField: "publish.bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Normalize().Validate()

			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() error = %v, want *ConfigurationError", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.wantField)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" csv,, json ,")
	if len(got) != 2 || got[0] != "csv" || got[1] != "json" {
		t.Errorf("SplitList() = %v", got)
	}
}
