package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overlays NAMES_* environment variables onto cfg.
func applyEnv(cfg *Config) error {
	cfg.BaseURL = getEnv("NAMES_BASE_URL", cfg.BaseURL)
	cfg.Output.Dir = getEnv("NAMES_OUTPUT_DIR", cfg.Output.Dir)
	cfg.Output.PostgresDSN = getEnv("NAMES_POSTGRES_DSN", cfg.Output.PostgresDSN)
	cfg.Progress.Backend = getEnv("NAMES_PROGRESS_BACKEND", cfg.Progress.Backend)
	cfg.Redis.Addr = getEnv("NAMES_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("NAMES_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Logging.Level = getEnv("NAMES_LOG_LEVEL", cfg.Logging.Level)
	cfg.Metrics.Addr = getEnv("NAMES_METRICS_ADDR", cfg.Metrics.Addr)
	cfg.Publish.Target = getEnv("NAMES_PUBLISH_TARGET", cfg.Publish.Target)
	cfg.Publish.Bucket = getEnv("NAMES_PUBLISH_BUCKET", cfg.Publish.Bucket)

	if v := os.Getenv("NAMES_FORMATS"); v != "" {
		cfg.Output.Formats = SplitList(v)
	}

	var err error
	if cfg.Scraper.Workers, err = getEnvInt("NAMES_WORKERS", cfg.Scraper.Workers); err != nil {
		return err
	}
	if cfg.Scraper.MaxPages, err = getEnvInt("NAMES_MAX_PAGES", cfg.Scraper.MaxPages); err != nil {
		return err
	}
	if cfg.Network.MaxRetries, err = getEnvInt("NAMES_MAX_RETRIES", cfg.Network.MaxRetries); err != nil {
		return err
	}
	if cfg.Network.Timeout, err = getEnvDuration("NAMES_TIMEOUT", cfg.Network.Timeout); err != nil {
		return err
	}
	if cfg.Cache.Enabled, err = getEnvBool("NAMES_CACHE_ENABLED", cfg.Cache.Enabled); err != nil {
		return err
	}
	return nil
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, &ConfigurationError{Field: key, Reason: fmt.Sprintf("not an integer: %q", value)}
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, &ConfigurationError{Field: key, Reason: fmt.Sprintf("not a duration: %q", value)}
	}
	return d, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, &ConfigurationError{Field: key, Reason: fmt.Sprintf("not a boolean: %q", value)}
	}
	return b, nil
}
