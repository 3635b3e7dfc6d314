package pipeline

import (
	"fmt"
	"time"

	"github.com/Sternrassler/names-scraper/pkg/config"
	"github.com/Sternrassler/names-scraper/pkg/model"
)

// Config holds orchestrator settings.
type Config struct {
	// Listings maps each category to the URL of its first listing page.
	Listings map[model.Category]string

	// Workers is the size of the worker pool, clamped to
	// [config.MinWorkers, config.MaxWorkers].
	Workers int

	// MaxPages enables bounded mode when > 0.
	MaxPages int

	// SaveInterval is the number of completed pages between progress flushes.
	SaveInterval int

	// RetryFailedPasses is how many times failed pages are dispatched again.
	RetryFailedPasses int
	RetryDelay        time.Duration

	// ProgressLogEvery logs progress every N completed pages; 0 disables it.
	ProgressLogEvery int
}

// DefaultConfig returns the orchestrator defaults without any listing.
func DefaultConfig() Config {
	return Config{
		Listings:          map[model.Category]string{},
		Workers:           16,
		SaveInterval:      10,
		RetryFailedPasses: 1,
		RetryDelay:        2 * time.Second,
		ProgressLogEvery:  50,
	}
}

// FromConfig derives orchestrator settings from the application config.
func FromConfig(cfg config.Config) Config {
	listings := make(map[model.Category]string, len(cfg.Listings))
	for name := range cfg.Listings {
		cat, err := model.ParseCategory(name)
		if err != nil {
			continue
		}
		listings[cat] = cfg.ListingURL(cat)
	}
	return Config{
		Listings:          listings,
		Workers:           cfg.Scraper.Workers,
		MaxPages:          cfg.Scraper.MaxPages,
		SaveInterval:      cfg.Scraper.SaveInterval,
		RetryFailedPasses: cfg.Scraper.RetryFailedPasses,
		RetryDelay:        cfg.Scraper.RetryDelay,
		ProgressLogEvery:  cfg.Scraper.ProgressLogEvery,
	}
}

func (c Config) normalize() Config {
	if c.Workers < config.MinWorkers {
		c.Workers = config.MinWorkers
	}
	if c.Workers > config.MaxWorkers {
		c.Workers = config.MaxWorkers
	}
	if c.SaveInterval <= 0 {
		c.SaveInterval = 1
	}
	if c.RetryFailedPasses < 0 {
		c.RetryFailedPasses = 0
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	return c
}

// Mode returns "bounded" or "unbounded".
func (c Config) Mode() string {
	if c.MaxPages > 0 {
		return "bounded"
	}
	return "unbounded"
}

func (c Config) listing(cat model.Category) (string, error) {
	u, ok := c.Listings[cat]
	if !ok || u == "" {
		return "", fmt.Errorf("no listing URL for category %q", cat)
	}
	return u, nil
}
