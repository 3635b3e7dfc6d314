// Package publish uploads a finished dataset to an external host.
//
// Publishing runs after a successful scrape. Its failures are reported to the
// caller but never change the outcome of the scrape itself.
package publish

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/Sternrassler/names-scraper/pkg/model"
	"github.com/rs/zerolog"
)

// ErrNoArtifacts is returned when there is nothing to publish.
var ErrNoArtifacts = errors.New("no artifacts to publish")

// Visibility values.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// DefaultTags describe the dataset when no tags are configured.
var DefaultTags = []string{"religion", "names", "islam", "muslim", "dataset", "culture", "linguistics"}

// Metadata describes the dataset.
type Metadata struct {
	Title       string
	Description string
	Visibility  string
	Tags        []string
	License     string
}

func (m Metadata) withDefaults() Metadata {
	if m.Title == "" {
		m.Title = "Muslim Names Dataset"
	}
	if m.Visibility == "" {
		m.Visibility = VisibilityPublic
	}
	if len(m.Tags) == 0 {
		m.Tags = DefaultTags
	}
	if m.License == "" {
		m.License = "CC0-1.0"
	}
	return m
}

// Artifact is one output file.
type Artifact struct {
	Format string
	Path   string
}

// Name returns the file name of the artifact.
func (a Artifact) Name() string {
	return filepath.Base(a.Path)
}

// Stats are the dataset figures shown on the dataset card.
type Stats struct {
	TotalRecords int
	Categories   map[model.Category]int
	SourceURL    string
	GeneratedAt  time.Time
}

// Result reports where the dataset went.
type Result struct {
	Target   string   `json:"target"`
	Location string   `json:"location,omitempty"`
	Objects  []string `json:"objects,omitempty"`
}

// Publisher publishes dataset artifacts.
type Publisher interface {
	Publish(ctx context.Context, artifacts []Artifact, meta Metadata, stats Stats) (Result, error)
}

// NopPublisher only logs what would have been published.
type NopPublisher struct {
	Logger zerolog.Logger
}

func (p NopPublisher) Publish(_ context.Context, artifacts []Artifact, meta Metadata, _ Stats) (Result, error) {
	meta = meta.withDefaults()
	for _, a := range artifacts {
		p.Logger.Debug().Str("format", a.Format).Str("path", a.Path).Msg("Artifact ready")
	}
	p.Logger.Info().
		Str("title", meta.Title).
		Int("artifacts", len(artifacts)).
		Msg("Publishing disabled")
	return Result{Target: "none"}, nil
}
