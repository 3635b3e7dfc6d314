package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Sternrassler/names-scraper/pkg/model"
	"github.com/Sternrassler/names-scraper/pkg/sink"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of one category within a run.
type State string

const (
	StatePending     State = "PENDING"
	StateEnumerating State = "ENUMERATING"
	StateDispatched  State = "DISPATCHED"
	StateDraining    State = "DRAINING"
	StateDone        State = "DONE"
	StateAborted     State = "ABORTED"
)

// Terminal reports whether s is DONE or ABORTED.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// CategorySummary holds the counters of one category.
type CategorySummary struct {
	Category       model.Category `json:"category"`
	State          State          `json:"state"`
	PagesCompleted int            `json:"pages_completed"`
	PagesSkipped   int            `json:"pages_skipped"`
	PagesFailed    int            `json:"pages_failed"`
	Records        int            `json:"records"`

	// TotalPages is the page count learned from pagination; 0 when unknown.
	TotalPages int `json:"total_pages,omitempty"`
}

// FailedPage is a page that was still failing when the run ended.
type FailedPage struct {
	Category model.Category `json:"category"`
	Page     int            `json:"page"`
	Reason   string         `json:"reason"`
	Error    string         `json:"error"`
}

// Summary is the report of one run.
type Summary struct {
	RunID          string              `json:"run_id"`
	Mode           string              `json:"mode"`
	StartedAt      time.Time           `json:"started_at"`
	FinishedAt     time.Time           `json:"finished_at"`
	Elapsed        time.Duration       `json:"-"`
	ElapsedSeconds float64             `json:"elapsed_seconds"`
	Categories     []CategorySummary   `json:"categories"`
	TotalRecords   int                 `json:"total_records"`
	FailedPages    []FailedPage        `json:"failed_pages"`
	Sinks          []sink.FormatReport `json:"sinks,omitempty"`
	Aborted        bool                `json:"aborted"`
	AbortReason    string              `json:"abort_reason,omitempty"`
}

// Category returns the summary of cat, or false if cat was not part of the run.
func (s *Summary) Category(cat model.Category) (CategorySummary, bool) {
	for _, c := range s.Categories {
		if c.Category == cat {
			return c, true
		}
	}
	return CategorySummary{}, false
}

func (s *Summary) sortFailures() {
	sort.Slice(s.FailedPages, func(i, j int) bool {
		a, b := s.FailedPages[i], s.FailedPages[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Page < b.Page
	})
}

// WriteFile stores the summary as indented JSON.
func (s *Summary) WriteFile(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// Log writes the summary as structured log lines.
func (s *Summary) Log(logger zerolog.Logger) {
	ev := logger.Info()
	if s.Aborted {
		ev = logger.Error().Str("abort_reason", s.AbortReason)
	}
	ev.Str("run_id", s.RunID).
		Str("mode", s.Mode).
		Int("total_records", s.TotalRecords).
		Int("failed_pages", len(s.FailedPages)).
		Dur("elapsed", s.Elapsed).
		Msg("Run summary")

	for _, c := range s.Categories {
		logger.Info().
			Str("category", string(c.Category)).
			Str("state", string(c.State)).
			Int("pages_completed", c.PagesCompleted).
			Int("pages_skipped", c.PagesSkipped).
			Int("pages_failed", c.PagesFailed).
			Int("records", c.Records).
			Msg("Category summary")
	}
	for _, f := range s.FailedPages {
		logger.Warn().
			Str("category", string(f.Category)).
			Int("page", f.Page).
			Str("reason", f.Reason).
			Msg("Page still failing")
	}
	for _, r := range s.Sinks {
		ev := logger.Info()
		if r.Failed {
			ev = logger.Warn().Str("error", r.Error)
		}
		ev.Str("format", r.Format).
			Str("path", r.Path).
			Int("records", r.Records).
			Msg("Sink summary")
	}
}
