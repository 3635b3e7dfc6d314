package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/names-scraper/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var flushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "names_progress_flushes_total",
	Help: "Total number of progress flushes by result",
}, []string{"result"})

// Store persists progress.
type Store interface {
	// Load returns the persisted state, or an empty state if none exists.
	Load(ctx context.Context) (State, error)

	// Save durably replaces the persisted state.
	Save(ctx context.Context, state State) error
}

// Tracker is the in-memory mirror of the persisted progress. All methods are
// safe for concurrent use.
type Tracker struct {
	store  Store
	logger zerolog.Logger

	mu        sync.Mutex
	completed map[model.Category]map[int]struct{}
	totals    map[model.Category]int
	records   map[model.Category]int

	// flushMu keeps saves in snapshot order.
	flushMu sync.Mutex
}

// NewTracker creates a tracker over store.
func NewTracker(store Store, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		store:  store,
		logger: logger,
	}
	t.reset()
	return t
}

func (t *Tracker) reset() {
	t.completed = make(map[model.Category]map[int]struct{})
	t.totals = make(map[model.Category]int)
	t.records = make(map[model.Category]int)
}

// Load replaces the in-memory state with the persisted one. A missing prior
// state is not an error.
func (t *Tracker) Load(ctx context.Context) (State, error) {
	state, err := t.store.Load(ctx)
	if err != nil {
		return State{}, fmt.Errorf("load progress: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
	for cat, cs := range state.Categories {
		if cs == nil {
			continue
		}
		set := make(map[int]struct{}, len(cs.CompletedPages))
		for _, p := range cs.CompletedPages {
			set[p] = struct{}{}
		}
		t.completed[cat] = set
		t.totals[cat] = cs.TotalPages
		t.records[cat] = cs.Records
	}

	t.logger.Info().
		Int("male_pages", len(t.completed[model.Male])).
		Int("female_pages", len(t.completed[model.Female])).
		Msg("Loaded progress")

	return t.snapshotLocked(), nil
}

// Clearer is implemented by stores that can drop persisted progress.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Reset forgets all progress, in memory and (when the store supports it)
// in the store.
func (t *Tracker) Reset(ctx context.Context) error {
	t.mu.Lock()
	t.reset()
	t.mu.Unlock()

	if c, ok := t.store.(Clearer); ok {
		if err := c.Clear(ctx); err != nil {
			return fmt.Errorf("reset progress: %w", err)
		}
	}
	t.logger.Info().Msg("Progress reset")
	return nil
}

// MarkComplete records task as done together with the number of records it
// contributed. Marking a completed task again is a no-op; the return value
// reports whether the task was newly marked.
func (t *Tracker) MarkComplete(task model.PageTask, records int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.completed[task.Category]
	if !ok {
		set = make(map[int]struct{})
		t.completed[task.Category] = set
	}
	if _, done := set[task.Page]; done {
		return false
	}
	set[task.Page] = struct{}{}
	t.records[task.Category] += records
	return true
}

// IsComplete reports whether task has been marked complete.
func (t *Tracker) IsComplete(task model.PageTask) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.completed[task.Category][task.Page]
	return ok
}

// SetTotalPages records the known page count of cat.
func (t *Tracker) SetTotalPages(cat model.Category, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if total > 0 {
		t.totals[cat] = total
	}
}

// TotalPages returns the known page count of cat, or 0.
func (t *Tracker) TotalPages(cat model.Category) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals[cat]
}

// CompletedCount returns the number of completed pages of cat.
func (t *Tracker) CompletedCount(cat model.Category) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.completed[cat])
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() State {
	state := NewState()
	cats := make(map[model.Category]struct{})
	for cat := range t.completed {
		cats[cat] = struct{}{}
	}
	for cat := range t.totals {
		cats[cat] = struct{}{}
	}

	for cat := range cats {
		cs := state.Category(cat)
		cs.CompletedPages = sortedPages(t.completed[cat])
		cs.TotalPages = t.totals[cat]
		cs.Records = t.records[cat]
		state.TotalRecords += cs.Records
	}
	return state
}

// Flush durably persists the current state.
func (t *Tracker) Flush(ctx context.Context) error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	state := t.Snapshot()
	state.LastUpdated = time.Now().UTC()

	if err := t.store.Save(ctx, state); err != nil {
		flushesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("flush progress: %w", err)
	}
	flushesTotal.WithLabelValues("ok").Inc()

	t.logger.Debug().
		Int("total_records", state.TotalRecords).
		Msg("Progress flushed")
	return nil
}
