// Package progress records which listing pages have been fully persisted so
// an interrupted run can resume where it stopped.
package progress

import (
	"sort"
	"time"

	"github.com/Sternrassler/names-scraper/pkg/model"
)

// StateVersion is the persisted format version.
const StateVersion = 1

// State is the persisted progress document.
type State struct {
	Version      int                               `json:"version"`
	Categories   map[model.Category]*CategoryState `json:"categories"`
	TotalRecords int                               `json:"total_records"`
	LastUpdated  time.Time                         `json:"last_updated"`
}

// CategoryState is the progress of one category.
type CategoryState struct {
	CompletedPages []int `json:"completed_pages"`

	// TotalPages is the last known page count; 0 when unknown.
	TotalPages int `json:"total_pages,omitempty"`

	Records int `json:"records"`
}

// NewState returns an empty state.
func NewState() State {
	return State{
		Version:    StateVersion,
		Categories: make(map[model.Category]*CategoryState),
	}
}

// Category returns the state of cat, creating it if needed.
func (s *State) Category(cat model.Category) *CategoryState {
	if s.Categories == nil {
		s.Categories = make(map[model.Category]*CategoryState)
	}
	cs, ok := s.Categories[cat]
	if !ok {
		cs = &CategoryState{CompletedPages: []int{}}
		s.Categories[cat] = cs
	}
	return cs
}

// Completed returns how many pages of cat are complete.
func (s State) Completed(cat model.Category) int {
	if cs, ok := s.Categories[cat]; ok {
		return len(cs.CompletedPages)
	}
	return 0
}

func sortedPages(set map[int]struct{}) []int {
	pages := make([]int, 0, len(set))
	for p := range set {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}
