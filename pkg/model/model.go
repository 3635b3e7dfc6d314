// Package model defines the value types that flow through the scraper:
// categories, page tasks and name records.
package model

import (
	"errors"
	"fmt"
	"strings"
)

// Category identifies one of the paginated name listings.
type Category string

const (
	// Male is the boy-names listing.
	Male Category = "male"

	// Female is the girl-names listing.
	Female Category = "female"
)

// Categories lists every known category in a stable order.
var Categories = []Category{Male, Female}

// ErrUnknownCategory is returned when a category name is not recognised.
var ErrUnknownCategory = errors.New("unknown category")

// ParseCategory converts a user supplied name into a Category.
// "boy"/"boys" and "girl"/"girls" are accepted as aliases.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "boy", "boys":
		return Male, nil
	case "female", "girl", "girls":
		return Female, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == Male || c == Female
}

// Record is one extracted name entry.
type Record struct {
	DisplayName string   `json:"display_name"`
	NativeName  string   `json:"native_script_name"`
	Meaning     string   `json:"meaning"`
	URL         string   `json:"url,omitempty"`
	Category    Category `json:"category"`
}

// Validate checks the fields every sink relies on.
func (r Record) Validate() error {
	if strings.TrimSpace(r.DisplayName) == "" {
		return errors.New("record has no display name")
	}
	if !r.Category.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, r.Category)
	}
	return nil
}

// PageTask is one unit of work: a single listing page of a category.
type PageTask struct {
	Category Category `json:"category"`
	Page     int      `json:"page"`
}

// String formats the task as category:page.
func (t PageTask) String() string {
	return fmt.Sprintf("%s:%d", t.Category, t.Page)
}
