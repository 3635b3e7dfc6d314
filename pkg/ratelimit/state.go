// Package ratelimit paces outgoing requests and pauses every worker after the
// site answers 429 Too Many Requests.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Cool-off bounds applied when the site rate limits us.
const (
	// DefaultCooloff is used when a 429 carries no usable Retry-After.
	DefaultCooloff = 5 * time.Second

	// MaxCooloff caps any Retry-After value.
	MaxCooloff = 2 * time.Minute
)

// State is a snapshot of the limiter's cool-off bookkeeping.
type State struct {
	// PausedUntil is when requests may resume; zero when not paused.
	PausedUntil time.Time `json:"paused_until"`

	// Cooloffs counts 429 responses reported so far.
	Cooloffs int `json:"cooloffs"`

	// LastUpdate is when the state last changed.
	LastUpdate time.Time `json:"last_update"`
}

// IsPaused reports whether requests are held back at now.
func (s State) IsPaused(now time.Time) bool {
	return now.Before(s.PausedUntil)
}

// TimeUntilResume returns how long requests stay paused, or 0.
func (s State) TimeUntilResume(now time.Time) time.Duration {
	d := s.PausedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ParseRetryAfter interprets a Retry-After header given either as seconds or
// as an HTTP date. The result is clamped to [0, MaxCooloff].
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		d = at.Sub(now)
	} else {
		return 0, false
	}

	if d < 0 {
		d = 0
	}
	if d > MaxCooloff {
		d = MaxCooloff
	}
	return d, true
}
