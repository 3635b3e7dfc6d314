package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	cooloffsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "names_ratelimit_cooloffs_total",
		Help: "Total number of 429 responses that paused all workers",
	})

	waitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "names_ratelimit_wait_seconds",
		Help:    "Time spent waiting before a request was allowed",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})
)

// Config controls request pacing.
type Config struct {
	// RequestsPerSecond is the sustained rate; 0 disables pacing.
	RequestsPerSecond float64

	// Burst is the number of requests allowed at once.
	Burst int
}

// Limiter gates requests shared by every worker of a run.
type Limiter struct {
	limiter *rate.Limiter
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	state State
}

// New creates a limiter.
func New(cfg Config, logger zerolog.Logger) *Limiter {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		now:     time.Now,
	}
}

// Wait blocks until a request may be sent: first past any cool-off, then
// until the token bucket grants a token.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	defer func() {
		waitSeconds.Observe(time.Since(start).Seconds())
	}()

	for {
		pause := l.State().TimeUntilResume(l.now())
		if pause <= 0 {
			break
		}
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("waiting for cool-off: %w", ctx.Err())
		case <-timer.C:
		}
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return nil
}

// ReportRateLimited records a 429 response. Every worker pauses until the
// Retry-After deadline (or DefaultCooloff) has passed. A later deadline
// never shortens an existing pause.
func (l *Limiter) ReportRateLimited(retryAfter string) time.Duration {
	now := l.now()
	pause, ok := ParseRetryAfter(retryAfter, now)
	if !ok {
		pause = DefaultCooloff
	}

	l.mu.Lock()
	until := now.Add(pause)
	if until.After(l.state.PausedUntil) {
		l.state.PausedUntil = until
	}
	l.state.Cooloffs++
	l.state.LastUpdate = now
	l.mu.Unlock()

	cooloffsTotal.Inc()
	l.logger.Warn().
		Dur("pause", pause).
		Str("retry_after", retryAfter).
		Msg("Rate limited, pausing requests")

	return pause
}

// State returns a snapshot of the cool-off state.
func (l *Limiter) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Rate returns the configured sustained rate; math.Inf(1) when unpaced.
func (l *Limiter) Rate() float64 {
	limit := l.limiter.Limit()
	if limit == rate.Inf {
		return math.Inf(1)
	}
	return float64(limit)
}
