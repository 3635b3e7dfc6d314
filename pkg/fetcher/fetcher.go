// Package fetcher retrieves listing pages over HTTP with retry, backoff,
// request pacing and a bounded pool of connection slots shared by every
// worker of a run.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/names-scraper/pkg/cache"
	"github.com/Sternrassler/names-scraper/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "names_fetch_requests_total",
		Help: "Total page requests by HTTP status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "names_fetch_duration_seconds",
		Help:    "Page request duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "names_fetch_errors_total",
		Help: "Total failed attempts by error class",
	}, []string{"class"})

	inflightRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "names_inflight_requests",
		Help: "Connection pool slots currently in use",
	})
)

// maxBodyBytes bounds a single page body.
const maxBodyBytes = 16 << 20

// PageCache is the subset of cache.Manager the fetcher uses.
type PageCache interface {
	Get(ctx context.Context, pageURL string) (*cache.Entry, error)
	Set(ctx context.Context, pageURL string, entry *cache.Entry) error
	Refresh(ctx context.Context, pageURL string, entry *cache.Entry, expires time.Time) error
	DefaultTTL() time.Duration
}

// Config holds the fetcher configuration.
type Config struct {
	// Retry policy; MaxAttempts is the configured max retries.
	Retry RetryConfig

	// Timeout bounds a single attempt.
	Timeout time.Duration

	// MaxConnections caps simultaneous in-flight requests.
	MaxConnections int

	// RetryableStatuses lists statuses treated as transient.
	RetryableStatuses []int

	UserAgent string
	Headers   map[string]string
}

// DefaultConfig returns the fetcher defaults.
func DefaultConfig() Config {
	return Config{
		Retry:             DefaultRetryConfig(),
		Timeout:           15 * time.Second,
		MaxConnections:    32,
		RetryableStatuses: []int{429, 500, 502, 503, 504},
		UserAgent:         "Mozilla/5.0 (compatible; names-scraper/1.0)",
	}
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client (tests, proxies).
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.httpClient = c }
}

// WithLimiter paces requests through l.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithCache serves and revalidates pages through c.
func WithCache(c PageCache) Option {
	return func(f *Fetcher) { f.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// Fetcher performs page retrievals. It is safe for concurrent use.
type Fetcher struct {
	httpClient *http.Client
	config     Config
	slots      *semaphore.Weighted
	retryable  map[int]bool
	limiter    *ratelimit.Limiter
	cache      PageCache
	logger     zerolog.Logger
}

// New creates a fetcher.
func New(cfg Config, opts ...Option) (*Fetcher, error) {
	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be >= 1 (got %d)", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BackoffMultiplier <= 0 {
		cfg.Retry.BackoffMultiplier = 2.0
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %v)", cfg.Timeout)
	}
	if cfg.MaxConnections < 1 {
		return nil, fmt.Errorf("max connections must be >= 1 (got %d)", cfg.MaxConnections)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	retryable := make(map[int]bool, len(cfg.RetryableStatuses))
	for _, code := range cfg.RetryableStatuses {
		retryable[code] = true
	}

	f := &Fetcher{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        cfg.MaxConnections,
				MaxIdleConnsPerHost: cfg.MaxConnections,
				MaxConnsPerHost:     cfg.MaxConnections,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		config:    cfg,
		slots:     semaphore.NewWeighted(int64(cfg.MaxConnections)),
		retryable: retryable,
		logger:    log.With().Str("component", "fetcher").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch retrieves url. Every failure is returned as a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var cached *cache.Entry
	if f.cache != nil {
		entry, err := f.cache.Get(ctx, url)
		switch {
		case err == nil && !entry.IsExpired():
			f.logger.Debug().Str("url", url).Msg("Serving page from cache")
			return entry.Data, nil
		case err == nil:
			cached = entry
		case !errors.Is(err, cache.ErrCacheMiss):
			f.logger.Warn().Err(err).Str("url", url).Msg("Page cache get error")
		}
	}

	var body []byte
	attempts := 0
	err := retryWithBackoff(ctx, f.config.Retry, f.logger.With().Str("url", url).Logger(), func(attempt int) error {
		attempts = attempt
		var err error
		body, err = f.attempt(ctx, url, cached)
		return err
	})
	if err == nil {
		return body, nil
	}

	fetchErr := &FetchError{URL: url, Attempts: attempts, Err: err}
	var attemptErr *AttemptError
	if errors.As(err, &attemptErr) {
		fetchErr.StatusCode = attemptErr.StatusCode
		fetchErr.ErrorClass = attemptErr.ErrorClass
	}

	switch {
	case errors.Is(err, ErrContextCancelled):
		fetchErr.Kind = KindCancelled
	case errors.Is(err, ErrRetryExhausted):
		fetchErr.Kind = KindRetryExhausted
		if attemptErr != nil && attemptErr.Timeout {
			fetchErr.Kind = KindTimeout
		}
	default:
		fetchErr.Kind = KindNonRetryableStatus
	}
	return nil, fetchErr
}

// attempt performs a single HTTP request inside one connection slot.
func (f *Fetcher) attempt(ctx context.Context, url string, cached *cache.Entry) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if err := f.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	inflightRequests.Inc()
	defer func() {
		inflightRequests.Dec()
		f.slots.Release(1)
	}()

	attemptCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &AttemptError{ErrorClass: ErrorClassClient, Message: "build request", Err: err}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	for k, v := range f.config.Headers {
		req.Header.Set(k, v)
	}
	if cache.ShouldMakeConditionalRequest(cached) {
		cache.AddConditionalHeaders(req, cached)
	}

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	requestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, f.transportError(ctx, attemptCtx, err)
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode == http.StatusNotModified && cached != nil:
		cache.ConditionalRequests.Inc()
		f.refreshCached(ctx, url, cached)
		return cached.Data, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		entry, err := cache.ResponseToEntry(&http.Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       io.NopCloser(io.LimitReader(resp.Body, maxBodyBytes)),
		}, f.cacheTTL())
		if err != nil {
			return nil, f.transportError(ctx, attemptCtx, err)
		}
		f.storeCached(ctx, url, entry)
		return entry.Data, nil
	}

	class := f.classifyStatus(resp.StatusCode)
	errorsTotal.WithLabelValues(string(class)).Inc()
	if class == ErrorClassRateLimit && f.limiter != nil {
		f.limiter.ReportRateLimited(resp.Header.Get("Retry-After"))
	}

	f.logger.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Str("error_class", string(class)).
		Msg("Page request failed")

	return nil, &AttemptError{
		StatusCode: resp.StatusCode,
		ErrorClass: class,
		Message:    http.StatusText(resp.StatusCode),
	}
}

// classifyStatus maps a non-2xx status onto an error class.
func (f *Fetcher) classifyStatus(status int) ErrorClass {
	if !f.retryable[status] {
		return ErrorClassClient
	}
	if status == http.StatusTooManyRequests {
		return ErrorClassRateLimit
	}
	return ErrorClassServer
}

// transportError classifies a failed round trip or body read.
func (f *Fetcher) transportError(ctx, attemptCtx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
	timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
	msg := "transport error"
	if timedOut {
		msg = "attempt timed out"
	}
	return &AttemptError{ErrorClass: ErrorClassNetwork, Timeout: timedOut, Message: msg, Err: err}
}

func (f *Fetcher) cacheTTL() time.Duration {
	if f.cache == nil {
		return 0
	}
	return f.cache.DefaultTTL()
}

func (f *Fetcher) storeCached(ctx context.Context, url string, entry *cache.Entry) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Set(ctx, url, entry); err != nil {
		f.logger.Warn().Err(err).Str("url", url).Msg("Page cache set error")
	}
}

func (f *Fetcher) refreshCached(ctx context.Context, url string, entry *cache.Entry) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Refresh(ctx, url, entry, time.Now().Add(f.cache.DefaultTTL())); err != nil {
		f.logger.Warn().Err(err).Str("url", url).Msg("Page cache refresh error")
	}
}

// PageURL builds the URL of a listing page: page 1 is the listing itself,
// later pages add ?page=N.
func PageURL(listingURL string, page int) string {
	if page <= 1 {
		return listingURL
	}
	return fmt.Sprintf("%s?page=%d", listingURL, page)
}
