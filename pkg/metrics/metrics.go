// Package metrics exposes the scraper's Prometheus metrics.
// Collectors are declared with promauto in the packages that update them
// (fetcher, ratelimit, cache, progress, sink, pipeline); this package serves
// them over HTTP and documents what exists.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the registerer every promauto collector in this module uses.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP mux served by Serve.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	return mux
}

// Serve runs the metrics endpoint on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}

// Metrics Documentation
//
// Fetch Metrics (pkg/fetcher):
//   - names_fetch_requests_total{status} (Counter)
//   - names_fetch_duration_seconds (Histogram)
//   - names_fetch_errors_total{class} (Counter): client, server, rate_limit, network
//   - names_inflight_requests (Gauge): connection pool slots in use
//   - names_retries_total{error_class} (Counter)
//   - names_retry_backoff_seconds{error_class} (Histogram)
//   - names_retry_exhausted_total{error_class} (Counter)
//
// Pacing Metrics (pkg/ratelimit):
//   - names_ratelimit_cooloffs_total (Counter): 429 responses that paused all workers
//   - names_ratelimit_wait_seconds (Histogram): time spent waiting for a token
//
// Cache Metrics (pkg/cache):
//   - names_cache_hits_total (Counter)
//   - names_cache_misses_total (Counter)
//   - names_304_responses_total (Counter)
//   - names_cache_errors_total{operation} (Counter)
//
// Progress Metrics (pkg/progress):
//   - names_progress_flushes_total{result} (Counter)
//
// Sink Metrics (pkg/sink):
//   - names_records_appended_total{format} (Counter)
//   - names_sink_errors_total{format} (Counter)
//
// Pipeline Metrics (pkg/pipeline):
//   - names_pages_completed_total{category} (Counter)
//   - names_pages_failed_total{category, reason} (Counter)
//   - names_pages_skipped_total{category} (Counter): already complete on resume
//
// Example Prometheus Queries:
//
//   # Page failure ratio
//   sum(rate(names_pages_failed_total[5m])) / sum(rate(names_pages_completed_total[5m]))
//
//   # P95 fetch latency
//   histogram_quantile(0.95, rate(names_fetch_duration_seconds_bucket[5m]))
