package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "names_cache_hits_total",
		Help: "Total number of page cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "names_cache_misses_total",
		Help: "Total number of page cache misses",
	})

	// ConditionalRequests counts 304 Not Modified answers.
	ConditionalRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "names_304_responses_total",
		Help: "Total number of 304 Not Modified responses",
	})

	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "names_cache_errors_total",
		Help: "Total number of page cache operation errors",
	}, []string{"operation"}) // "get", "set", "delete"
)
