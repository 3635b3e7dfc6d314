package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "names_pages_completed_total",
		Help: "Total number of listing pages persisted and marked complete",
	}, []string{"category"})

	pagesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "names_pages_failed_total",
		Help: "Total number of listing page failures by reason",
	}, []string{"category", "reason"})

	pagesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "names_pages_skipped_total",
		Help: "Total number of listing pages skipped because an earlier run completed them",
	}, []string{"category"})
)
