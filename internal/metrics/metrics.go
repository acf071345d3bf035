package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	// Capture job metrics
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captor_jobs_total",
			Help: "Total number of capture jobs reaching a terminal state",
		},
		[]string{"status", "source"},
	)

	PagesScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "captor_pages_scanned_total",
			Help: "Total number of listing pages scanned by capture jobs",
		},
	)

	ArticlesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "captor_articles_created_total",
			Help: "Total number of articles created by capture jobs",
		},
	)

	ArticlesUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "captor_articles_updated_total",
			Help: "Total number of existing articles refreshed by capture jobs",
		},
	)

	ContentFetchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "captor_content_fetch_failures_total",
			Help: "Total number of article content fetches that failed",
		},
	)

	// Auto-sync scheduler metrics
	SchedulerDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captor_scheduler_dispatch_total",
			Help: "Total number of auto-sync scheduler dispatch attempts",
		},
		[]string{"result"},
	)
)
