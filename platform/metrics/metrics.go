// Package metrics registers the Prometheus collectors shared by the scoring,
// distribution and webhook modules.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ScoreRecalculations counts recalculations by trigger and result (ok, error, skipped).
	ScoreRecalculations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadscore_recalculations_total",
			Help: "Lead score recalculations partitioned by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	// ScoreRecalculateDuration observes the time to compute and commit one score.
	ScoreRecalculateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leadscore_recalculate_duration_seconds",
			Help:    "Time spent recalculating a single lead score",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Assignments counts distribution decisions by result (assigned, none_eligible, error).
	Assignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_distribution_assignments_total",
			Help: "Lead distribution decisions partitioned by result",
		},
		[]string{"result"},
	)

	// WebhookIngest counts inbound lead webhook calls by HTTP status.
	WebhookIngest = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_webhook_ingest_total",
			Help: "Inbound lead webhook calls partitioned by response status",
		},
		[]string{"status"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Middleware records request count and latency. The matched route template keeps label
// cardinality low.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := prometheus.Labels{
			"method": c.Request.Method,
			"route":  route,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
