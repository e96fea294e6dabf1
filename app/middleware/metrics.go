package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Total HTTP requests partitioned by method, route, and status code
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	// Request duration in seconds partitioned by method, route, and status code
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// In-flight HTTP requests
	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// Reservation outcomes on the quantity ledger, partitioned by result
	// (reserved, goal_full, campaign_not_active, not_found, error)
	reservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupbuy_reservations_total",
			Help: "Total quantity reservation attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Campaigns finalized, partitioned by terminal status
	campaignsFinalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupbuy_campaigns_finalized_total",
			Help: "Total campaigns reaching a terminal status",
		},
		[]string{"status"},
	)
)

// Metrics returns a Fiber v3 middleware that records basic Prometheus metrics.
// Labels are kept low-cardinality by using the matched route path when available.
func Metrics() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		err := c.Next()

		status := c.Response().StatusCode()
		method := c.Method()
		route := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path // Use route template to avoid high cardinality
		}

		labels := prometheus.Labels{
			"method": method,
			"route":  route,
			"status": strconv.Itoa(status),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())

		return err
	}
}

// RecordReservation counts one reservation attempt against the ledger
func RecordReservation(outcome string) {
	reservationsTotal.WithLabelValues(outcome).Inc()
}

// RecordCampaignFinalized counts one campaign reaching a terminal status
func RecordCampaignFinalized(status string) {
	campaignsFinalizedTotal.WithLabelValues(status).Inc()
}
