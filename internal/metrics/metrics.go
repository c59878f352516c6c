// Package metrics provides Prometheus instrumentation for the SafePay Guard platform.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safepay",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "safepay",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TransactionsScoredTotal counts scored transactions by risk tier.
	TransactionsScoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safepay",
			Name:      "transactions_scored_total",
			Help:      "Total transactions scored by risk tier.",
		},
		[]string{"tier"},
	)

	// ScoringDuration observes end-to-end scoring latency.
	ScoringDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "safepay",
		Name:      "scoring_duration_seconds",
		Help:      "Risk scoring duration in seconds, feature extraction included.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// ScoringFallbacksTotal counts scoring calls that fell back to the
	// conservative default score.
	ScoringFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "safepay",
		Name:      "scoring_fallbacks_total",
		Help:      "Total scoring requests resolved with the fail-open fallback score.",
	})

	// AlertsCreatedTotal counts alerts created by tier.
	AlertsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safepay",
			Name:      "alerts_created_total",
			Help:      "Total alerts created by risk tier.",
		},
		[]string{"tier"},
	)

	// AlertDecisionsTotal counts alert resolutions by outcome.
	AlertDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safepay",
			Name:      "alert_decisions_total",
			Help:      "Total alert decisions by outcome (approved, denied, expired).",
		},
		[]string{"decision"},
	)

	// AlertResolutionDuration observes time from alert creation to resolution.
	AlertResolutionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "safepay",
		Name:      "alert_resolution_duration_seconds",
		Help:      "Time from alert creation to resolution in seconds.",
		Buckets:   []float64{10, 30, 60, 300, 1800, 3600, 21600, 86400, 259200},
	})

	// ExplanationFallbacksTotal counts explanations served from the template fallback.
	ExplanationFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "safepay",
		Name:      "explanation_fallbacks_total",
		Help:      "Total alert explanations generated from the deterministic template.",
	})

	// MessagesScannedTotal counts messages scanned for scam indicators
	// by verdict label.
	MessagesScannedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safepay",
			Name:      "messages_scanned_total",
			Help:      "Total messages scanned for scam indicators by verdict label.",
		},
		[]string{"label"},
	)

	// TrustedLinksActive tracks the number of active trusted links.
	TrustedLinksActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "safepay",
		Name:      "trusted_links_active",
		Help:      "Number of currently active trusted links.",
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "safepay",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// NotificationsSentTotal counts WebSocket notifications by event type.
	NotificationsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safepay",
			Name:      "notifications_sent_total",
			Help:      "Total realtime notifications sent by event type.",
		},
		[]string{"event"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "safepay", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "safepay", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "safepay", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "safepay", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "safepay", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "safepay", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TransactionsScoredTotal,
		ScoringDuration,
		ScoringFallbacksTotal,
		AlertsCreatedTotal,
		AlertDecisionsTotal,
		AlertResolutionDuration,
		ExplanationFallbacksTotal,
		MessagesScannedTotal,
		TrustedLinksActive,
		ActiveWebSocketClients,
		NotificationsSentTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
