// Package metrics provides Prometheus instrumentation for the invest engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PositionsOpened counts accepted opens, partitioned by room.
	PositionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invest_positions_opened_total",
		Help: "Total number of positions opened",
	}, []string{"room"})

	// PositionsSettled counts settlements, partitioned by room.
	PositionsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invest_positions_settled_total",
		Help: "Total number of positions settled",
	}, []string{"room"})

	// PositionsDiscarded counts positions dropped on reload because they
	// expired while the process was down.
	PositionsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invest_positions_discarded_total",
		Help: "Expired positions discarded at startup without settlement",
	})

	// OpenRejections counts failed opens by reason code.
	OpenRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invest_open_rejections_total",
		Help: "Position opens rejected by validation",
	}, []string{"reason"})

	// PersistFailures counts store writes that failed and were only logged.
	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invest_persist_failures_total",
		Help: "Store writes that failed",
	}, []string{"op"})

	// Balance tracks the current cash balance.
	Balance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "invest_balance",
		Help: "Current cash balance (THB)",
	})

	// ActivePosition is 1 while a position is running.
	ActivePosition = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "invest_active_position",
		Help: "1 while a position is running, else 0",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "invest_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invest_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "invest_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware records request count and latency. The route template
// (c.FullPath) is used as the path label to keep cardinality bounded.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
