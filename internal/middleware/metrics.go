package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	paymentReconciliationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciliation_total",
			Help: "Payment confirmations by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(paymentReconciliationTotal)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// PrometheusRecorder exposes reconciliation outcomes on /metrics. It has the
// same Count signature as the CloudWatch recorder.
type PrometheusRecorder struct{}

// Count increments payment_reconciliation_total for the Channel and Outcome
// dimensions. Other metric names are ignored.
func (PrometheusRecorder) Count(ctx context.Context, name string, dimensions map[string]string) error {
	if name != "PaymentReconciliation" {
		return nil
	}
	paymentReconciliationTotal.WithLabelValues(dimensions["Channel"], dimensions["Outcome"]).Inc()
	return nil
}
