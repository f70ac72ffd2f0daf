package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipment_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shipment_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method"},
	)

	// LedgerErrorsTotal counts classified ledger failures by kind
	LedgerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipment_ledger_errors_total",
			Help: "Ledger failures by classified kind",
		},
		[]string{"operation", "kind"},
	)

	// MirrorFailuresTotal counts swallowed mirror failures
	MirrorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipment_mirror_failures_total",
			Help: "Mirror operations that failed and were discarded",
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(LedgerErrorsTotal)
	prometheus.MustRegister(MirrorFailuresTotal)
}

// Instrument records request count and latency per matched route
func Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		handler := c.FullPath()
		if handler == "" {
			handler = "unmatched"
		}
		method := c.Request.Method

		httpRequestsTotal.WithLabelValues(handler, method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(handler, method).Observe(time.Since(start).Seconds())
	}
}
