package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics tracks request counts and latencies per route.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{
		requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "featuregate_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "featuregate_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// EntitlementMetrics tracks entitlement lifecycle outcomes. Best-effort
// billing calls never fail the request, so their errors surface here.
type EntitlementMetrics struct {
	deactivations       *prometheus.CounterVec
	activations         prometheus.Counter
	billingMarkFailures prometheus.Counter
	reconcileDeleted    prometheus.Counter
	reconcileFailures   prometheus.Counter
	reconcileSkipped    prometheus.Counter
}

func NewEntitlementMetrics() *EntitlementMetrics {
	return &EntitlementMetrics{
		deactivations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "featuregate_deactivations_total",
			Help: "Module deactivations by effect (immediate or deferred).",
		}, []string{"effect"}),
		activations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "featuregate_activations_total",
			Help: "Module activations.",
		}),
		billingMarkFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "featuregate_billing_mark_failures_total",
			Help: "Failed best-effort pending-deletion marks against the billing provider.",
		}),
		reconcileDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "featuregate_reconcile_line_items_deleted_total",
			Help: "Billing line items removed by the reconciliation worker.",
		}),
		reconcileFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "featuregate_reconcile_failures_total",
			Help: "Reconciliation attempts that left a line item pending for the next renewal.",
		}),
		reconcileSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "featuregate_reconcile_skipped_total",
			Help: "Reconciliation no-ops where the entitlement changed under the worker.",
		}),
	}
}

func (m *EntitlementMetrics) IncDeactivation(immediate bool) {
	if m == nil {
		return
	}
	effect := "deferred"
	if immediate {
		effect = "immediate"
	}
	m.deactivations.WithLabelValues(effect).Inc()
}

func (m *EntitlementMetrics) IncActivation() {
	if m == nil {
		return
	}
	m.activations.Inc()
}

func (m *EntitlementMetrics) IncBillingMarkFailure() {
	if m == nil {
		return
	}
	m.billingMarkFailures.Inc()
}

func (m *EntitlementMetrics) IncReconcileDeleted() {
	if m == nil {
		return
	}
	m.reconcileDeleted.Inc()
}

func (m *EntitlementMetrics) IncReconcileFailure() {
	if m == nil {
		return
	}
	m.reconcileFailures.Inc()
}

func (m *EntitlementMetrics) IncReconcileSkipped() {
	if m == nil {
		return
	}
	m.reconcileSkipped.Inc()
}
