package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rollcall",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the console.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rollcall",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Console HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	upstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rollcall",
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Requests sent to the attendance server and headcount detector.",
		},
		[]string{"target", "method", "path", "status", "success"},
	)
	upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rollcall",
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Upstream request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"target", "method", "path", "status", "success"},
	)
	reconcileRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rollcall",
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Reconcile invocations by outcome.",
		},
		[]string{"outcome"},
	)
	dashboardPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rollcall",
			Subsystem: "dashboard",
			Name:      "polls_total",
			Help:      "Dashboard refresh cycles by result.",
		},
		[]string{"result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			upstreamRequests,
			upstreamDuration,
			reconcileRuns,
			dashboardPolls,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordUpstream counts one outbound call. status is 0 when no response arrived.
func RecordUpstream(target, method, path string, status int, duration time.Duration, success bool) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	successLabel := strconv.FormatBool(success)
	upstreamRequests.WithLabelValues(target, method, path, statusLabel, successLabel).Inc()
	upstreamDuration.WithLabelValues(target, method, path, statusLabel, successLabel).
		Observe(duration.Seconds())
}

func RecordReconcile(outcome string) {
	RegisterMetrics()
	reconcileRuns.WithLabelValues(outcome).Inc()
}

func RecordDashboardPoll(ok bool) {
	RegisterMetrics()
	result := "ok"
	if !ok {
		result = "error"
	}
	dashboardPolls.WithLabelValues(result).Inc()
}
