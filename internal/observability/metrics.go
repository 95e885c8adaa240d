package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	ipcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nxipc",
			Subsystem: "ipc",
			Name:      "requests_total",
			Help:      "Total IPC requests by dialect, kind and outcome class.",
		},
		[]string{"dialect", "kind", "outcome"},
	)
	ipcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nxipc",
			Subsystem: "ipc",
			Name:      "request_duration_seconds",
			Help:      "IPC round trip duration in seconds.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"dialect", "kind"},
	)
	sessionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nxipc",
			Subsystem: "ipc",
			Name:      "sessions_closed_total",
			Help:      "Session and domain object closes.",
		},
		[]string{"dialect", "owned"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nxipc",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests to the status server.",
		},
		[]string{"app", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nxipc",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status server request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"app", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ipcRequests, ipcDuration, sessionsClosed, httpRequests, httpDuration)
	})
}

// RecordIPCRequest counts one IPC round trip. outcome is the error class
// name, "ok" on success.
func RecordIPCRequest(dialect, kind, outcome string, duration time.Duration) {
	RegisterMetrics()
	ipcRequests.WithLabelValues(dialect, kind, outcome).Inc()
	ipcDuration.WithLabelValues(dialect, kind).Observe(duration.Seconds())
}

func RecordSessionClosed(dialect string, owned bool) {
	RegisterMetrics()
	sessionsClosed.WithLabelValues(dialect, strconv.FormatBool(owned)).Inc()
}

func RecordHTTPRequest(app, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(app, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(app, method, path, statusLabel).Observe(duration.Seconds())
}
