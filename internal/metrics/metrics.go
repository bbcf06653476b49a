package metrics

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
			Namespace: "placemap",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "placemap",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	gatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "placemap",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Calls made to the catalog API.",
		},
		[]string{"op", "status", "success"},
	)
	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "placemap",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Catalog API call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	catalogLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "placemap",
			Subsystem: "catalog",
			Name:      "loads_total",
			Help:      "Catalog loads by view and data source (remote or fallback).",
		},
		[]string{"view", "source"},
	)
	mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "placemap",
			Subsystem: "mutation",
			Name:      "total",
			Help:      "Place mutations by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)
	markerOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "placemap",
			Subsystem: "markers",
			Name:      "operations_total",
			Help:      "Marker operations issued by reconciliation.",
		},
		[]string{"op"},
	)
)

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, gatewayRequests, gatewayDuration, catalogLoads, mutations, markerOps)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	Register()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordGatewayCall counts one API call. status is 0 when no response arrived.
func RecordGatewayCall(op string, status int, duration time.Duration, err error) {
	Register()
	gatewayRequests.WithLabelValues(op, strconv.Itoa(status), strconv.FormatBool(err == nil)).Inc()
	gatewayDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordCatalogLoad(view, source string) {
	Register()
	catalogLoads.WithLabelValues(view, source).Inc()
}

func RecordMutation(op, outcome string) {
	Register()
	mutations.WithLabelValues(op, outcome).Inc()
}

func RecordMarkers(added, removed, replaced, failed int) {
	Register()
	for op, n := range map[string]int{"added": added, "removed": removed, "replaced": replaced, "failed": failed} {
		if n > 0 {
			markerOps.WithLabelValues(op).Add(float64(n))
		}
	}
}
