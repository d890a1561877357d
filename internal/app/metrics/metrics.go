package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "six",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "six",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "six",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	rateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "six",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Total sliding-window quota decisions.",
		},
		[]string{"scope", "allowed"},
	)

	lifecycleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "six",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Total interaction state transitions.",
		},
		[]string{"entity", "to"},
	)

	sweepResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "six",
			Subsystem: "maintenance",
			Name:      "swept_total",
			Help:      "Total rows transitioned or evicted by background sweeps.",
		},
		[]string{"job"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		rateLimitDecisions,
		lifecycleTransitions,
		sweepResults,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordRateLimitDecision counts one quota decision.
func RecordRateLimitDecision(scope string, allowed bool) {
	rateLimitDecisions.WithLabelValues(scope, strconv.FormatBool(allowed)).Inc()
}

// RecordLifecycleTransition counts one state transition.
func RecordLifecycleTransition(entity, to string) {
	lifecycleTransitions.WithLabelValues(entity, to).Inc()
}

// RecordSweep counts rows handled by a background sweep.
func RecordSweep(job string, count int) {
	if count <= 0 {
		return
	}
	sweepResults.WithLabelValues(job).Add(float64(count))
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses resource IDs so the requests metric stays low
// cardinality.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "intros":
		if len(parts) >= 3 {
			return "/intros/:id/" + parts[2]
		}
		return "/intros"
	case "ghost-asks":
		if len(parts) >= 3 {
			return "/ghost-asks/:id/" + parts[2]
		}
		return "/ghost-asks"
	case "users":
		if len(parts) >= 3 {
			return "/users/:id/" + parts[2]
		}
		return "/users"
	case "notifications":
		if len(parts) >= 3 {
			return "/notifications/:id/" + parts[2]
		}
		return "/notifications"
	default:
		return "/" + parts[0]
	}
}
