// Package metrics exposes the application's Prometheus collectors.
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
			Namespace: "noospace",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "noospace",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "noospace",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	posts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "noospace",
			Subsystem: "economy",
			Name:      "posts_total",
			Help:      "Total number of stored posts.",
		},
		[]string{"rewarded"},
	)

	harvests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "noospace",
			Subsystem: "economy",
			Name:      "harvests_total",
			Help:      "Total number of successful harvests.",
		},
	)

	harvestedTokens = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "noospace",
			Subsystem: "economy",
			Name:      "harvested_tokens_total",
			Help:      "Total tokens released from unclaimed pools.",
		},
	)

	resonates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "noospace",
			Subsystem: "economy",
			Name:      "resonates_total",
			Help:      "Total number of resonate increments.",
		},
	)

	sacrifices = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "noospace",
			Subsystem: "economy",
			Name:      "sacrifices_total",
			Help:      "Total number of paid highlight actions.",
		},
	)

	readyPools = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "noospace",
			Subsystem: "economy",
			Name:      "ready_pools",
			Help:      "Number of unclaimed pools currently past their lock window.",
		},
	)

	lockedTokens = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "noospace",
			Subsystem: "economy",
			Name:      "locked_tokens",
			Help:      "Total tokens currently sitting in unclaimed pools.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		posts,
		harvests,
		harvestedTokens,
		resonates,
		sacrifices,
		readyPools,
		lockedTokens,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
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

// RecordPost counts a stored post; rewarded is false for guest posts.
func RecordPost(rewarded bool) {
	posts.WithLabelValues(strconv.FormatBool(rewarded)).Inc()
}

// RecordHarvest counts a successful harvest and the tokens it released.
func RecordHarvest(amount int64) {
	harvests.Inc()
	if amount > 0 {
		harvestedTokens.Add(float64(amount))
	}
}

// SetPoolGauges publishes the current pool census.
func SetPoolGauges(ready int, locked int64) {
	readyPools.Set(float64(ready))
	lockedTokens.Set(float64(locked))
}

// RecordResonate counts one resonate increment.
func RecordResonate() { resonates.Inc() }

// RecordSacrifice counts one paid highlight.
func RecordSacrifice() { sacrifices.Inc() }

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

// canonicalPath collapses per-resource IDs so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "posts":
		if len(parts) == 1 {
			return "/posts"
		}
		if len(parts) == 3 {
			return "/posts/:id/" + parts[2]
		}
		return "/posts/:id"
	case "wallets":
		if len(parts) == 1 {
			return "/wallets"
		}
		if len(parts) == 3 {
			return "/wallets/:wallet/" + parts[2]
		}
		return "/wallets/:wallet"
	default:
		return "/" + parts[0]
	}
}
