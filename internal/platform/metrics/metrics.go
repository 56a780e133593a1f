// Package metrics exposes prometheus instrumentation for the identity core.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registerOnce sync.Once

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ceremoniesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webauthn_ceremonies_total",
			Help: "Completed WebAuthn ceremonies by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	tokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokens_issued_total",
			Help: "JWTs issued by token type.",
		},
		[]string{"type"},
	)

	tokenValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_validations_total",
			Help: "Access token validation attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

// Init registers all collectors with the default registry. Safe to call more
// than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight,
			httpRequestsTotal,
			httpRequestDuration,
			ceremoniesTotal,
			tokensIssuedTotal,
			tokenValidationsTotal,
		)
	})
}

// Handler returns the prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCeremony records a finished ceremony outcome.
func ObserveCeremony(kind string, ok bool) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	ceremoniesTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveTokenIssued records an issued token by type.
func ObserveTokenIssued(tokenType string) {
	tokensIssuedTotal.WithLabelValues(tokenType).Inc()
}

// ObserveTokenValidation records a validation attempt outcome.
func ObserveTokenValidation(valid bool) {
	outcome := "invalid"
	if valid {
		outcome = "valid"
	}
	tokenValidationsTotal.WithLabelValues(outcome).Inc()
}

// Instrument wraps a handler with request count, latency, and in-flight
// metrics. The path label carries the registered route pattern, never the
// request path, so path parameters cannot inflate label cardinality.
func Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, route, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, route, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response status code for labeling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
