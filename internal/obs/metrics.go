// Package obs registers and serves Prometheus metrics for the HTTP
// surface.
package obs

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	tokenGrantsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauth_token_grants_total",
			Help: "Token endpoint outcomes by grant type and result.",
		},
		[]string{"grant_type", "result"},
	)

	registerOnce sync.Once
)

// Init registers the metrics with the default registry. Safe to call more
// than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration, tokenGrantsTotal)
	})
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func InFlightInc() { httpInFlight.Inc() }
func InFlightDec() { httpInFlight.Dec() }

// ObserveRequest records one completed HTTP request.
func ObserveRequest(method, path string, status int, seconds float64) {
	code := strconv.Itoa(status)
	httpRequestDuration.WithLabelValues(method, path, code).Observe(seconds)
	httpRequestsTotal.WithLabelValues(method, path, code).Inc()
}

// CountGrant records a token endpoint outcome, e.g. ("authorization_code",
// "ok") or ("refresh_token", "invalid_grant").
func CountGrant(grantType, result string) {
	tokenGrantsTotal.WithLabelValues(grantType, result).Inc()
}
