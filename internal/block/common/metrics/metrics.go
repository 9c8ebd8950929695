// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	reg = prometheus.NewRegistry()

	// AppendsTotal counts append attempts by target ("direct" or "category") and result code.
	AppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sgblock_appends_total", Help: "Blacklist append attempts"},
		[]string{"target", "result"},
	)
	AppendedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sgblock_appended_bytes_total", Help: "Bytes appended to blacklist files"},
	)
	ListingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sgblock_listings_total", Help: "Category listing requests"},
		[]string{"result"},
	)
	CategoriesListed = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "sgblock_categories", Help: "Categories found by the most recent listing"},
	)
	JournalFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sgblock_journal_failures_total", Help: "Successful appends that could not be journaled"},
	)
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sgblock_http_requests_total", Help: "HTTP requests"},
		[]string{"method", "route", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sgblock_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "route"},
	)
	RateLimitRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sgblock_rate_limited_total", Help: "Requests rejected by the rate limiter"},
	)
	AdminAuthFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sgblock_admin_auth_failures_total", Help: "Rejected admin token checks"},
	)
)

var registered atomic.Bool

// Register adds every collector to the private registry once.
func Register() {
	if registered.Swap(true) {
		return
	}
	reg.MustRegister(
		AppendsTotal,
		AppendedBytesTotal,
		ListingsTotal,
		CategoriesListed,
		JournalFailuresTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RateLimitRejectedTotal,
		AdminAuthFailuresTotal,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	Register()
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished HTTP request.
func ObserveRequest(method, route string, status int, dur time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(dur.Seconds())
}

// Gatherer exposes the registry for tests.
func Gatherer() prometheus.Gatherer {
	Register()
	return reg
}
