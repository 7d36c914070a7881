// Package metrics provides Prometheus metrics for avatar-hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 请求结果标签。
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
)

var (
	// RequestsTotal counts avatar requests by result.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avatarhub",
			Name:      "requests_total",
			Help:      "Total number of avatar requests",
		},
		[]string{"result"},
	)

	// UpstreamErrorsTotal counts upstream failures by kind.
	UpstreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avatarhub",
			Name:      "upstream_errors_total",
			Help:      "Total number of upstream failures",
		},
		[]string{"kind"},
	)

	// RefreshDuration measures a full refresh (user lookup, avatar download, cache write).
	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "avatarhub",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of avatar refreshes in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// SharedRefreshTotal counts requests that joined an in-flight refresh.
	SharedRefreshTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "avatarhub",
			Name:      "shared_refresh_total",
			Help:      "Requests served by joining an in-flight refresh",
		},
	)

	// CacheWriteFailuresTotal counts failed cache writes.
	CacheWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "avatarhub",
			Name:      "cache_write_failures_total",
			Help:      "Total number of failed cache writes",
		},
	)
)

// RecordRequest records the outcome of one avatar request.
func RecordRequest(result string) {
	RequestsTotal.WithLabelValues(result).Inc()
}

// RecordUpstreamError records an upstream failure.
func RecordUpstreamError(kind string) {
	UpstreamErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordRefresh records a refresh with its duration in seconds.
func RecordRefresh(status string, duration float64) {
	RefreshDuration.WithLabelValues(status).Observe(duration)
}

// RecordSharedRefresh records a request that reused another caller's refresh.
func RecordSharedRefresh() {
	SharedRefreshTotal.Inc()
}

// RecordCacheWriteFailure records a failed cache write.
func RecordCacheWriteFailure() {
	CacheWriteFailuresTotal.Inc()
}
