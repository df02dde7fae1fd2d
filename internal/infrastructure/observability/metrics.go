package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	Logins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Total number of login attempts",
		},
		[]string{"status"},
	)

	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_refreshes_total",
			Help: "Total number of access-token refresh attempts",
		},
		[]string{"status"},
	)

	SweptTokens = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_swept_refresh_tokens_total",
			Help: "Total number of expired refresh tokens removed by the sweeper",
		},
	)

	ActiveRefreshTokens = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "auth_active_refresh_tokens",
			Help: "Number of unexpired refresh tokens currently stored",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(
		RepositoryCalls,
		RepositoryDuration,
		Logins,
		TokenRefreshes,
		SweptTokens,
		ActiveRefreshTokens,
	)
}
