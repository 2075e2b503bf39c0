package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "magnetstream",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "magnetstream",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "magnetstream",
		Name:      "active_sessions",
		Help:      "Number of currently active torrent sessions.",
	})

	SessionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "magnetstream",
		Name:      "sessions_created_total",
		Help:      "Total number of torrent sessions created.",
	})

	SessionsEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "magnetstream",
		Name:      "sessions_evicted_total",
		Help:      "Total number of idle sessions removed by the janitor.",
	})

	ProgressEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "magnetstream",
		Name:      "progress_events_total",
		Help:      "Total number of progress events delivered to subscribers.",
	})

	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "magnetstream",
		Name:      "ws_connections",
		Help:      "Number of currently connected WebSocket clients.",
	})

	StreamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "magnetstream",
		Name:      "streams_active",
		Help:      "Number of HTTP stream responses currently being served.",
	})

	StreamBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "magnetstream",
		Name:      "stream_bytes_total",
		Help:      "Total bytes written to HTTP stream responses.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveSessions,
		SessionsCreatedTotal,
		SessionsEvictedTotal,
		ProgressEventsTotal,
		WSConnections,
		StreamsActive,
		StreamBytesTotal,
	)
}
