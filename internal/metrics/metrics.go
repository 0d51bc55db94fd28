package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stremtui",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stremtui",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	CatalogRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stremtui",
		Name:      "catalog_requests_total",
		Help:      "Total catalog fan-out requests by content type and outcome.",
	}, []string{"contentType", "status"})

	StreamProviderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stremtui",
		Name:      "stream_provider_requests_total",
		Help:      "Total stream lookup requests by provider and outcome.",
	}, []string{"provider", "status"})

	StreamProviderDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stremtui",
		Name:      "stream_provider_duration_seconds",
		Help:      "Stream provider response time in seconds.",
		Buckets:   []float64{0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"provider"})

	TrackerRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stremtui",
		Name:      "tracker_refresh_total",
		Help:      "Tracker list refresh attempts by outcome (fetched, cached, stale, empty).",
	}, []string{"outcome"})

	PlaybackSessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stremtui",
		Name:      "playback_sessions_total",
		Help:      "Finished playback sessions by result.",
	}, []string{"result"})

	BufferedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stremtui",
		Name:      "buffered_bytes",
		Help:      "Bytes of the selected file downloaded so far in the active session.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stremtui",
		Name:      "peers_connected",
		Help:      "Peers connected to the active transfer.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		CatalogRequestsTotal,
		StreamProviderRequestsTotal,
		StreamProviderDuration,
		TrackerRefreshTotal,
		PlaybackSessionsTotal,
		BufferedBytes,
		PeersConnected,
	)
}
