package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filedrop",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "filedrop",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "filedrop",
		Name:      "active_sessions",
		Help:      "Number of transfer sessions tracked by the coordinator.",
	})

	SessionsStartedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filedrop",
		Name:      "sessions_started_total",
		Help:      "Total transfer sessions registered, by role.",
	}, []string{"role"})

	SessionsEndedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filedrop",
		Name:      "sessions_ended_total",
		Help:      "Total transfer sessions removed, by role and outcome.",
	}, []string{"role", "outcome"})

	StartFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filedrop",
		Name:      "session_start_failures_total",
		Help:      "Total rejected or failed session starts, by reason.",
	}, []string{"reason"})

	IgnoredAlertsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "filedrop",
		Name:      "ignored_alerts_total",
		Help:      "Total engine alerts that referenced untracked or closed sessions.",
	})

	StatusEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filedrop",
		Name:      "status_events_total",
		Help:      "Total status events published, by kind.",
	}, []string{"kind"})

	ErrorEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "filedrop",
		Name:      "error_events_total",
		Help:      "Total error events broadcast to observers.",
	})

	DropRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filedrop",
		Name:      "drop_requests_total",
		Help:      "Total drop request transitions written, by status.",
	}, []string{"status"})

	ActiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "filedrop",
		Name:      "active_subscriptions",
		Help:      "Number of open pending-request subscriptions.",
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "filedrop",
		Name:      "download_speed_bytes",
		Help:      "Current aggregate download speed in bytes per second.",
	})

	UploadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "filedrop",
		Name:      "upload_speed_bytes",
		Help:      "Current aggregate upload speed in bytes per second.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "filedrop",
		Name:      "peers_connected",
		Help:      "Total number of peers connected across all sessions.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveSessions,
		SessionsStartedTotal,
		SessionsEndedTotal,
		StartFailuresTotal,
		IgnoredAlertsTotal,
		StatusEventsTotal,
		ErrorEventsTotal,
		DropRequestsTotal,
		ActiveSubscriptions,
		DownloadSpeedBytes,
		UploadSpeedBytes,
		PeersConnected,
	)
}
