package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpRequestsTotal     *prometheus.CounterVec
	httpLatencySeconds    *prometheus.HistogramVec
	httpErrorsTotal       *prometheus.CounterVec
	uploadLatencySeconds  prometheus.Histogram
	uploadRejectedTotal   *prometheus.CounterVec
	uploadAcceptedTotal   *prometheus.CounterVec
	transitionsTotal      *prometheus.CounterVec
	analysisInFlight      prometheus.Gauge
	notificationsSent     *prometheus.CounterVec
	dashboardCacheLookups *prometheus.CounterVec
	streamClientsActive   prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used across the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edugrade",
			Name:      "http_requests_total",
			Help:      "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "edugrade",
			Name:      "http_latency_seconds",
			Help:      "Latency distribution for API requests.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edugrade",
			Name:      "http_errors_total",
			Help:      "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		uploadLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "edugrade",
			Name:      "upload_latency_seconds",
			Help:      "Time spent validating and storing submission files.",
			Buckets:   prometheus.DefBuckets,
		})

		uploadRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edugrade",
			Name:      "upload_rejected_total",
			Help:      "Uploads rejected during intake by reason.",
		}, []string{"reason"})

		uploadAcceptedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edugrade",
			Name:      "upload_accepted_total",
			Help:      "Uploads accepted by detected mime type.",
		}, []string{"mime"})

		transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edugrade",
			Name:      "submission_transitions_total",
			Help:      "Submission status transitions by target status.",
		}, []string{"status"})

		analysisInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edugrade",
			Name:      "analysis_in_flight",
			Help:      "Background analyses currently running.",
		})

		notificationsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edugrade",
			Name:      "notifications_sent_total",
			Help:      "Notifications emitted by kind.",
		}, []string{"kind"})

		dashboardCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edugrade",
			Name:      "dashboard_cache_lookups_total",
			Help:      "Dashboard cache lookups by result.",
		}, []string{"result"})

		streamClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edugrade",
			Name:      "notification_stream_clients",
			Help:      "Open SSE and WebSocket notification streams.",
		})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			uploadLatencySeconds,
			uploadRejectedTotal,
			uploadAcceptedTotal,
			transitionsTotal,
			analysisInFlight,
			notificationsSent,
			dashboardCacheLookups,
			streamClientsActive,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

func UploadLatency() prometheus.Histogram {
	RegisterMetrics()
	return uploadLatencySeconds
}

func UploadRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRejectedTotal
}

func UploadAccepted() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadAcceptedTotal
}

// SubmissionTransitions counts lifecycle moves keyed by the status reached.
func SubmissionTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return transitionsTotal
}

func AnalysisInFlight() prometheus.Gauge {
	RegisterMetrics()
	return analysisInFlight
}

func NotificationsSent() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsSent
}

func DashboardCacheLookups() *prometheus.CounterVec {
	RegisterMetrics()
	return dashboardCacheLookups
}

func StreamClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return streamClientsActive
}
