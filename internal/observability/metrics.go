package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ChatTurns          *prometheus.CounterVec
	ModelErrors        *prometheus.CounterVec
	ConfirmationEvents *prometheus.CounterVec
	QueueDepth         prometheus.Gauge
	JobOutcomes        *prometheus.CounterVec
	JobRetries         prometheus.Counter
	TaskOperations     *prometheus.CounterVec
	TurnLatency        prometheus.Histogram
	ActiveSessions     prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ChatTurns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Chat turns by route and outcome.",
		}, []string{"route", "outcome"}),
		ModelErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_errors_total",
			Help:      "Language model failures by call site.",
		}, []string{"site"}),
		ConfirmationEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmation_events_total",
			Help:      "Pending confirmation lifecycle events.",
		}, []string{"event"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_queue_depth",
			Help:      "Jobs currently waiting in the write-behind queue.",
		}),
		JobOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_jobs_total",
			Help:      "Write-behind job outcomes.",
		}, []string{"outcome"}),
		JobRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_job_retries_total",
			Help:      "Write-behind job retry attempts.",
		}),
		TaskOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_operations_total",
			Help:      "Task operations by kind and outcome.",
		}, []string{"operation", "outcome"}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_turn_latency_ms",
			Help:      "End-to-end chat turn latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000},
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of session histories held in memory.",
		}),
	}
}

func (m *Metrics) ObserveTurnLatency(d time.Duration) {
	m.TurnLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
