package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the worker.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	SessionOutcomes    *prometheus.CounterVec
	LegEvents          *prometheus.CounterVec
	RepDialLatency     prometheus.Histogram
	LookupDegradations *prometheus.CounterVec
	BriefingResults    *prometheus.CounterVec
	ExpiredSessions    prometheus.Counter
}

// NewMetrics registers all instruments on reg. Tests pass a fresh
// registry so parallel packages never collide.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_transfer_sessions",
			Help:      "Number of transfer sessions currently in flight.",
		}),
		SessionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_outcomes_total",
			Help:      "Finalized transfer sessions by terminal state.",
		}, []string{"state"}),
		LegEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leg_events_total",
			Help:      "Telephony leg events by role and type.",
		}, []string{"role", "event"}),
		RepDialLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rep_dial_latency_seconds",
			Help:      "Time from hold start to representative leg connected.",
			Buckets:   []float64{1, 2, 5, 10, 15, 20, 30, 45},
		}),
		LookupDegradations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_degradations_total",
			Help:      "Lookup calls that returned not-found or failed, by kind.",
		}, []string{"kind"}),
		BriefingResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "briefing_results_total",
			Help:      "Briefing outcomes (acked, timeout, voicemail, rep_left, failed).",
		}, []string{"result"}),
		ExpiredSessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_sessions_total",
			Help:      "Finished sessions dropped from the registry after retention.",
		}),
	}
}

func (m *Metrics) ObserveRepDialLatency(d time.Duration) {
	m.RepDialLatency.Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
