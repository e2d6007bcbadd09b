package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/esi_helpdesk/backend/internal/models"
)

// Metrics groups the Prometheus instruments for conversation turns.
type Metrics struct {
	Turns           *prometheus.CounterVec
	GuardrailBlocks prometheus.Counter
	TicketsCreated  *prometheus.CounterVec
	TurnConfidence  prometheus.Histogram
	TurnDuration    prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers the instruments on reg. Tests pass a fresh registry.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by outcome.",
		}, []string{"outcome"}),
		GuardrailBlocks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_blocks_total",
			Help:      "Turns refused by the guardrail screener.",
		}),
		TicketsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_created_total",
			Help:      "Escalation tickets created by tier.",
		}, []string{"tier"}),
		TurnConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_confidence",
			Help:      "Confidence reported for each turn.",
			Buckets:   []float64{0, 0.2, 0.4, 0.6, 0.72, 0.8, 0.88, 0.95, 1},
		}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time spent processing a turn.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) ObserveTurn(outcome string, tier models.Tier, confidence float64, elapsed time.Duration) {
	m.Turns.WithLabelValues(outcome).Inc()
	switch outcome {
	case "blocked":
		m.GuardrailBlocks.Inc()
	case "escalated":
		m.TicketsCreated.WithLabelValues(string(tier)).Inc()
	}
	m.TurnConfidence.Observe(confidence)
	m.TurnDuration.Observe(elapsed.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
