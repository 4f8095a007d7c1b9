package trigger

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus instrumentation. All collectors
// are registered on the registry passed to NewMetrics.
type Metrics struct {
	// Decisions counts decisions by mode and chosen action.
	Decisions *prometheus.CounterVec

	// EvaluateDuration observes the latency of the full decision path.
	EvaluateDuration prometheus.Histogram

	// DegradedExtractions counts feature extractions that hit the budget.
	DegradedExtractions prometheus.Counter

	// ExamplesOffered counts training examples by provenance.
	ExamplesOffered *prometheus.CounterVec

	// ExamplesDropped counts oldest-dropped examples on queue overflow.
	ExamplesDropped prometheus.Gauge

	// QueueDepth tracks the current training-example buffer size.
	QueueDepth prometheus.Gauge

	// Retrains counts retraining passes by outcome (promoted, rejected, failed).
	Retrains *prometheus.CounterVec

	// AutoPromotions counts learning-to-hybrid self-promotions.
	AutoPromotions prometheus.Counter

	// Feedback counts feedback calls by outcome (confirmed, corrected).
	Feedback *prometheus.CounterVec

	// ProfileResets counts corrupt profiles reset to defaults.
	ProfileResets prometheus.Counter
}

// NewMetrics creates and registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triggerd",
			Name:      "decisions_total",
			Help:      "Decisions by arbitration mode and chosen action.",
		}, []string{"mode", "action"}),
		EvaluateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "triggerd",
			Name:      "evaluate_duration_seconds",
			Help:      "Latency of the full decision path.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		DegradedExtractions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "triggerd",
			Name:      "degraded_extractions_total",
			Help:      "Feature extractions that exceeded their time budget.",
		}),
		ExamplesOffered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triggerd",
			Name:      "training_examples_total",
			Help:      "Training examples offered to the learner, by provenance.",
		}, []string{"provenance"}),
		ExamplesDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "triggerd",
			Name:      "training_examples_dropped",
			Help:      "Cumulative training examples dropped on queue overflow.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "triggerd",
			Name:      "training_queue_depth",
			Help:      "Current training-example buffer size.",
		}),
		Retrains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triggerd",
			Name:      "retrains_total",
			Help:      "Retraining passes by outcome.",
		}, []string{"outcome"}),
		AutoPromotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "triggerd",
			Name:      "auto_promotions_total",
			Help:      "Automatic learning-to-hybrid mode promotions.",
		}),
		Feedback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triggerd",
			Name:      "feedback_total",
			Help:      "Feedback calls by outcome.",
		}, []string{"outcome"}),
		ProfileResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "triggerd",
			Name:      "profile_resets_total",
			Help:      "Corrupt user profiles reset to defaults.",
		}),
	}

	reg.MustRegister(
		m.Decisions,
		m.EvaluateDuration,
		m.DegradedExtractions,
		m.ExamplesOffered,
		m.ExamplesDropped,
		m.QueueDepth,
		m.Retrains,
		m.AutoPromotions,
		m.Feedback,
		m.ProfileResets,
	)
	return m
}

// SetQueueDepth records the buffer size and cumulative drop count.
func (m *Metrics) SetQueueDepth(size int, dropped uint64) {
	m.QueueDepth.Set(float64(size))
	m.ExamplesDropped.Set(float64(dropped))
}
