package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/indraastra/iffy-sub000/pkg/llm"
)

var (
	metricTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iffy",
		Name:      "turns_total",
		Help:      "Number of narration turns processed, by mode.",
	}, []string{"mode"})
	metricTurnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "iffy",
		Name:      "turn_duration_seconds",
		Help:      "Wall time of narration turns including the model call.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"mode"})
	metricTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iffy",
		Name:      "llm_tokens_total",
		Help:      "Tokens consumed by narration calls, by direction.",
	}, []string{"direction"})
	metricClassifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iffy",
		Name:      "classifications_total",
		Help:      "Number of action classifications, by resulting mode.",
	}, []string{"mode"})
	metricClassifierAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "iffy",
		Name:      "classifier_attempts",
		Help:      "Model calls spent per classification before a valid reply.",
		Buckets:   []float64{0, 1, 2, 3},
	})
	metricCompactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iffy",
		Name:      "memory_compactions_total",
		Help:      "Memory compaction runs, by outcome.",
	}, []string{"outcome"})
	metricCompactionRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "iffy",
		Name:      "memory_entries_compacted_total",
		Help:      "Memory entries removed by successful compactions.",
	})
)

// Prometheus records engine activity to the default prometheus registry.
// It satisfies metrics.Recorder from pkg/metrics.
type Prometheus struct{}

func NewPrometheus() *Prometheus {
	return &Prometheus{}
}

func (p *Prometheus) RecordTurn(mode string, duration time.Duration, usage llm.Usage) {
	metricTurns.WithLabelValues(mode).Inc()
	metricTurnDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if usage.InputTokens > 0 {
		metricTokens.WithLabelValues("input").Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		metricTokens.WithLabelValues("output").Add(float64(usage.OutputTokens))
	}
}

func (p *Prometheus) RecordClassification(attempts int, mode string) {
	metricClassifications.WithLabelValues(mode).Inc()
	metricClassifierAttempts.Observe(float64(attempts))
}

func (p *Prometheus) RecordCompaction(before, after int, err error) {
	if err != nil {
		metricCompactions.WithLabelValues("failure").Inc()
		return
	}
	metricCompactions.WithLabelValues("success").Inc()
	if removed := before - after; removed > 0 {
		metricCompactionRemoved.Add(float64(removed))
	}
}
