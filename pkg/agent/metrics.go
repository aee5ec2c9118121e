package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricExchanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyloom",
		Name:      "exchanges_total",
		Help:      "Completed exchanges by outcome.",
	}, []string{"outcome"})
	metricGenerationAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "storyloom",
		Name:      "generation_attempts",
		Help:      "Generation attempts per exchange.",
		Buckets:   []float64{1, 2, 3},
	})
	metricComplianceRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "storyloom",
		Name:      "compliance_retries_total",
		Help:      "Regenerations triggered by a non-compliant review.",
	})
	metricDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyloom",
		Name:      "degraded_total",
		Help:      "Pipeline stages that fell back to a degraded result.",
	}, []string{"stage"})
	metricConsolidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyloom",
		Name:      "consolidations_total",
		Help:      "Memory log consolidations by outcome.",
	}, []string{"outcome"})
	metricExchangeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "storyloom",
		Name:      "exchange_duration_seconds",
		Help:      "Wall time of a full exchange.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
	})
)

const (
	stageSemantic  = "semantic_retrieval"
	stageReview    = "review"
	stageLocation  = "location"
	stageBlocked   = "generation_blocked"
	stagePublish   = "publish"
	stageRecall    = "memory_recall"
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeDropped = "dropped"
)

func recordDegraded(stage string) {
	metricDegraded.WithLabelValues(stage).Inc()
}

func recordExchange(outcome string, attempts int, seconds float64) {
	metricExchanges.WithLabelValues(outcome).Inc()
	if attempts > 0 {
		metricGenerationAttempts.Observe(float64(attempts))
	}
	metricExchangeDuration.Observe(seconds)
}

func recordComplianceRetry() {
	metricComplianceRetries.Inc()
}

func recordConsolidation(outcome string) {
	metricConsolidations.WithLabelValues(outcome).Inc()
}
