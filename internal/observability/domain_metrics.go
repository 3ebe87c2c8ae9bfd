package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletalk_questions_total",
			Help: "Total number of questions processed by the pipeline, by outcome.",
		},
		[]string{"outcome"},
	)
	admissionRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabletalk_admission_rejected_total",
			Help: "Total number of questions rejected by the relevance gate.",
		},
	)
	executionAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabletalk_execution_attempts_total",
			Help: "Total number of SQL execution attempts, including retries.",
		},
	)
	executionRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabletalk_execution_retries_total",
			Help: "Total number of generation retries triggered by execution failures.",
		},
	)
	pruneDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tabletalk_prune_duration_seconds",
			Help:    "Schema pruning latency per question.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)
	generationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tabletalk_generation_duration_seconds",
			Help:    "SQL generation latency per attempt.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 60},
		},
	)
	prunedColumns = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tabletalk_pruned_columns",
			Help:    "Number of columns surviving schema pruning per question.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
	)
	semanticMatcherAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabletalk_semantic_matcher_available",
			Help: "Whether the semantic matcher is available this process lifetime (1) or disabled (0).",
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		admissionRejectedTotal,
		executionAttemptsTotal,
		executionRetriesTotal,
		pruneDurationSeconds,
		generationDurationSeconds,
		prunedColumns,
		semanticMatcherAvailable,
	)
}

func ObserveQuestion(outcome string) {
	questionsTotal.WithLabelValues(outcome).Inc()
}

func ObserveAdmissionRejected() {
	admissionRejectedTotal.Inc()
}

func ObserveExecutionAttempt(retry bool) {
	executionAttemptsTotal.Inc()
	if retry {
		executionRetriesTotal.Inc()
	}
}

func ObservePrune(columns int, elapsed time.Duration) {
	prunedColumns.Observe(float64(columns))
	pruneDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveGeneration(elapsed time.Duration) {
	generationDurationSeconds.Observe(elapsed.Seconds())
}

func SetSemanticMatcherAvailable(available bool) {
	if available {
		semanticMatcherAvailable.Set(1)
		return
	}
	semanticMatcherAvailable.Set(0)
}
