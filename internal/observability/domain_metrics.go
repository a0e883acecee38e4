package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	synthesisAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querylens_synthesis_attempts_total",
			Help: "Total number of model round-trips attempted for SQL synthesis.",
		},
	)
	synthesisFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylens_synthesis_failures_total",
			Help: "Total number of failed synthesis calls by kind.",
		},
		[]string{"kind"},
	)
	validatorRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylens_validator_rejections_total",
			Help: "Total number of rejected candidate statements by reason.",
		},
		[]string{"reason"},
	)
	executionDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querylens_execution_duration_ms",
			Help:    "Statement execution latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
	)
	executionRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querylens_execution_rows_returned",
			Help:    "Rows returned per executed statement.",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
		},
	)
	executionTruncationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querylens_execution_truncations_total",
			Help: "Total number of results cut at the row cap.",
		},
	)
	executionTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querylens_execution_timeouts_total",
			Help: "Total number of statement timeouts.",
		},
	)
	poolExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querylens_pool_exhausted_total",
			Help: "Total number of requests rejected because the connection pool was saturated.",
		},
	)
	schemaRefreshesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querylens_schema_refreshes_total",
			Help: "Total number of explicit schema descriptor reloads.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		synthesisAttemptsTotal,
		synthesisFailuresTotal,
		validatorRejectionsTotal,
		executionDurationMs,
		executionRowsReturned,
		executionTruncationsTotal,
		executionTimeoutsTotal,
		poolExhaustedTotal,
		schemaRefreshesTotal,
	)
}

func IncrementSynthesisAttempt() {
	synthesisAttemptsTotal.Inc()
}

func IncrementSynthesisFailure(kind string) {
	synthesisFailuresTotal.WithLabelValues(kind).Inc()
}

func IncrementValidatorRejection(reason string) {
	validatorRejectionsTotal.WithLabelValues(reason).Inc()
}

func ObserveExecution(duration time.Duration, rows int, truncated bool) {
	executionDurationMs.Observe(float64(duration.Milliseconds()))
	executionRowsReturned.Observe(float64(rows))
	if truncated {
		executionTruncationsTotal.Inc()
	}
}

func IncrementExecutionTimeout() {
	executionTimeoutsTotal.Inc()
}

func IncrementPoolExhausted() {
	poolExhaustedTotal.Inc()
}

func IncrementSchemaRefresh() {
	schemaRefreshesTotal.Inc()
}
