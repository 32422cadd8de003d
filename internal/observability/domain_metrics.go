package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textsql_queries_total",
			Help: "Total number of query requests by terminal outcome.",
		},
		[]string{"outcome"},
	)
	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "textsql_stage_duration_seconds",
			Help:    "Pipeline stage latency.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)
	schemaCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "textsql_schema_cache_hits_total",
			Help: "Total number of schema snapshot cache hits.",
		},
	)
	schemaCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "textsql_schema_cache_misses_total",
			Help: "Total number of schema snapshot cache misses.",
		},
	)
	llmTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textsql_llm_tokens_total",
			Help: "Total LLM tokens consumed, by kind.",
		},
		[]string{"kind"},
	)
	activeStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "textsql_active_streams",
			Help: "Current number of open progress-event streams.",
		},
	)
	droppedEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "textsql_dropped_events_total",
			Help: "Total stream events dropped due to slow subscribers.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		queriesTotal,
		stageDurationSeconds,
		schemaCacheHitsTotal,
		schemaCacheMissesTotal,
		llmTokensTotal,
		activeStreams,
		droppedEventsTotal,
	)
}

func IncrementQueryOutcome(outcome string) {
	queriesTotal.WithLabelValues(outcome).Inc()
}

func ObserveStageDuration(stage string, elapsed time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func IncrementSchemaCacheHit() {
	schemaCacheHitsTotal.Inc()
}

func IncrementSchemaCacheMiss() {
	schemaCacheMissesTotal.Inc()
}

func AddLLMTokens(prompt, completion int) {
	if prompt > 0 {
		llmTokensTotal.WithLabelValues("prompt").Add(float64(prompt))
	}
	if completion > 0 {
		llmTokensTotal.WithLabelValues("completion").Add(float64(completion))
	}
}

func IncrementActiveStreams() {
	activeStreams.Inc()
}

func DecrementActiveStreams() {
	activeStreams.Dec()
}

func IncrementDroppedEvents() {
	droppedEventsTotal.Inc()
}
