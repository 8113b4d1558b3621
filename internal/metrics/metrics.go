package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Stage metrics
	StagesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_stages_started_total",
			Help: "Total number of pipeline stages started",
		},
		[]string{"stage"},
	)

	StagesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_stages_completed_total",
			Help: "Total number of pipeline stages completed",
		},
		[]string{"stage", "status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fathom_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// Resilient call metrics
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_retry_attempts_total",
			Help: "Total number of resilient call attempts",
		},
		[]string{"label"},
	)

	CallsExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_calls_exhausted_total",
			Help: "Total number of calls that failed after retry exhaustion",
		},
		[]string{"label"},
	)

	// Extractor metrics
	ExtractorRepairs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_extractor_repairs_total",
			Help: "Total number of payloads recovered by the repair pass",
		},
	)

	ExtractorFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_extractor_fallbacks_total",
			Help: "Total number of payloads that fell back to defaults",
		},
		[]string{"payload"},
	)

	// Search metrics
	SearchResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_search_results_total",
			Help: "Total number of search results returned by providers",
		},
		[]string{"provider"},
	)

	SearchProviderFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_search_provider_failures_total",
			Help: "Total number of provider failures skipped by the aggregator",
		},
		[]string{"provider"},
	)

	SearchDedupDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_search_dedup_dropped_total",
			Help: "Total number of results dropped as duplicate URLs",
		},
	)

	BudgetWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_budget_waits_total",
			Help: "Total number of calls that waited on a provider budget",
		},
		[]string{"provider"},
	)

	// Dialogue metrics
	DialogueRounds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_dialogue_rounds_total",
			Help: "Total number of dialogue rounds executed",
		},
	)

	DialogueTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_dialogue_turns_total",
			Help: "Total number of dialogue turns recorded",
		},
		[]string{"agent"},
	)

	UnattributedTurns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_dialogue_unattributed_turns_total",
			Help: "Total number of turns with no citation markers",
		},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_sessions_created_total",
			Help: "Total number of research sessions created",
		},
	)

	SessionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_sessions_completed_total",
			Help: "Total number of research sessions finished",
		},
		[]string{"status"},
	)

	SessionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_session_cache_hits_total",
			Help: "Total number of session local cache hits",
		},
	)

	SessionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_session_cache_misses_total",
			Help: "Total number of session local cache misses",
		},
	)

	SessionCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_session_cache_evictions_total",
			Help: "Total number of sessions evicted from the local cache",
		},
	)

	SessionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_session_conflicts_total",
			Help: "Total number of session updates rejected by version check",
		},
	)

	// Streaming metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_events_published_total",
			Help: "Total number of orchestration events published",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_events_dropped_total",
			Help: "Total number of events dropped for slow subscribers",
		},
	)

	// Archive metrics
	ArchiveWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_archive_writes_total",
			Help: "Total number of archive write requests",
		},
		[]string{"type", "status"},
	)

	ArchiveQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fathom_archive_queue_depth",
			Help: "Current depth of the archive write queue",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fathom_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fathom_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// LLM metrics
	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_llm_calls_total",
			Help: "Total number of LLM completion calls",
		},
		[]string{"purpose", "status"},
	)

	LLMTokensUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fathom_llm_tokens_used",
			Help:    "Number of tokens used per completion",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000},
		},
	)
)
