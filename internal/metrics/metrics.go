package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AgentsMatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_agents_matched_total",
			Help: "Number of times each agent category matched a query",
		},
		[]string{"agent"},
	)

	EntitiesExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_entities_extracted_total",
			Help: "Number of catalog entities extracted from queries",
		},
		[]string{"category"},
	)

	EntitiesUnresolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_entities_unresolved_total",
			Help: "Number of recognized spans that matched nothing in the catalog",
		},
		[]string{"label"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "copilot_generation_duration_seconds",
			Help:    "Duration of LLM generation calls in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "outcome"},
	)

	ResponseParseFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_response_parse_fallbacks_total",
			Help: "Number of JSON answers that were not a JSON object and fell back to raw text",
		},
		[]string{"provider"},
	)

	GenerationRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_generation_retries_total",
			Help: "Number of retried LLM generation attempts",
		},
		[]string{"provider"},
	)

	StageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_workflow_stage_errors_total",
			Help: "Number of workflow stages that failed",
		},
		[]string{"stage", "code"},
	)

	CatalogCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_catalog_cache_lookups_total",
			Help: "Catalog cache lookups by result",
		},
		[]string{"result"},
	)
)

// Outcome labels a finished generation for GenerationDuration
func Outcome(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}
