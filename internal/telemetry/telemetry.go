// Package telemetry provides monitoring and cost tracking for research runs.
package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"deepresearch/config"
)

// Telemetry records research events and tracks LLM spend.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker

	registry        *prometheus.Registry
	runsTotal       *prometheus.CounterVec
	branchesTotal   *prometheus.CounterVec
	searchesTotal   *prometheus.CounterVec
	fetchesTotal    *prometheus.CounterVec
	llmTokensTotal  *prometheus.CounterVec
	branchDurations prometheus.Histogram
}

// Metrics holds aggregate counters for a telemetry instance.
type Metrics struct {
	mu sync.RWMutex

	Runs             int64
	SuccessfulRuns   int64
	FailedRuns       int64
	Branches         int64
	FailedBranches   int64
	Searches         int64
	FailedSearches   int64
	PagesFetched     int64
	FailedFetches    int64
	LearningsTotal   int64
	VisitedURLsTotal int64
}

// CostTracker tracks LLM usage across models.
type CostTracker struct {
	mu sync.RWMutex

	ModelCosts  map[string]float64
	ModelTokens map[string]int64
	TotalCost   float64
	TotalTokens int64
}

// RunEvent describes one completed top-level research run.
type RunEvent struct {
	RunID       string
	Query       string
	Breadth     int
	Depth       int
	StartTime   time.Time
	EndTime     time.Time
	Learnings   int
	VisitedURLs int
	Errors      int
	Success     bool
}

// BranchEvent describes one completed branch.
type BranchEvent struct {
	RunID    string
	Query    string
	Depth    int
	Duration time.Duration
	Success  bool
	Error    string
}

// New creates a telemetry instance with its own prometheus registry so
// concurrent instances never collide on collector registration.
func New(cfg config.TelemetryConfig, logger *log.Logger) *Telemetry {
	t := &Telemetry{
		config:  cfg,
		logger:  logger,
		metrics: &Metrics{},
		costTracker: &CostTracker{
			ModelCosts:  make(map[string]float64),
			ModelTokens: make(map[string]int64),
		},
		registry: prometheus.NewRegistry(),
	}

	t.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deepresearch_runs_total",
		Help: "Completed research runs by outcome.",
	}, []string{"outcome"})
	t.branchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deepresearch_branches_total",
		Help: "Completed research branches by outcome.",
	}, []string{"outcome"})
	t.searchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deepresearch_searches_total",
		Help: "Web searches by outcome.",
	}, []string{"outcome"})
	t.fetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deepresearch_fetches_total",
		Help: "Page fetches by outcome.",
	}, []string{"outcome"})
	t.llmTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deepresearch_llm_tokens_total",
		Help: "LLM tokens by model and direction.",
	}, []string{"model", "direction"})
	t.branchDurations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "deepresearch_branch_duration_seconds",
		Help:    "Branch wall time including recursion.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	t.registry.MustRegister(t.runsTotal, t.branchesTotal, t.searchesTotal,
		t.fetchesTotal, t.llmTokensTotal, t.branchDurations)

	return t
}

// Registry exposes the prometheus registry for callers that serve metrics.
func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}

// RecordRunEvent records a completed research run.
func (t *Telemetry) RecordRunEvent(ev RunEvent) {
	if t == nil {
		return
	}
	t.metrics.mu.Lock()
	t.metrics.Runs++
	if ev.Success {
		t.metrics.SuccessfulRuns++
	} else {
		t.metrics.FailedRuns++
	}
	t.metrics.LearningsTotal += int64(ev.Learnings)
	t.metrics.VisitedURLsTotal += int64(ev.VisitedURLs)
	t.metrics.mu.Unlock()

	t.runsTotal.WithLabelValues(outcome(ev.Success)).Inc()

	if t.config.PeriodicLogs && t.logger != nil {
		t.logger.Printf("run %s: %d learnings, %d urls, %d branch errors in %v",
			ev.RunID, ev.Learnings, ev.VisitedURLs, ev.Errors, ev.EndTime.Sub(ev.StartTime))
	}
}

// RecordBranchEvent records a completed branch.
func (t *Telemetry) RecordBranchEvent(ev BranchEvent) {
	if t == nil {
		return
	}
	t.metrics.mu.Lock()
	t.metrics.Branches++
	if !ev.Success {
		t.metrics.FailedBranches++
	}
	t.metrics.mu.Unlock()

	t.branchesTotal.WithLabelValues(outcome(ev.Success)).Inc()
	t.branchDurations.Observe(ev.Duration.Seconds())
}

// RecordSearch records one search attempt outcome.
func (t *Telemetry) RecordSearch(ok bool, results int) {
	if t == nil {
		return
	}
	t.metrics.mu.Lock()
	t.metrics.Searches++
	if !ok {
		t.metrics.FailedSearches++
	}
	t.metrics.mu.Unlock()
	t.searchesTotal.WithLabelValues(outcome(ok)).Inc()
}

// RecordFetch records one page fetch outcome.
func (t *Telemetry) RecordFetch(ok bool) {
	if t == nil {
		return
	}
	t.metrics.mu.Lock()
	if ok {
		t.metrics.PagesFetched++
	} else {
		t.metrics.FailedFetches++
	}
	t.metrics.mu.Unlock()
	t.fetchesTotal.WithLabelValues(outcome(ok)).Inc()
}

// RecordLLMUsage records token usage and cost for one LLM call.
func (t *Telemetry) RecordLLMUsage(model string, inputTokens, outputTokens int64, cost float64) {
	if t == nil || !t.config.CostTracking {
		return
	}
	t.costTracker.mu.Lock()
	t.costTracker.ModelCosts[model] += cost
	t.costTracker.ModelTokens[model] += inputTokens + outputTokens
	t.costTracker.TotalCost += cost
	t.costTracker.TotalTokens += inputTokens + outputTokens
	t.costTracker.mu.Unlock()

	t.llmTokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	t.llmTokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
}

// GetMetrics returns a snapshot of aggregate counters.
func (t *Telemetry) GetMetrics() Metrics {
	t.metrics.mu.RLock()
	defer t.metrics.mu.RUnlock()
	return Metrics{
		Runs:             t.metrics.Runs,
		SuccessfulRuns:   t.metrics.SuccessfulRuns,
		FailedRuns:       t.metrics.FailedRuns,
		Branches:         t.metrics.Branches,
		FailedBranches:   t.metrics.FailedBranches,
		Searches:         t.metrics.Searches,
		FailedSearches:   t.metrics.FailedSearches,
		PagesFetched:     t.metrics.PagesFetched,
		FailedFetches:    t.metrics.FailedFetches,
		LearningsTotal:   t.metrics.LearningsTotal,
		VisitedURLsTotal: t.metrics.VisitedURLsTotal,
	}
}

// GetCostSummary returns total and per-model LLM spend.
func (t *Telemetry) GetCostSummary() map[string]interface{} {
	t.costTracker.mu.RLock()
	defer t.costTracker.mu.RUnlock()
	models := make(map[string]float64, len(t.costTracker.ModelCosts))
	for m, c := range t.costTracker.ModelCosts {
		models[m] = c
	}
	return map[string]interface{}{
		"total_cost_usd": t.costTracker.TotalCost,
		"total_tokens":   t.costTracker.TotalTokens,
		"model_costs":    models,
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
