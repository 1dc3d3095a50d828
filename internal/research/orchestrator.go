package research

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"deepresearch/config"
	"deepresearch/internal/ratelimit"
	"deepresearch/internal/telemetry"
	"deepresearch/provider"
	"deepresearch/tools/web_fetch"
	"deepresearch/tools/web_search"
)

var orchestratorTracer trace.Tracer = otel.Tracer("deepresearch/internal/research")

// Orchestrator drives one recursive research run: expand the query into
// sub-queries, work each branch (search, fetch, summarize), then recurse
// with halved breadth and decremented depth until depth reaches zero.
type Orchestrator struct {
	cfg       config.ResearchConfig
	logger    *log.Logger
	telemetry *telemetry.Telemetry

	generator  *QueryGenerator
	summarizer *Summarizer
	adapter    *SearchFetcher

	// sem bounds concurrent branch network phases across the whole
	// recursion tree, not per level.
	sem *semaphore.Weighted
}

// NewOrchestrator wires the research pipeline from configuration: LLM
// provider, search and fetch tools, rate limiter, and the recursion core.
func NewOrchestrator(cfg *config.Config, logger *log.Logger, tel *telemetry.Telemetry) (*Orchestrator, error) {
	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}

	searcher, err := web_search.NewWebSearcher(web_search.Provider(cfg.Search.Provider), cfg.Search.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create web searcher: %w", err)
	}

	fetcher, err := web_fetch.NewWebFetcher(web_fetch.FetcherType(cfg.Fetch.Fetcher), cfg.Fetch.Timeout, cfg.Fetch.MaxChars, cfg.Fetch.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("failed to create web fetcher: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimit)
	adapter := NewSearchFetcher(searcher, fetcher, limiter, tel, logger, cfg.Research, cfg.Search.MaxResults)

	genModel := provider.Route(cfg.LLM.Routing, "query_generation")
	sumModel := provider.Route(cfg.LLM.Routing, "summarization")

	return &Orchestrator{
		cfg:        cfg.Research,
		logger:     logger,
		telemetry:  tel,
		generator:  NewQueryGenerator(llm, genModel, modelMaxTokens(cfg.LLM, genModel), tel, logger),
		summarizer: NewSummarizer(llm, sumModel, modelMaxTokens(cfg.LLM, sumModel), tel, logger),
		adapter:    adapter,
		sem:        semaphore.NewWeighted(int64(concurrencyLimit(cfg.Research))),
	}, nil
}

// NewOrchestratorWithDeps builds an orchestrator from pre-constructed
// components. Tests use this to substitute fakes.
func NewOrchestratorWithDeps(cfg config.ResearchConfig, logger *log.Logger, tel *telemetry.Telemetry, gen *QueryGenerator, sum *Summarizer, adapter *SearchFetcher) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		telemetry:  tel,
		generator:  gen,
		summarizer: sum,
		adapter:    adapter,
		sem:        semaphore.NewWeighted(int64(concurrencyLimit(cfg))),
	}
}

func concurrencyLimit(cfg config.ResearchConfig) int {
	if cfg.ConcurrencyLimit <= 0 {
		return 2
	}
	return cfg.ConcurrencyLimit
}

func modelMaxTokens(cfg config.LLMConfig, model string) int {
	for _, p := range cfg.Providers {
		if m, ok := p.Models[model]; ok && m.MaxTokens > 0 {
			return m.MaxTokens
		}
	}
	return 2000
}

// Run executes a full research pass for query. Breadth and depth are
// clamped to configured maxima; non-positive values fall back to the
// configured defaults. A failed root expansion aborts the run; failures
// below the root are contained in the branch that raised them. When the
// run completes but yields zero learnings, the aggregated result is
// returned together with ErrNoLearnings.
func (o *Orchestrator) Run(ctx context.Context, query string, breadth, depth int) (Result, error) {
	start := time.Now()
	runID := uuid.New().String()

	if breadth <= 0 {
		breadth = o.cfg.DefaultBreadth
	}
	if depth <= 0 {
		depth = o.cfg.DefaultDepth
	}
	if o.cfg.MaxBreadth > 0 && breadth > o.cfg.MaxBreadth {
		breadth = o.cfg.MaxBreadth
	}
	if o.cfg.MaxDepth > 0 && depth > o.cfg.MaxDepth {
		depth = o.cfg.MaxDepth
	}

	ctx, span := orchestratorTracer.Start(ctx, "research.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("run.breadth", breadth),
			attribute.Int("run.depth", depth),
		))
	defer span.End()

	if o.logger != nil {
		o.logger.Printf("[%s] starting research: breadth=%d depth=%d query=%q", runID, breadth, depth, query)
	}

	result, err := o.deepResearch(ctx, runID, State{
		Query:   query,
		Breadth: breadth,
		Depth:   depth,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.telemetry.RecordRunEvent(telemetry.RunEvent{
			RunID: runID, Query: query, Breadth: breadth, Depth: depth,
			StartTime: start, EndTime: time.Now(), Success: false,
		})
		return Result{}, err
	}

	ev := telemetry.RunEvent{
		RunID:       runID,
		Query:       query,
		Breadth:     breadth,
		Depth:       depth,
		StartTime:   start,
		EndTime:     time.Now(),
		Learnings:   len(result.Learnings),
		VisitedURLs: len(result.VisitedURLs),
		Errors:      len(result.Errors),
		Success:     len(result.Learnings) > 0,
	}
	o.telemetry.RecordRunEvent(ev)

	if len(result.Learnings) == 0 {
		span.SetStatus(codes.Error, "no learnings")
		return result, ErrNoLearnings
	}
	span.SetStatus(codes.Ok, "completed")
	return result, nil
}

// deepResearch is one recursion level: expand the level query into up to
// Breadth sub-queries, run each as an independent branch, and merge the
// branch results in branch order.
func (o *Orchestrator) deepResearch(ctx context.Context, runID string, st State) (Result, error) {
	ctx, span := orchestratorTracer.Start(ctx, "research.level",
		trace.WithAttributes(
			attribute.Int("level.breadth", st.Breadth),
			attribute.Int("level.depth", st.Depth),
		))
	defer span.End()

	queries, err := o.generator.Generate(ctx, st.Query, st.Breadth, st.Learnings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	results := make([]Result, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = o.runBranch(ctx, runID, st, q)
		}()
	}
	wg.Wait()

	merged := Result{
		Learnings:   append([]string(nil), st.Learnings...),
		VisitedURLs: append([]string(nil), st.VisitedURLs...),
	}
	for _, r := range results {
		merged.Merge(r)
	}
	span.SetStatus(codes.Ok, "completed")
	return merged, nil
}

// runBranch works one sub-query end to end. Any failure is converted into
// an informational entry on the branch result so siblings and ancestors
// keep going.
func (o *Orchestrator) runBranch(ctx context.Context, runID string, parent State, q Query) Result {
	start := time.Now()
	ctx, span := orchestratorTracer.Start(ctx, "research.branch",
		trace.WithAttributes(
			attribute.String("branch.query", q.Text),
			attribute.Int("branch.depth", parent.Depth),
		))
	defer span.End()

	res, err := o.branchOnce(ctx, runID, parent, q)
	o.telemetry.RecordBranchEvent(telemetry.BranchEvent{
		RunID:    runID,
		Query:    q.Text,
		Depth:    parent.Depth,
		Duration: time.Since(start),
		Success:  err == nil,
		Error:    errString(err),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if o.logger != nil {
			o.logger.Printf("[%s] branch %q failed: %v", runID, q.Text, err)
		}
		return Result{Errors: []string{fmt.Sprintf("branch %q: %v", q.Text, err)}}
	}
	span.SetStatus(codes.Ok, "completed")
	return res
}

func (o *Orchestrator) branchOnce(ctx context.Context, runID string, parent State, q Query) (Result, error) {
	set, visited, err := o.networkPhase(ctx, q)
	if err != nil {
		return Result{}, err
	}

	learnings := UnionStrings(append([]string(nil), parent.Learnings...), set.Learnings)
	allVisited := UnionStrings(append([]string(nil), parent.VisitedURLs...), visited)

	newDepth := parent.Depth - 1
	if newDepth <= 0 {
		return Result{Learnings: learnings, VisitedURLs: allVisited}, nil
	}

	next := nextQuery(q, set.FollowUpQuestions)
	child := parent.Child(next, learnings, allVisited)
	return o.deepResearch(ctx, runID, child)
}

// networkPhase runs search, fetch, and summarization for one sub-query
// under the global concurrency gate. The gate is released before the
// caller recurses, otherwise a deep tree would deadlock on its own
// ancestors.
func (o *Orchestrator) networkPhase(ctx context.Context, q Query) (LearningSet, []string, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return LearningSet{}, nil, err
	}
	defer o.sem.Release(1)

	serp, err := o.adapter.Search(ctx, q.Text)
	if err != nil {
		return LearningSet{}, nil, fmt.Errorf("search: %w", err)
	}

	pages := o.adapter.FetchAll(ctx, q.Text, serp)
	visited := make([]string, 0, len(pages))
	for _, p := range pages {
		visited = append(visited, p.URL)
	}

	set, err := o.summarizer.Summarize(ctx, q.Text, pages, o.cfg.MaxLearnings, o.cfg.MaxFollowUps)
	if err != nil {
		return LearningSet{}, nil, err
	}
	return set, visited, nil
}

// nextQuery synthesizes the next level's direction from the branch goal
// and its follow-up questions.
func nextQuery(q Query, followUps []string) string {
	var b strings.Builder
	b.WriteString("Previous research goal: ")
	b.WriteString(q.ResearchGoal)
	if len(followUps) > 0 {
		b.WriteString("\nFollow-up research directions:\n")
		for _, f := range followUps {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
