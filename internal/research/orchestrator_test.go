package research

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"

	"deepresearch/config"
	"deepresearch/internal/ratelimit"
	"deepresearch/internal/telemetry"
	fetch_models "deepresearch/tools/web_fetch/models"
	search_models "deepresearch/tools/web_search/models"
)

// fakeLLM routes prompts by shape: summarization prompts carry <content>
// tags, everything else is treated as query generation.
type fakeLLM struct {
	mu          sync.Mutex
	genPrompts  []string
	sumPrompts  []string
	sumCalls    int
	genResponse string
	sumResponse func(call int) string
	genErr      error
}

func (f *fakeLLM) GenerateWithTokens(ctx context.Context, prompt, model string, maxTokens int) (string, int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.Contains(prompt, "<content") {
		f.sumPrompts = append(f.sumPrompts, prompt)
		f.sumCalls++
		return f.sumResponse(f.sumCalls), 10, 5, nil
	}
	f.genPrompts = append(f.genPrompts, prompt)
	if f.genErr != nil {
		return "", 0, 0, f.genErr
	}
	return f.genResponse, 10, 5, nil
}

func (f *fakeLLM) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	return 0
}

func (f *fakeLLM) generatorCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.genPrompts)
}

// fakeSearcher hands out sequentially numbered URLs, optionally failing
// for selected query substrings.
type fakeSearcher struct {
	mu      sync.Mutex
	next    int
	perCall int
	failFor string
}

func (f *fakeSearcher) Discover(ctx context.Context, q string, k, offset int, safesearch string) ([]search_models.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor != "" && strings.Contains(q, f.failFor) {
		return nil, errors.New("search backend down")
	}
	n := f.perCall
	if n == 0 {
		n = 2
	}
	out := make([]search_models.Result, 0, n)
	for i := 0; i < n; i++ {
		f.next++
		out = append(out, search_models.Result{
			URL:   fmt.Sprintf("https://example.test/page-%d", f.next),
			Title: fmt.Sprintf("page %d", f.next),
		})
	}
	return out, nil
}

type fakeFetcher struct {
	failFor string
	empty   string
}

func (f *fakeFetcher) Exec(ctx context.Context, url string) (fetch_models.Result, error) {
	if f.failFor != "" && strings.Contains(url, f.failFor) {
		return fetch_models.Result{}, errors.New("boom")
	}
	if f.empty != "" && strings.Contains(url, f.empty) {
		return fetch_models.Result{URL: url, Status: 200}, nil
	}
	return fetch_models.Result{URL: url, Text: "body of " + url, Status: 200}, nil
}

func genResponse(queries ...string) string {
	parts := make([]string, 0, len(queries))
	for _, q := range queries {
		parts = append(parts, fmt.Sprintf(`{"query": %q, "researchGoal": "explore %s"}`, q, q))
	}
	return `{"queries": [` + strings.Join(parts, ",") + `]}`
}

func testResearchConfig() config.ResearchConfig {
	return config.ResearchConfig{
		DefaultBreadth:      2,
		DefaultDepth:        1,
		MaxBreadth:          10,
		MaxDepth:            5,
		MaxLearnings:        5,
		MaxFollowUps:        3,
		ConcurrencyLimit:    2,
		SearchRetryAttempts: 1,
		FetchRetryAttempts:  1,
	}
}

func newTestOrchestrator(t *testing.T, cfg config.ResearchConfig, llm *fakeLLM, searcher Searcher, fetcher Fetcher, limiter *ratelimit.Limiter) *Orchestrator {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	tel := telemetry.New(config.TelemetryConfig{}, logger)
	if limiter == nil {
		limiter = ratelimit.New(config.RateLimitConfig{})
	}
	adapter := NewSearchFetcher(searcher, fetcher, limiter, tel, logger, cfg, 5)
	gen := NewQueryGenerator(llm, "gen-model", 1000, tel, logger)
	sum := NewSummarizer(llm, "sum-model", 1000, tel, logger)
	return NewOrchestratorWithDeps(cfg, logger, tel, gen, sum, adapter)
}

func TestRunAggregatesAcrossLevels(t *testing.T) {
	llm := &fakeLLM{
		genResponse: genResponse("sub-a", "sub-b"),
		sumResponse: func(call int) string {
			return fmt.Sprintf(`{"learnings": ["common fact", "fact-%d"], "followUpQuestions": ["dig deeper"]}`, call)
		},
	}
	o := newTestOrchestrator(t, testResearchConfig(), llm, &fakeSearcher{}, &fakeFetcher{}, nil)

	res, err := o.Run(context.Background(), "test topic", 2, 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// depth 2, breadth 2: the root expands into 2 branches, each branch
	// recurses into a level of breadth 1, so 3 generator calls and 4
	// summarized batches in total.
	if got := llm.generatorCalls(); got != 3 {
		t.Fatalf("generator calls = %d, want 3", got)
	}
	common := 0
	for _, l := range res.Learnings {
		if l == "common fact" {
			common++
		}
	}
	if common != 1 {
		t.Fatalf("'common fact' appears %d times, want exactly 1", common)
	}
	if len(res.Learnings) != 5 { // common fact + 4 unique per-batch facts
		t.Fatalf("learnings = %v, want 5 entries", res.Learnings)
	}
	// 4 network phases x 2 fetched pages, all URLs unique
	if len(res.VisitedURLs) != 8 {
		t.Fatalf("visited URLs = %d, want 8", len(res.VisitedURLs))
	}
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected branch errors: %v", res.Errors)
	}
}

func TestRunHalvesBreadthPerLevel(t *testing.T) {
	llm := &fakeLLM{
		genResponse: genResponse("sub-a"),
		sumResponse: func(int) string {
			return `{"learnings": ["fact"], "followUpQuestions": []}`
		},
	}
	o := newTestOrchestrator(t, testResearchConfig(), llm, &fakeSearcher{}, &fakeFetcher{}, nil)

	if _, err := o.Run(context.Background(), "topic", 5, 2); err != nil {
		t.Fatalf("Run: %v", err)
	}

	llm.mu.Lock()
	defer llm.mu.Unlock()
	if len(llm.genPrompts) != 2 {
		t.Fatalf("generator calls = %d, want 2", len(llm.genPrompts))
	}
	if !strings.Contains(llm.genPrompts[0], "at most 5 queries") {
		t.Fatalf("root prompt should ask for 5 queries:\n%s", llm.genPrompts[0])
	}
	if !strings.Contains(llm.genPrompts[1], "at most 3 queries") {
		t.Fatalf("second level should ask for ceil(5/2)=3 queries:\n%s", llm.genPrompts[1])
	}
}

func TestRunClampsToConfiguredMaxima(t *testing.T) {
	cfg := testResearchConfig()
	cfg.MaxBreadth = 2
	cfg.MaxDepth = 1
	llm := &fakeLLM{
		genResponse: genResponse("sub-a", "sub-b"),
		sumResponse: func(int) string {
			return `{"learnings": ["fact"], "followUpQuestions": []}`
		},
	}
	o := newTestOrchestrator(t, cfg, llm, &fakeSearcher{}, &fakeFetcher{}, nil)

	if _, err := o.Run(context.Background(), "topic", 50, 50); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// depth clamped to 1: no recursion, so exactly one generator call
	if got := llm.generatorCalls(); got != 1 {
		t.Fatalf("generator calls = %d, want 1", got)
	}
	llm.mu.Lock()
	prompt := llm.genPrompts[0]
	llm.mu.Unlock()
	if !strings.Contains(prompt, "at most 2 queries") {
		t.Fatalf("breadth should clamp to 2:\n%s", prompt)
	}
}

func TestRunBranchFailureContained(t *testing.T) {
	llm := &fakeLLM{
		genResponse: genResponse("sub-good", "sub-bad"),
		sumResponse: func(int) string {
			return `{"learnings": ["surviving fact"], "followUpQuestions": []}`
		},
	}
	o := newTestOrchestrator(t, testResearchConfig(), llm, &fakeSearcher{failFor: "sub-bad"}, &fakeFetcher{}, nil)

	res, err := o.Run(context.Background(), "topic", 2, 1)
	if err != nil {
		t.Fatalf("Run should succeed when one branch fails: %v", err)
	}
	if len(res.Learnings) != 1 || res.Learnings[0] != "surviving fact" {
		t.Fatalf("learnings = %v, want the good branch's fact", res.Learnings)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "sub-bad") {
		t.Fatalf("errors = %v, want one entry naming the failed branch", res.Errors)
	}
}

func TestRunAllBranchesFailReturnsErrNoLearnings(t *testing.T) {
	llm := &fakeLLM{
		genResponse: genResponse("sub-a", "sub-b"),
		sumResponse: func(int) string { return `{}` },
	}
	o := newTestOrchestrator(t, testResearchConfig(), llm, &fakeSearcher{failFor: "sub-"}, &fakeFetcher{}, nil)

	res, err := o.Run(context.Background(), "topic", 2, 1)
	if !errors.Is(err, ErrNoLearnings) {
		t.Fatalf("err = %v, want ErrNoLearnings", err)
	}
	if len(res.Errors) != 2 {
		t.Fatalf("errors = %v, want both branches reported", res.Errors)
	}
}

func TestRunAllSummarizationsFailReported(t *testing.T) {
	llm := &fakeLLM{
		genResponse: genResponse("sub-a", "sub-b", "sub-c"),
		sumResponse: func(int) string { return "no structured output today" },
	}
	cfg := testResearchConfig()
	cfg.DefaultBreadth = 3
	o := newTestOrchestrator(t, cfg, llm, &fakeSearcher{}, &fakeFetcher{}, nil)

	res, err := o.Run(context.Background(), "topic", 3, 1)
	if !errors.Is(err, ErrNoLearnings) {
		t.Fatalf("err = %v, want ErrNoLearnings", err)
	}
	if len(res.Errors) != 3 {
		t.Fatalf("errors = %v, want one per failed branch", res.Errors)
	}
	if len(res.Learnings) != 0 || len(res.VisitedURLs) != 0 {
		t.Fatalf("failed branches must contribute nothing: %+v", res)
	}
}

func TestRunZeroGlobalBudgetYieldsEmptyBranchWithoutError(t *testing.T) {
	limiter := ratelimit.New(config.RateLimitConfig{
		Enabled:              true,
		SearchPerMinute:      100,
		FetchPerMinute:       100,
		ReportPerMinute:      100,
		GlobalFetchPerMinute: 5,
	})
	limiter.SetGlobalRemaining(0)
	llm := &fakeLLM{
		genResponse: genResponse("sub-a"),
		sumResponse: func(int) string { t.Error("summarizer must not see an LLM call for an empty batch"); return "{}" },
	}
	o := newTestOrchestrator(t, testResearchConfig(), llm, &fakeSearcher{}, &fakeFetcher{}, limiter)

	res, err := o.Run(context.Background(), "topic", 1, 1)
	if !errors.Is(err, ErrNoLearnings) {
		t.Fatalf("err = %v, want ErrNoLearnings", err)
	}
	// the branch itself did not fail: every fetch was dropped, leaving an
	// empty batch, which is not an error
	if len(res.Errors) != 0 {
		t.Fatalf("errors = %v, want none", res.Errors)
	}
}

func TestRunRootGenerationFailureIsFatal(t *testing.T) {
	llm := &fakeLLM{genErr: errors.New("model offline")}
	o := newTestOrchestrator(t, testResearchConfig(), llm, &fakeSearcher{}, &fakeFetcher{}, nil)

	_, err := o.Run(context.Background(), "topic", 2, 2)
	if !errors.Is(err, ErrQueryGenerationFailed) {
		t.Fatalf("err = %v, want ErrQueryGenerationFailed", err)
	}
}

func TestRunGlobalFetchBudgetLimitsPages(t *testing.T) {
	limiter := ratelimit.New(config.RateLimitConfig{
		Enabled:              true,
		SearchPerMinute:      100,
		FetchPerMinute:       100,
		ReportPerMinute:      100,
		GlobalFetchPerMinute: 1,
	})
	llm := &fakeLLM{
		genResponse: genResponse("sub-a"),
		sumResponse: func(int) string {
			return `{"learnings": ["fact"], "followUpQuestions": []}`
		},
	}
	o := newTestOrchestrator(t, testResearchConfig(), llm, &fakeSearcher{perCall: 3}, &fakeFetcher{}, limiter)

	res, err := o.Run(context.Background(), "topic", 1, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// one global token: exactly one of the three SERP entries gets fetched
	if len(res.VisitedURLs) != 1 {
		t.Fatalf("visited URLs = %v, want exactly 1", res.VisitedURLs)
	}
}
