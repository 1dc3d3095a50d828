package research

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"

	"deepresearch/config"
	"deepresearch/internal/ratelimit"
	"deepresearch/internal/telemetry"
	"deepresearch/tools/web_search"
	search_models "deepresearch/tools/web_search/models"
)

func newTestAdapter(t *testing.T, searcher Searcher, fetcher Fetcher, limiter *ratelimit.Limiter, maxSERP int) *SearchFetcher {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	tel := telemetry.New(config.TelemetryConfig{}, logger)
	if limiter == nil {
		limiter = ratelimit.New(config.RateLimitConfig{})
	}
	cfg := testResearchConfig()
	return NewSearchFetcher(searcher, fetcher, limiter, tel, logger, cfg, maxSERP)
}

func TestSearchTruncatesToMaxResults(t *testing.T) {
	a := newTestAdapter(t, &fakeSearcher{perCall: 10}, &fakeFetcher{}, nil, 3)
	got, err := a.Search(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
}

// flakySearcher fails with a retryable rate-limit error a fixed number of
// times before succeeding.
type flakySearcher struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakySearcher) Discover(ctx context.Context, q string, k, offset int, safesearch string) ([]search_models.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, web_search.ErrRateLimited
	}
	return []search_models.Result{{URL: "https://example.test/ok"}}, nil
}

func TestSearchRetriesRateLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps for seconds")
	}
	searcher := &flakySearcher{failures: 1}
	a := newTestAdapter(t, searcher, &fakeFetcher{}, nil, 5)
	a.cfg.SearchRetryAttempts = 2

	got, err := a.Search(context.Background(), "q")
	if err != nil {
		t.Fatalf("Search should recover after one rate limit: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	if searcher.calls != 2 {
		t.Fatalf("searcher called %d times, want 2", searcher.calls)
	}
}

// fatalSearcher always fails with a non-retryable error.
type fatalSearcher struct {
	calls int
}

func (f *fatalSearcher) Discover(ctx context.Context, q string, k, offset int, safesearch string) ([]search_models.Result, error) {
	f.calls++
	return nil, errors.New("invalid api key")
}

func TestSearchFatalErrorDoesNotRetry(t *testing.T) {
	searcher := &fatalSearcher{}
	a := newTestAdapter(t, searcher, &fakeFetcher{}, nil, 5)
	a.cfg.SearchRetryAttempts = 3

	_, err := a.Search(context.Background(), "bad query")
	if err == nil {
		t.Fatal("want error for fatal search failure")
	}
	if searcher.calls != 1 {
		t.Fatalf("searcher called %d times, want 1 (no retries on fatal errors)", searcher.calls)
	}
}

func TestFetchAllDropsFailedAndEmptyPages(t *testing.T) {
	a := newTestAdapter(t, &fakeSearcher{}, &fakeFetcher{failFor: "broken", empty: "hollow"}, nil, 5)
	serp := []search_models.Result{
		{URL: "https://example.test/good"},
		{URL: "https://example.test/broken"},
		{URL: "https://example.test/hollow"},
	}
	pages := a.FetchAll(context.Background(), "q", serp)
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1: %+v", len(pages), pages)
	}
	if pages[0].URL != "https://example.test/good" {
		t.Fatalf("kept wrong page: %+v", pages[0])
	}
	if !strings.Contains(pages[0].Content, "body of") {
		t.Fatalf("content missing: %+v", pages[0])
	}
}

func TestFetchAllStopsAtGlobalBudget(t *testing.T) {
	limiter := ratelimit.New(config.RateLimitConfig{
		Enabled:              true,
		SearchPerMinute:      100,
		FetchPerMinute:       100,
		ReportPerMinute:      100,
		GlobalFetchPerMinute: 2,
	})
	a := newTestAdapter(t, &fakeSearcher{}, &fakeFetcher{}, limiter, 5)
	serp := []search_models.Result{
		{URL: "https://example.test/1"},
		{URL: "https://example.test/2"},
		{URL: "https://example.test/3"},
		{URL: "https://example.test/4"},
	}
	pages := a.FetchAll(context.Background(), "q", serp)
	if len(pages) != 2 {
		t.Fatalf("got %d pages, want 2 (global budget)", len(pages))
	}
	if got := limiter.GlobalRemaining(); got != 0 {
		t.Fatalf("global remaining = %d, want 0", got)
	}
}
