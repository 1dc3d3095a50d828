package research

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"deepresearch/config"
	"deepresearch/internal/ratelimit"
	"deepresearch/internal/retry"
	"deepresearch/internal/telemetry"
	fetch_models "deepresearch/tools/web_fetch/models"
	search_models "deepresearch/tools/web_search/models"
)

// Searcher is the web-search capability slice the adapter consumes.
type Searcher interface {
	Discover(ctx context.Context, q string, k int, offset int, safesearch string) ([]search_models.Result, error)
}

// Fetcher is the content-extraction capability slice the adapter consumes.
type Fetcher interface {
	Exec(ctx context.Context, url string) (fetch_models.Result, error)
}

// SearchFetcher executes the network phase of one branch: search for a
// sub-query, then retrieve page content for the top results. Every
// outbound call passes through the rate limiter and the retrying wrapper.
type SearchFetcher struct {
	searcher  Searcher
	fetcher   Fetcher
	limiter   *ratelimit.Limiter
	telemetry *telemetry.Telemetry
	logger    *log.Logger
	cfg       config.ResearchConfig
	maxSERP   int
}

func NewSearchFetcher(searcher Searcher, fetcher Fetcher, limiter *ratelimit.Limiter, tel *telemetry.Telemetry, logger *log.Logger, cfg config.ResearchConfig, maxSERP int) *SearchFetcher {
	if maxSERP <= 0 {
		maxSERP = 5
	}
	return &SearchFetcher{
		searcher:  searcher,
		fetcher:   fetcher,
		limiter:   limiter,
		telemetry: tel,
		logger:    logger,
		cfg:       cfg,
		maxSERP:   maxSERP,
	}
}

// Search performs the web search for one sub-query, returning at most the
// configured number of SERP entries. Only rate-limit and transient network
// errors are retried.
func (a *SearchFetcher) Search(ctx context.Context, query string) ([]search_models.Result, error) {
	// pacing delay, applied once before the first attempt
	if err := retry.Pace(ctx, a.cfg.SearchPacingMin, a.cfg.SearchPacingMax); err != nil {
		return nil, err
	}

	attempts := a.cfg.SearchRetryAttempts
	if attempts <= 0 {
		attempts = 3
	}

	results, err := retry.Do(ctx, attempts, retry.SearchPolicy(), classifyOutbound,
		func(ctx context.Context) ([]search_models.Result, error) {
			if err := a.limiter.Acquire(ratelimit.BucketSearch, query); err != nil {
				return nil, err
			}
			return a.searcher.Discover(ctx, query, a.maxSERP, 0, "moderate")
		})
	a.telemetry.RecordSearch(err == nil, len(results))
	if err != nil {
		return nil, err
	}
	if len(results) > a.maxSERP {
		results = results[:a.maxSERP]
	}
	return results, nil
}

// FetchAll retrieves page content for each SERP entry in parallel. A
// failed fetch is logged and its URL dropped from the batch; it never
// aborts the other fetches and is never substituted with a placeholder.
func (a *SearchFetcher) FetchAll(ctx context.Context, query string, serp []search_models.Result) []FetchedPage {
	var (
		mu    sync.Mutex
		pages = make([]FetchedPage, 0, len(serp))
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range serp {
		g.Go(func() error {
			content, err := a.fetchOne(gctx, query, entry.URL)
			a.telemetry.RecordFetch(err == nil && content != "")
			if err != nil {
				if a.logger != nil {
					a.logger.Printf("dropping %s: %v", entry.URL, err)
				}
				return nil // contained: one bad URL must not abort the batch
			}
			if content == "" {
				return nil
			}
			mu.Lock()
			pages = append(pages, FetchedPage{URL: entry.URL, Content: content})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return pages
}

func (a *SearchFetcher) fetchOne(ctx context.Context, query, url string) (string, error) {
	if err := retry.Pace(ctx, a.cfg.FetchPacingMin, a.cfg.FetchPacingMax); err != nil {
		return "", err
	}

	attempts := a.cfg.FetchRetryAttempts
	if attempts <= 0 {
		attempts = 2
	}

	res, err := retry.Do(ctx, attempts, retry.FetchPolicy(), classifyOutbound,
		func(ctx context.Context) (fetch_models.Result, error) {
			// the global counter check happens inside Acquire and fails
			// non-retryably once the minute budget is spent
			if err := a.limiter.Acquire(ratelimit.BucketContentFetch, query); err != nil {
				return fetch_models.Result{}, err
			}
			return a.fetcher.Exec(ctx, url)
		})
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	return res.Text, nil
}
