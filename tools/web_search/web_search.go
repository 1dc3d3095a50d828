package web_search

import (
	"context"
	"errors"

	"deepresearch/tools/web_search/brave"
	"deepresearch/tools/web_search/models"
	"deepresearch/tools/web_search/serper"
)

// ErrRateLimited is surfaced when the search API answers 429. It is the
// only retryable search failure.
var ErrRateLimited = errors.New("search rate limited")

// WebSearcher is the web search capability consumed by the research core.
type WebSearcher interface {
	Discover(ctx context.Context, q string, k int, offset int, safesearch string) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

func NewWebSearcher(provider Provider, apiKey string) (WebSearcher, error) {
	switch provider {
	case SerperProvider:
		return serper.Search{ApiKey: apiKey, RateLimited: ErrRateLimited}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey, RateLimited: ErrRateLimited}, nil
	default:
		return nil, errors.New("unsupported search provider")
	}
}
