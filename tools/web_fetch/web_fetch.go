package web_fetch

import (
	"context"
	"errors"
	"time"

	chromedp_fetch "deepresearch/tools/web_fetch/chromedp"
	"deepresearch/tools/web_fetch/models"
	readability_fetch "deepresearch/tools/web_fetch/readability"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
)

// ErrRateLimited is surfaced when the target answers 429.
var ErrRateLimited = errors.New("content fetch rate limited")

// WebFetcher is the content-extraction capability consumed by the research
// core. Exec returns an error for unreachable or unreadable pages; callers
// drop the URL rather than keep an empty placeholder.
type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	ChromedpFetcherType    FetcherType = "chromedp"
	ReadabilityFetcherType FetcherType = "readability"
)

func NewWebFetcher(fetcherType FetcherType, timeout time.Duration, maxChars int, userAgent string) (WebFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch fetcherType {
	case ChromedpFetcherType:
		return &chromedp_fetch.Fetch{Timeout: timeout, MaxChars: maxChars, UserAgent: userAgent}, nil
	case ReadabilityFetcherType:
		return &readability_fetch.Fetch{Timeout: timeout, MaxChars: maxChars, UserAgent: userAgent, RateLimited: ErrRateLimited}, nil
	default:
		return nil, errors.New("unsupported fetcher type")
	}
}
