package research

import (
	"errors"
	"net"

	"deepresearch/internal/ratelimit"
	"deepresearch/internal/retry"
	"deepresearch/provider"
	"deepresearch/tools/web_fetch"
	"deepresearch/tools/web_search"
)

// ErrQueryGenerationFailed marks an unrecoverable sub-query expansion.
// Fatal for the calling branch; at the root there is nothing to recurse
// into, so it fails the whole operation.
var ErrQueryGenerationFailed = errors.New("query generation failed")

// ErrSummarizationFailed marks a batch whose LLM distillation produced no
// usable learnings structure. Fatal for the branch.
var ErrSummarizationFailed = errors.New("summarization failed")

// ErrNoLearnings is returned alongside the aggregated result when every
// branch came back empty; callers report it as an operation failure.
var ErrNoLearnings = errors.New("research produced no learnings")

// classifyOutbound is the retry classification shared by search and fetch:
// rate-limit signals and transient network failures are retryable, an
// exhausted global budget and everything else is fatal.
func classifyOutbound(err error) retry.Classification {
	var exhausted ratelimit.ErrGlobalBudgetExhausted
	if errors.As(err, &exhausted) {
		return retry.Fatal
	}
	var limited ratelimit.ErrRateLimited
	if errors.As(err, &limited) {
		return retry.Retryable
	}
	if errors.Is(err, web_search.ErrRateLimited) ||
		errors.Is(err, web_fetch.ErrRateLimited) ||
		errors.Is(err, provider.ErrRateLimited) {
		return retry.Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return retry.Retryable
	}
	return retry.Fatal
}
