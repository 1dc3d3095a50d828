package provider

import (
	"context"
	"errors"
	"fmt"

	"deepresearch/config"
	openai_provider "deepresearch/provider/openai"
)

// ErrRateLimited is returned when the upstream LLM API answers 429.
var ErrRateLimited = errors.New("llm rate limited")

// Provider is the language-model capability the research core consumes.
// Responses are plain text with no structural guarantee; callers run them
// through the JSON repair parser before structural use.
type Provider interface {
	Generate(ctx context.Context, prompt string, model string, maxTokens int) (string, error)
	GenerateWithTokens(ctx context.Context, prompt string, model string, maxTokens int) (string, int64, int64, error)
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// NewProvider creates an LLM client from the configured provider set.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	for name, p := range cfg.Providers {
		switch p.Type {
		case "openai":
			return openai_provider.NewClient(p, ErrRateLimited), nil
		case "anthropic":
			return nil, fmt.Errorf("provider %s: anthropic client not implemented yet", name)
		default:
			return nil, fmt.Errorf("provider %s: unsupported type %q", name, p.Type)
		}
	}
	return nil, errors.New("no LLM providers configured")
}

// Route picks the configured model for a task, falling back when unset.
func Route(cfg config.LLMRoutingConfig, task string) string {
	var m string
	switch task {
	case "query_generation":
		m = cfg.QueryGeneration
	case "summarization":
		m = cfg.Summarization
	case "report":
		m = cfg.Report
	}
	if m == "" {
		m = cfg.Fallback
	}
	return m
}
