package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"deepresearch/config"
)

// Client implements the LLM capability using OpenAI's chat completions API.
type Client struct {
	config      config.LLMProvider
	models      map[string]config.LLMModel
	httpClient  *http.Client
	rateLimited error // sentinel surfaced on HTTP 429
}

// NewClient creates a new OpenAI client. rateLimited is the error value
// returned when the API throttles us, so callers can classify it without
// importing this package.
func NewClient(cfg config.LLMProvider, rateLimited error) *Client {
	return &Client{
		config:      cfg,
		models:      cfg.Models,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimited: rateLimited,
	}
}

// Generate generates text for a prompt.
func (c *Client) Generate(ctx context.Context, prompt string, model string, maxTokens int) (string, error) {
	resp, _, _, err := c.GenerateWithTokens(ctx, prompt, model, maxTokens)
	return resp, err
}

// GenerateWithTokens generates text and returns prompt/completion token usage.
func (c *Client) GenerateWithTokens(ctx context.Context, prompt string, model string, maxTokens int) (string, int64, int64, error) {
	apiKey := c.config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return "", 0, 0, fmt.Errorf("OpenAI API key not configured")
	}

	m, ok := c.models[model]
	if !ok {
		return "", 0, 0, fmt.Errorf("model %s not configured", model)
	}
	apiModel := m.APIName
	if apiModel == "" {
		apiModel = m.Name
	}
	if maxTokens <= 0 {
		maxTokens = m.MaxTokens
	}

	type chatMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type chatReq struct {
		Model       string    `json:"model"`
		Messages    []chatMsg `json:"messages"`
		Temperature float64   `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
	}

	body, err := json.Marshal(chatReq{
		Model:       apiModel,
		Messages:    []chatMsg{{Role: "user", Content: prompt}},
		Temperature: m.Temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", 0, 0, fmt.Errorf("marshal: %w", err)
	}

	baseURL := c.config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	req, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", 0, 0, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", 0, 0, fmt.Errorf("OpenAI status 429: %w", c.rateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, 0, fmt.Errorf("OpenAI status %d", resp.StatusCode)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, 0, fmt.Errorf("decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", 0, 0, fmt.Errorf("no choices")
	}

	return out.Choices[0].Message.Content, int64(out.Usage.PromptTokens), int64(out.Usage.CompletionTokens), nil
}

// CalculateCost calculates the USD cost for a given number of tokens.
func (c *Client) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	m, ok := c.models[model]
	if !ok {
		return 0.0
	}
	inputCost := float64(inputTokens) / 1000.0 * m.CostPer1K
	outputCost := float64(outputTokens) / 1000.0 * m.CostPer1KOutput
	return inputCost + outputCost
}
