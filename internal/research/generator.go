package research

import (
	"context"
	"fmt"
	"log"
	"strings"

	"deepresearch/internal/jsonrepair"
	"deepresearch/internal/telemetry"
)

// LLMProvider is the slice of the language-model capability the research
// core consumes.
type LLMProvider interface {
	GenerateWithTokens(ctx context.Context, prompt string, model string, maxTokens int) (string, int64, int64, error)
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// QueryGenerator expands a topic into refined sub-queries via the LLM.
type QueryGenerator struct {
	llm       LLMProvider
	model     string
	maxTokens int
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

func NewQueryGenerator(llm LLMProvider, model string, maxTokens int, tel *telemetry.Telemetry, logger *log.Logger) *QueryGenerator {
	return &QueryGenerator{llm: llm, model: model, maxTokens: maxTokens, telemetry: tel, logger: logger}
}

// Generate asks the LLM for up to maxQueries unique sub-queries with stated
// research goals. Prior learnings, when present, steer the model toward
// more specific directions. Returns ErrQueryGenerationFailed when no valid
// queries array is recoverable; callers treat that as fatal for the branch.
func (g *QueryGenerator) Generate(ctx context.Context, topic string, maxQueries int, priorLearnings []string) ([]Query, error) {
	if maxQueries <= 0 {
		maxQueries = 1
	}

	prompt := g.buildPrompt(topic, maxQueries, priorLearnings)

	resp, inTok, outTok, err := g.llm.GenerateWithTokens(ctx, prompt, g.model, g.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryGenerationFailed, err)
	}
	g.telemetry.RecordLLMUsage(g.model, inTok, outTok, g.llm.CalculateCost(inTok, outTok, g.model))

	obj, err := jsonrepair.ParseObject(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryGenerationFailed, err)
	}
	rawQueries, ok := obj["queries"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: response has no queries array", ErrQueryGenerationFailed)
	}

	queries := make([]Query, 0, maxQueries)
	seen := make(map[string]struct{}, maxQueries)
	for _, raw := range rawQueries {
		if len(queries) >= maxQueries {
			break
		}
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		text := strings.TrimSpace(stringField(m, "query"))
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		queries = append(queries, Query{
			Text:         text,
			ResearchGoal: strings.TrimSpace(stringField(m, "researchGoal", "research_goal", "goal")),
		})
	}

	if len(queries) == 0 {
		return nil, fmt.Errorf("%w: queries array contained no usable entries", ErrQueryGenerationFailed)
	}
	if g.logger != nil {
		g.logger.Printf("generated %d sub-queries for %q", len(queries), topic)
	}
	return queries, nil
}

func (g *QueryGenerator) buildPrompt(topic string, maxQueries int, priorLearnings []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Given the following research topic, generate a list of search queries to research it further. Return at most %d queries, each exploring a distinct direction. Make each query specific enough to return focused results.

Topic: %s
`, maxQueries, topic)
	if len(priorLearnings) > 0 {
		b.WriteString("\nUse these learnings from earlier research to generate more specific queries:\n")
		for _, l := range priorLearnings {
			b.WriteString("- ")
			b.WriteString(l)
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, `
Respond with a JSON object of the form:
{"queries": [{"query": "<search query>", "researchGoal": "<what this query should uncover and how to advance the research once answered>"}]}
`)
	return b.String()
}

func stringField(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok {
			return v
		}
	}
	return ""
}
