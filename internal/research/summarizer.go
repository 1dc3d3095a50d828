package research

import (
	"context"
	"fmt"
	"log"
	"strings"

	"deepresearch/internal/jsonrepair"
	"deepresearch/internal/telemetry"
)

// Summarizer distills a batch of fetched pages into learnings and
// follow-up questions via the LLM.
type Summarizer struct {
	llm       LLMProvider
	model     string
	maxTokens int
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

func NewSummarizer(llm LLMProvider, model string, maxTokens int, tel *telemetry.Telemetry, logger *log.Logger) *Summarizer {
	return &Summarizer{llm: llm, model: model, maxTokens: maxTokens, telemetry: tel, logger: logger}
}

// Summarize returns at most maxLearnings learnings and maxFollowUps
// follow-up questions for the batch. An empty batch yields an empty
// LearningSet without invoking the model. Returns ErrSummarizationFailed
// when the response holds no usable arrays; fatal for the branch.
func (s *Summarizer) Summarize(ctx context.Context, query string, pages []FetchedPage, maxLearnings, maxFollowUps int) (LearningSet, error) {
	if len(pages) == 0 {
		return LearningSet{}, nil
	}

	prompt := s.buildPrompt(query, pages, maxLearnings, maxFollowUps)

	resp, inTok, outTok, err := s.llm.GenerateWithTokens(ctx, prompt, s.model, s.maxTokens)
	if err != nil {
		return LearningSet{}, fmt.Errorf("%w: %v", ErrSummarizationFailed, err)
	}
	s.telemetry.RecordLLMUsage(s.model, inTok, outTok, s.llm.CalculateCost(inTok, outTok, s.model))

	obj, err := jsonrepair.ParseObject(resp)
	if err != nil {
		return LearningSet{}, fmt.Errorf("%w: %v", ErrSummarizationFailed, err)
	}

	learnings, ok := stringArray(obj, "learnings")
	if !ok {
		return LearningSet{}, fmt.Errorf("%w: response has no learnings array", ErrSummarizationFailed)
	}
	followUps, ok := stringArray(obj, "followUpQuestions", "follow_up_questions", "followups")
	if !ok {
		return LearningSet{}, fmt.Errorf("%w: response has no followUpQuestions array", ErrSummarizationFailed)
	}

	if len(learnings) > maxLearnings {
		learnings = learnings[:maxLearnings]
	}
	if len(followUps) > maxFollowUps {
		followUps = followUps[:maxFollowUps]
	}
	if s.logger != nil {
		s.logger.Printf("distilled %d learnings and %d follow-ups from %d pages for %q",
			len(learnings), len(followUps), len(pages), query)
	}
	return LearningSet{Learnings: learnings, FollowUpQuestions: followUps}, nil
}

func (s *Summarizer) buildPrompt(query string, pages []FetchedPage, maxLearnings, maxFollowUps int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Given the following contents from a search for the query "%s", distill a list of learnings. Return at most %d learnings and at most %d follow-up questions to research the topic further.

Each learning must be a unique, information-dense, atomic fact. Preserve any entities, metrics, numbers, and dates exactly as they appear in the contents.

`, query, maxLearnings, maxFollowUps)
	for _, p := range pages {
		fmt.Fprintf(&b, "<content url=%q>\n%s\n</content>\n", p.URL, p.Content)
	}
	b.WriteString(`
Respond with a JSON object of the form:
{"learnings": ["<fact>"], "followUpQuestions": ["<question>"]}
`)
	return b.String()
}

// stringArray extracts the first present key as a []string; second return
// is false when no key holds an array.
func stringArray(m map[string]interface{}, keys ...string) ([]string, bool) {
	for _, k := range keys {
		raw, present := m[k]
		if !present {
			continue
		}
		arr, ok := raw.([]interface{})
		if !ok {
			return nil, false
		}
		out := make([]string, 0, len(arr))
		for _, v := range arr {
			if s, ok := v.(string); ok {
				if t := strings.TrimSpace(s); t != "" {
					out = append(out, t)
				}
			}
		}
		return out, true
	}
	return nil, false
}
