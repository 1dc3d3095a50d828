package research

// Query is one refined sub-query produced by the query generator.
// Immutable once created.
type Query struct {
	Text         string `json:"query"`
	ResearchGoal string `json:"research_goal"`
}

// FetchedPage is the extracted text of one page. Pages whose fetch failed
// are dropped from the batch, never stored with empty content.
type FetchedPage struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

// LearningSet is the summarizer's distillation of one page batch.
type LearningSet struct {
	Learnings         []string `json:"learnings"`
	FollowUpQuestions []string `json:"follow_up_questions"`
}

// State is the branch-local research state threaded through recursion.
// Each level owns its own copy; children receive derived copies so sibling
// branches cannot observe each other's partial progress.
type State struct {
	Query       string
	Breadth     int
	Depth       int
	Learnings   []string
	VisitedURLs []string
}

// Child derives the state for one level deeper: breadth halves (rounded
// up), depth decrements, and accumulated learnings/URLs are copied.
func (s State) Child(query string, learnings, visited []string) State {
	return State{
		Query:       query,
		Breadth:     NextBreadth(s.Breadth),
		Depth:       s.Depth - 1,
		Learnings:   append([]string(nil), learnings...),
		VisitedURLs: append([]string(nil), visited...),
	}
}

// NextBreadth is ceil(b/2).
func NextBreadth(b int) int {
	if b <= 1 {
		return 1
	}
	return (b + 1) / 2
}

// Result is the terminal or aggregated output at every recursion level.
// Learnings and VisitedURLs hold set semantics under exact string equality;
// Errors are informational descriptions of failed branches, never
// propagated failures.
type Result struct {
	Learnings   []string `json:"learnings"`
	VisitedURLs []string `json:"visited_urls"`
	Errors      []string `json:"errors,omitempty"`
}

// Merge folds another result into r with set-union dedup. Merging children
// in branch order keeps aggregation deterministic for identical inputs.
func (r *Result) Merge(other Result) {
	r.Learnings = UnionStrings(r.Learnings, other.Learnings)
	r.VisitedURLs = UnionStrings(r.VisitedURLs, other.VisitedURLs)
	r.Errors = append(r.Errors, other.Errors...)
}

// UnionStrings appends items not already present in dst, preserving first
// occurrence order. Comparison is exact string equality.
func UnionStrings(dst []string, items []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range items {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		dst = append(dst, s)
	}
	return dst
}
