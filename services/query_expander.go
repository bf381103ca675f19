package services

import (
	"context"
	"fmt"
	"strings"
)

const rewriteTemplate = `Rewrite the user's query into %d diverse search queries.
User: %s
Output each rewrite on a new line without numbering.`

// QueryExpander asks the language model for paraphrased search
// queries to widen recall. Expansion is a recall enhancement, not a
// correctness requirement: callers treat its failure as non-fatal and
// fall back to the original query alone.
type QueryExpander struct {
	completions CompletionService
}

func NewQueryExpander(completions CompletionService) *QueryExpander {
	return &QueryExpander{completions: completions}
}

// Expand returns up to n semantically diverse rewrites of query.
// Blank and duplicate lines are dropped, so the result is often
// shorter than n.
func (qe *QueryExpander) Expand(ctx context.Context, query string, n int) ([]string, error) {
	prompt := fmt.Sprintf(rewriteTemplate, n, query)

	text, _, err := qe.completions.Complete(ctx, prompt, 0.5)
	if err != nil {
		return nil, &RetrievalError{Op: "query expansion", Err: err}
	}

	seen := make(map[string]bool)
	rewrites := make([]string, 0, n)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		rewrites = append(rewrites, line)
		if len(rewrites) == n {
			break
		}
	}
	return rewrites, nil
}
