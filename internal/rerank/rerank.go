// Package rerank rescores search results with an LLM pass. The fused
// hybrid ranking is good at recall; a second model pass with the full
// query in front of each candidate is better at precision for the
// handful of results a caller actually reads.
package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/quarrydocs/quarry/pkg/models"
)

// Completer is the LLM capability the reranker drives.
type Completer interface {
	CompleteWithMaxTokens(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Config bounds the rerank pass.
type Config struct {
	TopN int // number of leading results to rescore; the rest pass through
}

// Reranker rescores the top results of a search against the query.
type Reranker struct {
	completer Completer
	topN      int
}

// New creates a Reranker. TopN defaults to 10.
func New(completer Completer, config Config) *Reranker {
	if config.TopN <= 0 {
		config.TopN = 10
	}
	return &Reranker{completer: completer, topN: config.TopN}
}

// maxExcerptChars limits how much of each candidate goes into the prompt.
const maxExcerptChars = 500

// Rerank rescores up to TopN results in a single LLM call and reorders
// them by the new scores. Results beyond TopN keep their fused order and
// follow the rescored block. The original match types and scores are
// preserved on every result.
func (r *Reranker) Rerank(ctx context.Context, query string, results []models.RankedResult) ([]models.RankedResult, error) {
	if len(results) == 0 {
		return results, nil
	}

	n := r.topN
	if n > len(results) {
		n = len(results)
	}
	head := make([]models.RankedResult, n)
	copy(head, results[:n])

	prompt := buildPrompt(query, head)

	resp, err := r.completer.CompleteWithMaxTokens(ctx, prompt, 16*n)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}

	scores, err := parseScores(resp, n)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rerank response: %w", err)
	}

	for i := range head {
		head[i].RerankScore = scores[i]
	}
	sort.SliceStable(head, func(i, j int) bool {
		return head[i].RerankScore > head[j].RerankScore
	})

	slog.Debug("reranked results", "query", query, "rescored", n, "total", len(results))

	out := make([]models.RankedResult, 0, len(results))
	out = append(out, head...)
	out = append(out, results[n:]...)
	return out, nil
}

func buildPrompt(query string, candidates []models.RankedResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Score each passage for relevance to the query on a 0-10 scale.
10 means the passage directly answers the query, 0 means unrelated.

Query: %s

`, query)
	for i, c := range candidates {
		excerpt := c.Chunk.Content
		if len(excerpt) > maxExcerptChars {
			excerpt = excerpt[:maxExcerptChars]
		}
		fmt.Fprintf(&b, "Passage %d:\n%s\n\n", i+1, excerpt)
	}
	fmt.Fprintf(&b, `Return ONLY %d comma-separated numbers, one score per passage in order.
Example: 7, 2, 9`, len(candidates))
	return b.String()
}

// parseScores extracts exactly n numeric scores from the model response,
// normalized to [0,1].
func parseScores(resp string, n int) ([]float64, error) {
	// Models sometimes wrap the answer in prose; keep only the line that
	// looks like a score list.
	line := resp
	for _, l := range strings.Split(resp, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if strings.Count(l, ",") == n-1 {
			line = l
			break
		}
	}

	parts := strings.Split(line, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d scores, got %d in %q", n, len(parts), resp)
	}

	scores := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid score %q: %w", p, err)
		}
		if v < 0 {
			v = 0
		}
		if v > 10 {
			v = 10
		}
		scores[i] = v / 10
	}
	return scores, nil
}
