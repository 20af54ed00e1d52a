package retrieve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/evident/internal/llm"
	"github.com/ppiankov/evident/internal/model"
	"github.com/ppiankov/evident/internal/text"
)

const queryGenSystem = `You write web search queries for fact-checking. Given one claim, produce diverse, specific queries that would surface primary evidence: official statistics, scientific papers, reputable reporting.

Vary the angle: one query for the central figure or event, one for the institution or dataset behind it, one challenging the claim.

Respond with a JSON array of query strings and nothing else.`

const maxQueryChars = 200

// buildQueries produces the search queries for one claim. Backend generation
// is attempted when enabled and falls back to the raw claim text; the
// "fact check" variant is appended last when configured.
func (r *Retriever) buildQueries(ctx context.Context, run *model.RunState, claim model.Claim) []string {
	n := r.cfg.QueriesPerClaim
	if n <= 0 {
		n = 1
	}

	var queries []string
	if r.cfg.EnableQueryGeneration {
		generated, err := r.generateQueries(ctx, run, claim, n)
		if err != nil {
			r.log.Warn("query generation failed, using claim text", "claim", claim.ID, "error", err)
		} else {
			queries = generated
		}
	}
	if len(queries) == 0 {
		queries = []string{text.Truncate(claim.Text, maxQueryChars)}
	}
	if r.cfg.EnableFactcheckQuery {
		queries = append(queries, text.Truncate(claim.Text, maxQueryChars-11)+" fact check")
	}
	return queries
}

// generateQueries asks the backend for queries, retrying once
func (r *Retriever) generateQueries(ctx context.Context, run *model.RunState, claim model.Claim, n int) ([]string, error) {
	prompt := fmt.Sprintf("Claim: %s\n\nWrite %d search queries.", claim.Text, n)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := r.provider.Generate(ctx, llm.Request{
			Role:   llm.RoleQueryGen,
			System: queryGenSystem,
			Prompt: prompt,
		})
		if err != nil {
			lastErr = err
			continue
		}
		run.Usage(run.Stage()).Add(resp.PromptTokens, resp.CompletionTokens)

		queries, err := parseQueries(resp.Text, n)
		if err != nil {
			lastErr = err
			continue
		}
		return queries, nil
	}
	return nil, lastErr
}

// parseQueries decodes a query array, dropping empties and duplicates
func parseQueries(raw string, n int) ([]string, error) {
	jsonText := llm.ExtractJSON(raw)
	if jsonText == "" {
		return nil, fmt.Errorf("no JSON in response")
	}

	var entries []string
	if err := json.Unmarshal([]byte(jsonText), &entries); err != nil {
		var wrapper struct {
			Queries []string `json:"queries"`
		}
		if err := json.Unmarshal([]byte(jsonText), &wrapper); err != nil || wrapper.Queries == nil {
			return nil, fmt.Errorf("response is not a query array")
		}
		entries = wrapper.Queries
	}

	seen := make(map[string]bool)
	var queries []string
	for _, q := range entries {
		q = strings.Join(strings.Fields(q), " ")
		if q == "" || seen[strings.ToLower(q)] {
			continue
		}
		seen[strings.ToLower(q)] = true
		queries = append(queries, text.Truncate(q, maxQueryChars))
		if len(queries) == n {
			break
		}
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("no usable queries in response")
	}
	return queries, nil
}
