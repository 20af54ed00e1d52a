// Package extract turns transcript chunks into checkable factual claims
// using the reasoning backend.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ppiankov/evident/internal/config"
	"github.com/ppiankov/evident/internal/llm"
	"github.com/ppiankov/evident/internal/model"
	"github.com/ppiankov/evident/internal/text"
	"github.com/ppiankov/evident/internal/transcript"
)

const extractSystem = `You are a fact-checking assistant. You read a transcript excerpt and list the distinct factual claims it makes.

A claim is a single assertion about the world that could be checked against published evidence: statistics, historical events, scientific findings, statements attributed to people or institutions, comparisons, causal statements.

Not claims: opinions, predictions, rhetorical questions, jokes, statements about the speaker's own feelings.

Rewrite each claim as one complete, self-contained sentence that can be understood without the transcript. Resolve pronouns and vague references.

Respond with a JSON array of strings and nothing else. If the excerpt contains no checkable claims, respond with [].`

// Claim statements outside these bounds are treated as extraction noise
const (
	minClaimChars = 20
	maxClaimChars = 500
)

// Extractor pulls factual claims out of transcript chunks
type Extractor struct {
	provider llm.Provider
	cfg      config.ExtractConfig
	log      *slog.Logger
}

// NewExtractor creates a claim extractor
func NewExtractor(provider llm.Provider, cfg config.ExtractConfig, log *slog.Logger) *Extractor {
	return &Extractor{
		provider: provider,
		cfg:      cfg,
		log:      log.With("component", "extract"),
	}
}

// Extract processes chunks in transcript order and returns the surviving
// claims with sequential ids. A chunk whose backend call fails twice
// contributes zero claims; the failure is counted and the run continues.
// The claim cap keeps the earliest claims, then near-duplicates are removed.
func (e *Extractor) Extract(ctx context.Context, run *model.RunState, chunks []transcript.Chunk) ([]model.Claim, error) {
	var claims []model.Claim
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		texts, err := e.extractChunk(ctx, run, chunk)
		if err != nil {
			run.Counters.ChunksFailed.Add(1)
			e.log.Warn("chunk extraction failed", "chunk", chunk.Index, "error", err)
			continue
		}

		segStart, segEnd := 0, 0
		if len(chunk.Segments) > 0 {
			segStart = chunk.Segments[0].Index
			segEnd = chunk.Segments[len(chunk.Segments)-1].Index
		}
		for _, t := range texts {
			claims = append(claims, model.Claim{
				Text:         t,
				Chunk:        chunk.Index,
				SegmentStart: segStart,
				SegmentEnd:   segEnd,
			})
		}
	}

	if e.cfg.MaxClaims > 0 && len(claims) > e.cfg.MaxClaims {
		e.log.Info("claim cap reached", "extracted", len(claims), "kept", e.cfg.MaxClaims)
		claims = claims[:e.cfg.MaxClaims]
	}

	claims = Dedup(claims, e.cfg.DedupThreshold)
	for i := range claims {
		claims[i].ID = fmt.Sprintf("c%d", i+1)
	}

	run.Counters.ClaimsFound.Add(int64(len(claims)))
	return claims, nil
}

// extractChunk calls the backend for one chunk, retrying once on a failed
// call or an unparsable response
func (e *Extractor) extractChunk(ctx context.Context, run *model.RunState, chunk transcript.Chunk) ([]string, error) {
	start, end := chunk.Span()
	prompt := fmt.Sprintf("Transcript excerpt (%.0fs-%.0fs):\n\n%s", start, end, chunk.Text())

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := e.provider.Generate(ctx, llm.Request{
			Role:   llm.RoleExtract,
			System: extractSystem,
			Prompt: prompt,
		})
		if err != nil {
			lastErr = err
			continue
		}
		run.Usage(model.StageExtractClaims).Add(resp.PromptTokens, resp.CompletionTokens)

		texts, dropped, err := parseClaimArray(resp.Text)
		if err != nil {
			lastErr = err
			continue
		}
		if dropped > 0 {
			run.Counters.EntriesDropped.Add(int64(dropped))
			e.log.Debug("dropped malformed claim entries", "chunk", chunk.Index, "dropped", dropped)
		}
		return texts, nil
	}
	return nil, lastErr
}

// parseClaimArray decodes the backend response into claim statements.
// Entries are accepted as plain strings or as objects carrying a claim/text
// field; everything else is dropped and counted. An unparsable response
// returns an error so the caller can retry.
func parseClaimArray(raw string) ([]string, int, error) {
	jsonText := llm.ExtractJSON(raw)
	if jsonText == "" {
		return nil, 0, fmt.Errorf("no JSON in response")
	}

	var entries []any
	if err := json.Unmarshal([]byte(jsonText), &entries); err != nil {
		var wrapper struct {
			Claims []any `json:"claims"`
		}
		if err := json.Unmarshal([]byte(jsonText), &wrapper); err != nil || wrapper.Claims == nil {
			return nil, 0, fmt.Errorf("response is not a claim array")
		}
		entries = wrapper.Claims
	}

	var texts []string
	dropped := 0
	for _, entry := range entries {
		var statement string
		switch v := entry.(type) {
		case string:
			statement = v
		case map[string]any:
			if s, ok := v["claim"].(string); ok {
				statement = s
			} else if s, ok := v["text"].(string); ok {
				statement = s
			}
		}

		statement = strings.TrimSpace(statement)
		if len(statement) < minClaimChars || len(statement) > maxClaimChars {
			dropped++
			continue
		}
		texts = append(texts, statement)
	}
	return texts, dropped, nil
}

// Dedup removes near-duplicate claims. A claim whose token-set similarity to
// an earlier kept claim is at or above the threshold is a duplicate; the
// earlier occurrence stays canonical. Running Dedup on its own output is a
// no-op.
func Dedup(claims []model.Claim, threshold float64) []model.Claim {
	if threshold <= 0 || len(claims) == 0 {
		return claims
	}

	unique := make([]model.Claim, 0, len(claims))
	for _, claim := range claims {
		duplicate := false
		for _, kept := range unique {
			if text.Jaccard(claim.Text, kept.Text) >= threshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			unique = append(unique, claim)
		}
	}
	return unique
}
