package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/evident/internal/llm"
	"github.com/ppiankov/evident/internal/model"
)

const verifyGroupSystem = `You assess whether a set of related claims, taken together, tells an honest story. The member claims were already judged individually; their verdicts are given.

Respond with strict JSON and nothing else:
{"rating": "...", "confidence": 0.0, "citations": [{"id": "sn1", "stance": "supports"}], "rationale": "two sentences at most"}

rating is one of:
CONSISTENT - the members reinforce each other and the evidence supports the combined narrative.
MISLEADING - members may be individually defensible but the combination distorts what the evidence shows.
CONTRADICTORY - members conflict with each other or with the evidence.

Cite only snippet ids that appear in the evidence.`

// VerifyGroups judges each narrative group after all member claims have
// verdicts. Groups run sequentially; there are few of them and each prompt
// already carries several claims' evidence.
func (v *Verifier) VerifyGroups(ctx context.Context, run *model.RunState, groups []model.NarrativeGroup, claims []model.Claim, verdicts []model.Verdict, evidence []model.ClaimEvidence) []model.Verdict {
	if len(groups) == 0 {
		return nil
	}

	claimByID := make(map[string]model.Claim, len(claims))
	for _, c := range claims {
		claimByID[c.ID] = c
	}
	verdictByClaim := make(map[string]model.Verdict, len(verdicts))
	for _, verdict := range verdicts {
		if verdict.ClaimID != "" {
			verdictByClaim[verdict.ClaimID] = verdict
		}
	}
	evidenceByClaim := make(map[string]*model.ClaimEvidence, len(evidence))
	for i := range evidence {
		evidenceByClaim[evidence[i].ClaimID] = &evidence[i]
	}

	out := make([]model.Verdict, 0, len(groups))
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			break
		}
		verdict := v.verifyGroup(ctx, run, group, claimByID, verdictByClaim, evidenceByClaim)
		out = append(out, verdict)
		run.Counters.VerdictsProduced.Add(1)
	}
	return out
}

func (v *Verifier) verifyGroup(ctx context.Context, run *model.RunState, group model.NarrativeGroup, claimByID map[string]model.Claim, verdictByClaim map[string]model.Verdict, evidenceByClaim map[string]*model.ClaimEvidence) model.Verdict {
	// The group's citable evidence is the union of member snippets
	union := &model.ClaimEvidence{ClaimID: group.ID}
	var sb strings.Builder
	if group.Rationale != "" {
		fmt.Fprintf(&sb, "Narrative: %s\n\n", group.Rationale)
	}
	for _, claimID := range group.ClaimIDs {
		claim, ok := claimByID[claimID]
		if !ok {
			continue
		}
		rating := model.RatingInsufficient
		if verdict, ok := verdictByClaim[claimID]; ok {
			rating = verdict.Rating
		}
		fmt.Fprintf(&sb, "Claim %s (%s): %s\n", claimID, rating, claim.Text)
		if ev := evidenceByClaim[claimID]; ev != nil {
			for _, sn := range ev.Snippets {
				src, _ := ev.Source(sn.SourceID)
				fmt.Fprintf(&sb, "[%s | tier %d | %s] %s\n", sn.ID, src.Tier, src.Domain, sn.Text)
				union.Snippets = append(union.Snippets, sn)
			}
			union.Sources = append(union.Sources, ev.Sources...)
		}
		sb.WriteString("\n")
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := v.provider.Generate(ctx, llm.Request{
			Role:   llm.RoleVerifyGroup,
			System: verifyGroupSystem,
			Prompt: sb.String(),
		})
		if err != nil {
			lastErr = err
			continue
		}
		run.Usage(run.Stage()).Add(resp.PromptTokens, resp.CompletionTokens)

		parsed, err := parseGroupVerdict(resp.Text, union)
		if err != nil {
			lastErr = err
			v.log.Debug("group verdict rejected", "group", group.ID, "error", err)
			continue
		}
		return model.Verdict{
			GroupID:    group.ID,
			Rating:     parsed.rating,
			Confidence: clamp01(parsed.confidence),
			Citations:  citationIDs(parsed.citations),
			Rationale:  parsed.rationale,
		}
	}

	v.log.Warn("group verification degraded", "group", group.ID, "error", lastErr)
	return model.Verdict{
		GroupID:    group.ID,
		Rating:     model.RatingInsufficient,
		Confidence: 0,
		Rationale:  fmt.Sprintf("group evaluation failed: %v", lastErr),
	}
}

// parseGroupVerdict mirrors parseVerdict with the group rating enumeration
func parseGroupVerdict(raw string, union *model.ClaimEvidence) (*parsedVerdict, error) {
	jsonText := llm.ExtractJSON(raw)
	if jsonText == "" {
		return nil, fmt.Errorf("no JSON in response")
	}

	var body struct {
		Rating     string            `json:"rating"`
		Confidence float64           `json:"confidence"`
		Citations  []json.RawMessage `json:"citations"`
		Rationale  string            `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(jsonText), &body); err != nil {
		return nil, fmt.Errorf("malformed verdict: %w", err)
	}

	rating, ok := model.ParseGroupRating(body.Rating)
	if !ok {
		return nil, fmt.Errorf("unknown group rating %q", body.Rating)
	}

	cites, err := parseCitations(body.Citations, rating, union)
	if err != nil {
		return nil, err
	}

	return &parsedVerdict{
		rating:     rating,
		confidence: body.Confidence,
		citations:  cites,
		rationale:  strings.TrimSpace(body.Rationale),
	}, nil
}
