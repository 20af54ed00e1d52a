// Package verify judges claims against their gathered evidence and guards
// the backend's ratings with an evidence gate.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ppiankov/evident/internal/config"
	"github.com/ppiankov/evident/internal/llm"
	"github.com/ppiankov/evident/internal/model"
	"github.com/ppiankov/evident/internal/worker"
)

const verifySystem = `You are a meticulous fact-checker. Judge the claim using ONLY the numbered evidence snippets provided. Each snippet is tagged [id | tier N | domain]; tier 1 is the most authoritative, tier 6 the least.

Respond with strict JSON and nothing else:
{"rating": "...", "confidence": 0.0, "citations": [{"id": "sn1", "stance": "supports"}], "rationale": "two sentences at most"}

rating is one of: VERIFIED, LIKELY TRUE, INSUFFICIENT EVIDENCE, CONFLICTING EVIDENCE, LIKELY FALSE, FALSE.
stance is one of: supports, contradicts, neutral.
Cite only snippet ids that appear in the evidence. If the evidence does not settle the claim, say INSUFFICIENT EVIDENCE.`

// Verifier produces one verdict per claim on a bounded worker pool
type Verifier struct {
	provider llm.Provider
	cfg      config.VerifyConfig
	log      *slog.Logger
}

// NewVerifier creates a claim verifier
func NewVerifier(provider llm.Provider, cfg config.VerifyConfig, log *slog.Logger) *Verifier {
	return &Verifier{
		provider: provider,
		cfg:      cfg,
		log:      log.With("component", "verify"),
	}
}

// VerifyClaims judges every claim and returns verdicts in claim order.
// Claims with no snippets are settled as INSUFFICIENT EVIDENCE without a
// backend call.
func (v *Verifier) VerifyClaims(ctx context.Context, run *model.RunState, claims []model.Claim, evidence []model.ClaimEvidence) []model.Verdict {
	if len(claims) == 0 {
		return nil
	}

	byClaim := make(map[string]*model.ClaimEvidence, len(evidence))
	for i := range evidence {
		byClaim[evidence[i].ClaimID] = &evidence[i]
	}

	workers := v.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(claims) {
		workers = len(claims)
	}

	pool := worker.NewPool(workers)
	pool.Start()
	for _, claim := range claims {
		pool.Submit(&verifyJob{ctx: ctx, verifier: v, run: run, claim: claim, evidence: byClaim[claim.ID]})
	}

	verdictByClaim := make(map[string]model.Verdict, len(claims))
	for _, res := range pool.Wait() {
		vr, ok := res.(*verifyResult)
		if !ok {
			continue
		}
		verdictByClaim[vr.verdict.ClaimID] = vr.verdict
	}

	verdicts := make([]model.Verdict, 0, len(claims))
	for _, claim := range claims {
		verdict, ok := verdictByClaim[claim.ID]
		if !ok {
			continue
		}
		verdicts = append(verdicts, verdict)
		run.Counters.VerdictsProduced.Add(1)
	}
	return verdicts
}

type verifyJob struct {
	ctx      context.Context
	verifier *Verifier
	run      *model.RunState
	claim    model.Claim
	evidence *model.ClaimEvidence
}

type verifyResult struct {
	verdict model.Verdict
}

func (r *verifyResult) GetError() error { return nil }

func (j *verifyJob) Execute(_ context.Context) worker.Result {
	if j.evidence == nil || len(j.evidence.Snippets) == 0 {
		return &verifyResult{verdict: model.Verdict{
			ClaimID:    j.claim.ID,
			Rating:     model.RatingInsufficient,
			Confidence: 0,
			Rationale:  "no evidence snippets were gathered for this claim",
		}}
	}
	return &verifyResult{verdict: j.verifier.verifyClaim(j.ctx, j.run, j.claim, j.evidence)}
}

// verifyClaim runs the backend judgment with one retry. A response citing
// unknown snippet ids or carrying an unknown rating is rejected whole; after
// the retry the claim degrades to INSUFFICIENT EVIDENCE.
func (v *Verifier) verifyClaim(ctx context.Context, run *model.RunState, claim model.Claim, ev *model.ClaimEvidence) model.Verdict {
	prompt := buildClaimPrompt(claim, ev)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := v.provider.Generate(ctx, llm.Request{
			Role:   llm.RoleVerify,
			System: verifySystem,
			Prompt: prompt,
		})
		if err != nil {
			lastErr = err
			continue
		}
		run.Usage(run.Stage()).Add(resp.PromptTokens, resp.CompletionTokens)

		parsed, err := parseVerdict(resp.Text, ev)
		if err != nil {
			lastErr = err
			v.log.Debug("verdict response rejected", "claim", claim.ID, "error", err)
			continue
		}

		verdict := model.Verdict{
			ClaimID:    claim.ID,
			Rating:     parsed.rating,
			Confidence: clamp01(parsed.confidence),
			Citations:  citationIDs(parsed.citations),
			Rationale:  parsed.rationale,
		}
		if gated, reason := applyGate(parsed.rating, parsed.citations); reason != "" {
			verdict.Rating = gated
			verdict.Downgraded = true
			verdict.DowngradeReason = reason
			v.log.Warn("verdict downgraded", "claim", claim.ID, "proposed", parsed.rating, "reason", reason)
		}
		return verdict
	}

	v.log.Warn("claim verification degraded", "claim", claim.ID, "error", lastErr)
	return model.Verdict{
		ClaimID:    claim.ID,
		Rating:     model.RatingInsufficient,
		Confidence: 0,
		Rationale:  fmt.Sprintf("evidence evaluation failed: %v", lastErr),
	}
}

// buildClaimPrompt enumerates only this claim's snippets, tagged with id,
// tier and domain
func buildClaimPrompt(claim model.Claim, ev *model.ClaimEvidence) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Claim: %s\n\nEvidence snippets:\n", claim.Text)
	for _, sn := range ev.Snippets {
		src, _ := ev.Source(sn.SourceID)
		fmt.Fprintf(&sb, "[%s | tier %d | %s] %s\n", sn.ID, src.Tier, src.Domain, sn.Text)
	}
	return sb.String()
}

type parsedVerdict struct {
	rating     model.Rating
	confidence float64
	citations  []citation
	rationale  string
}

// parseVerdict decodes and validates the backend's judgment. Any citation
// of a snippet id outside the claim's evidence rejects the whole response.
func parseVerdict(raw string, ev *model.ClaimEvidence) (*parsedVerdict, error) {
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

	rating, ok := model.ParseClaimRating(body.Rating)
	if !ok {
		return nil, fmt.Errorf("unknown rating %q", body.Rating)
	}

	cites, err := parseCitations(body.Citations, rating, ev)
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

// parseCitations validates citation entries against the claim's snippets.
// Entries may be {"id","stance"} objects or bare id strings; a bare id
// inherits the stance implied by the rating. Duplicate ids collapse.
func parseCitations(entries []json.RawMessage, rating model.Rating, ev *model.ClaimEvidence) ([]citation, error) {
	var out []citation
	seen := make(map[string]bool)

	for _, raw := range entries {
		var id, stance string

		var obj struct {
			ID     string `json:"id"`
			Stance string `json:"stance"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil && obj.ID != "" {
			id = obj.ID
			stance = strings.ToLower(strings.TrimSpace(obj.Stance))
		} else {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("unreadable citation entry %s", string(raw))
			}
			id = strings.TrimSpace(s)
		}

		if _, ok := ev.Snippet(id); !ok {
			return nil, fmt.Errorf("citation %q does not match any provided snippet", id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		switch stance {
		case stanceSupports, stanceContradicts, stanceNeutral:
		default:
			stance = impliedStance(rating)
		}
		out = append(out, citation{id: id, stance: stance, tier: ev.SnippetTier(id)})
	}
	return out, nil
}

// impliedStance fills a missing stance marker: citations on a FALSE-leaning
// rating are contradicting the claim, otherwise supporting it
func impliedStance(rating model.Rating) string {
	if rating == model.RatingFalse || rating == model.RatingLikelyFalse {
		return stanceContradicts
	}
	return stanceSupports
}

func citationIDs(cites []citation) []string {
	if len(cites) == 0 {
		return nil
	}
	ids := make([]string, 0, len(cites))
	for _, c := range cites {
		ids = append(ids, c.id)
	}
	return ids
}
