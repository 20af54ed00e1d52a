package verify

import "github.com/ppiankov/evident/internal/model"

// Citation stances as reported by the backend per cited snippet
const (
	stanceSupports    = "supports"
	stanceContradicts = "contradicts"
	stanceNeutral     = "neutral"
)

// citation is a validated snippet reference: the id exists in the claim's
// evidence, the stance is normalized, and the tier comes from the cited
// snippet's source.
type citation struct {
	id     string
	stance string
	tier   model.Tier
}

// applyGate enforces the minimum evidence bar for the backend's proposed
// rating. Stronger ratings need stronger evidence; a rating that fails its
// bar comes back as INSUFFICIENT EVIDENCE with the reason. The bar is
// asymmetric: one credible contradicting source suffices for FALSE, while
// VERIFIED demands quality support and no contradiction at all.
func applyGate(rating model.Rating, cites []citation) (model.Rating, string) {
	supportAtOrBelow := func(t model.Tier) int {
		n := 0
		for _, c := range cites {
			if c.stance == stanceSupports && c.tier <= t {
				n++
			}
		}
		return n
	}
	contradictAtOrBelow := func(t model.Tier) int {
		n := 0
		for _, c := range cites {
			if c.stance == stanceContradicts && c.tier <= t {
				n++
			}
		}
		return n
	}

	switch rating {
	case model.RatingVerified:
		if contradictAtOrBelow(model.TierGeneral) > 0 {
			return model.RatingInsufficient, "a contradicting citation bars VERIFIED"
		}
		if supportAtOrBelow(model.TierAcademic) >= 1 || supportAtOrBelow(model.TierGovernment) >= 2 {
			return rating, ""
		}
		return model.RatingInsufficient, "VERIFIED needs a tier 1-2 source or two tier 1-3 sources"

	case model.RatingLikelyTrue:
		if contradictAtOrBelow(model.TierGovernment) > 0 {
			return model.RatingInsufficient, "a strong contradicting citation bars LIKELY TRUE"
		}
		if supportAtOrBelow(model.TierGovernment) >= 1 {
			return rating, ""
		}
		return model.RatingInsufficient, "LIKELY TRUE needs at least one tier 1-3 source"

	case model.RatingFalse, model.RatingLikelyFalse:
		if contradictAtOrBelow(model.TierNewsAgency) >= 1 {
			return rating, ""
		}
		return model.RatingInsufficient, "a FALSE rating needs a tier 1-5 contradicting source"

	case model.RatingConflicting:
		if supportAtOrBelow(model.TierGovernment) >= 1 && contradictAtOrBelow(model.TierGovernment) >= 1 {
			return rating, ""
		}
		return model.RatingInsufficient, "CONFLICTING EVIDENCE needs tier 1-3 sources on both sides"

	default:
		// INSUFFICIENT EVIDENCE is always permitted
		return model.RatingInsufficient, ""
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
