package model

import "strings"

// Rating is the outcome classification of a verdict
type Rating string

// Claim-level ratings.
const (
	RatingVerified     Rating = "VERIFIED"
	RatingLikelyTrue   Rating = "LIKELY TRUE"
	RatingInsufficient Rating = "INSUFFICIENT EVIDENCE"
	RatingConflicting  Rating = "CONFLICTING EVIDENCE"
	RatingLikelyFalse  Rating = "LIKELY FALSE"
	RatingFalse        Rating = "FALSE"
)

// Group-level ratings, a narrower set than the claim enumeration.
const (
	RatingConsistent    Rating = "CONSISTENT"
	RatingMisleading    Rating = "MISLEADING"
	RatingContradictory Rating = "CONTRADICTORY"
)

var claimRatings = map[Rating]bool{
	RatingVerified:     true,
	RatingLikelyTrue:   true,
	RatingInsufficient: true,
	RatingConflicting:  true,
	RatingLikelyFalse:  true,
	RatingFalse:        true,
}

var groupRatings = map[Rating]bool{
	RatingConsistent:    true,
	RatingMisleading:    true,
	RatingContradictory: true,
}

// ParseClaimRating normalizes backend output into a claim rating.
// Accepts underscores and mixed case; returns false for anything outside the enumeration.
func ParseClaimRating(s string) (Rating, bool) {
	r := Rating(normalizeRating(s))
	return r, claimRatings[r]
}

// ParseGroupRating normalizes backend output into a group rating.
func ParseGroupRating(s string) (Rating, bool) {
	r := Rating(normalizeRating(s))
	return r, groupRatings[r]
}

func normalizeRating(s string) string {
	s = strings.TrimSpace(strings.ToUpper(s))
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}

// Verdict is the terminal judgment for one claim or one narrative group.
// Exactly one verdict exists per surviving claim and per group; it is never
// mutated after creation.
type Verdict struct {
	ClaimID         string   `json:"claim_id,omitempty"` // Set for claim verdicts
	GroupID         string   `json:"group_id,omitempty"` // Set for group verdicts
	Rating          Rating   `json:"rating"`
	Confidence      float64  `json:"confidence"`          // Clamped to [0,1]
	Citations       []string `json:"citations,omitempty"` // Snippet ids, subset of the claim's snippets
	Rationale       string   `json:"rationale,omitempty"`
	Downgraded      bool     `json:"downgraded,omitempty"` // Gate overrode the backend's rating
	DowngradeReason string   `json:"downgrade_reason,omitempty"`
}
