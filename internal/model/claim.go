package model

// Claim represents a factual assertion extracted from the transcript
type Claim struct {
	ID           string `json:"id"`                 // Sequential per run (c1, c2, ...)
	Text         string `json:"text"`               // Complete, self-contained claim statement
	Chunk        int    `json:"chunk"`              // Chunk index the claim was extracted from (0-based)
	SegmentStart int    `json:"segment_start"`      // First transcript segment covered by the chunk
	SegmentEnd   int    `json:"segment_end"`        // Last transcript segment covered by the chunk
	GroupID      string `json:"group_id,omitempty"` // Narrative group membership, set by the consolidator
}

// NarrativeGroup is a cluster of related claims sharing a combined verdict
type NarrativeGroup struct {
	ID        string   `json:"id"`                  // Sequential per run (g1, g2, ...)
	ClaimIDs  []string `json:"claim_ids"`           // Ordered member claims, always >= 2
	Rationale string   `json:"rationale,omitempty"` // Why these claims form one narrative
}
