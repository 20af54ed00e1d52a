package model

import "time"

// Tier grades source quality from 1 (best) to 6 (worst)
type Tier int

const (
	TierUnknown     Tier = 0 // Not yet classified
	TierScholarly   Tier = 1 // Top scholarly venues and journals
	TierAcademic    Tier = 2 // Academic institution domains
	TierGovernment  Tier = 3 // Government and international bodies
	TierResearchOrg Tier = 4 // Named research organizations
	TierNewsAgency  Tier = 5 // Established news agencies
	TierGeneral     Tier = 6 // Everything else
)

func (t Tier) String() string {
	switch t {
	case TierScholarly:
		return "scholarly"
	case TierAcademic:
		return "academic"
	case TierGovernment:
		return "government"
	case TierResearchOrg:
		return "research"
	case TierNewsAgency:
		return "news"
	case TierGeneral:
		return "general"
	default:
		return "unknown"
	}
}

// FetchStatus records how a source's content was obtained
type FetchStatus string

const (
	FetchOK     FetchStatus = "ok"     // Fetched fresh from the network
	FetchFailed FetchStatus = "failed" // Fetch attempted and failed
	FetchCached FetchStatus = "cached" // Served from the evidence cache
)

// Source is one evidence location consulted for a claim
type Source struct {
	ID        string      `json:"id"`              // Sequential per run (s1, s2, ...)
	URL       string      `json:"url"`             // Normalized URL
	Domain    string      `json:"domain"`          // Host with port and www. stripped
	Tier      Tier        `json:"tier"`            // Quality grade, 1-6
	Title     string      `json:"title,omitempty"` // Title from search results or page
	Status    FetchStatus `json:"status"`
	FetchedAt time.Time   `json:"fetched_at,omitempty"`
}

// Snippet is a claim-relevant excerpt from one source
type Snippet struct {
	ID        string  `json:"id"`       // Sequential per run (sn1, sn2, ...)
	ClaimID   string  `json:"claim_id"` // Must reference an existing claim
	SourceID  string  `json:"source_id"`
	Text      string  `json:"text"`
	Relevance float64 `json:"relevance"` // Lexical overlap with the claim, [0,1]
}
