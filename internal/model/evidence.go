package model

// ClaimEvidence bundles the sources and snippets gathered for one claim.
// Sources and snippets are append-only during retrieval and frozen before
// verification reads them.
type ClaimEvidence struct {
	ClaimID  string    `json:"claim_id"`
	Sources  []Source  `json:"sources,omitempty"`
	Snippets []Snippet `json:"snippets,omitempty"`
}

// Snippet looks up a snippet by id
func (e *ClaimEvidence) Snippet(id string) (Snippet, bool) {
	for _, sn := range e.Snippets {
		if sn.ID == id {
			return sn, true
		}
	}
	return Snippet{}, false
}

// Source looks up a source by id
func (e *ClaimEvidence) Source(id string) (Source, bool) {
	for _, s := range e.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return Source{}, false
}

// SnippetTier resolves the tier of the source backing a snippet
func (e *ClaimEvidence) SnippetTier(snippetID string) Tier {
	sn, ok := e.Snippet(snippetID)
	if !ok {
		return TierUnknown
	}
	src, ok := e.Source(sn.SourceID)
	if !ok {
		return TierUnknown
	}
	return src.Tier
}
