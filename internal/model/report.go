package model

import "time"

// Report is the complete fact-check output for one run, rendered to
// runs/<id>/report.json and report.md
type Report struct {
	RunID          string    `json:"run_id"`
	Title          string    `json:"title,omitempty"`
	TranscriptPath string    `json:"transcript_path,omitempty"`
	CreatedAt      time.Time `json:"created_at"`

	Claims   []Claim          `json:"claims"`
	Groups   []NarrativeGroup `json:"groups,omitempty"`
	Evidence []ClaimEvidence  `json:"evidence,omitempty"`
	Verdicts []Verdict        `json:"verdicts"`

	Summary *Summary `json:"summary,omitempty"`
}

// Summary is the backend-written narrative overview. It never affects
// ratings; URLs outside the gathered evidence are stripped before it
// lands here, with a warning recorded per leak.
type Summary struct {
	Provider string   `json:"provider,omitempty"`
	Model    string   `json:"model,omitempty"`
	Markdown string   `json:"markdown,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// VerdictFor returns the claim-level verdict for a claim id
func (r *Report) VerdictFor(claimID string) (Verdict, bool) {
	for _, v := range r.Verdicts {
		if v.ClaimID == claimID {
			return v, true
		}
	}
	return Verdict{}, false
}

// GroupVerdictFor returns the group-level verdict for a group id
func (r *Report) GroupVerdictFor(groupID string) (Verdict, bool) {
	for _, v := range r.Verdicts {
		if v.GroupID == groupID {
			return v, true
		}
	}
	return Verdict{}, false
}

// EvidenceFor returns the evidence bundle for a claim id
func (r *Report) EvidenceFor(claimID string) (ClaimEvidence, bool) {
	for _, ev := range r.Evidence {
		if ev.ClaimID == claimID {
			return ev, true
		}
	}
	return ClaimEvidence{}, false
}

// RatingCounts tallies claim verdicts by rating for the manifest and the
// history store. Group verdicts are excluded.
func (r *Report) RatingCounts() map[string]int {
	counts := make(map[string]int)
	for _, v := range r.Verdicts {
		if v.ClaimID == "" {
			continue
		}
		counts[string(v.Rating)]++
	}
	return counts
}
