// Package consolidate clusters related claims into narrative groups so
// repeated storylines are judged as a whole, not only sentence by sentence.
package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ppiankov/evident/internal/config"
	"github.com/ppiankov/evident/internal/llm"
	"github.com/ppiankov/evident/internal/model"
	"github.com/ppiankov/evident/internal/text"
)

const consolidateSystem = `You organize fact-check claims into narrative groups.

Claims belong in one group when they build the same storyline or argument: repeating a figure, restating a conclusion, or supplying premises for one another. Claims that merely share a broad topic do not form a group.

Respond with a JSON array and nothing else: [{"claim_ids": ["c1", "c4"], "rationale": "one line on why these form one narrative"}]. Omit claims that stand alone. If no claims are related, respond with [].`

// Consolidator tags claims with narrative group membership. It never adds
// or removes claims.
type Consolidator struct {
	provider llm.Provider
	cfg      config.ConsolidateConfig
	log      *slog.Logger
}

// NewConsolidator creates a consolidator
func NewConsolidator(provider llm.Provider, cfg config.ConsolidateConfig, log *slog.Logger) *Consolidator {
	return &Consolidator{
		provider: provider,
		cfg:      cfg,
		log:      log.With("component", "consolidate"),
	}
}

// Consolidate proposes narrative groups and sets GroupID on member claims.
// The backend proposal is used when it parses; otherwise grouping degrades
// to similarity clustering over claim texts. Groups keep at least two
// members, everything smaller stays standalone.
func (c *Consolidator) Consolidate(ctx context.Context, run *model.RunState, claims []model.Claim) []model.NarrativeGroup {
	if len(claims) < 2 {
		return nil
	}

	groups, err := c.proposeGroups(ctx, run, claims)
	if err != nil {
		c.log.Warn("backend grouping failed, falling back to similarity", "error", err)
		groups = similarityGroups(claims, c.cfg.GroupingThreshold)
	}
	if len(groups) == 0 {
		return nil
	}

	index := make(map[string]int, len(claims))
	for i, claim := range claims {
		index[claim.ID] = i
	}

	// Order groups by their earliest member and assign sequential ids
	sort.SliceStable(groups, func(a, b int) bool {
		return index[groups[a].ClaimIDs[0]] < index[groups[b].ClaimIDs[0]]
	})
	for i := range groups {
		groups[i].ID = fmt.Sprintf("g%d", i+1)
		for _, claimID := range groups[i].ClaimIDs {
			claims[index[claimID]].GroupID = groups[i].ID
		}
	}
	return groups
}

// proposeGroups asks the backend for a grouping, retrying once
func (c *Consolidator) proposeGroups(ctx context.Context, run *model.RunState, claims []model.Claim) ([]model.NarrativeGroup, error) {
	var sb strings.Builder
	for _, claim := range claims {
		fmt.Fprintf(&sb, "%s: %s\n", claim.ID, claim.Text)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := c.provider.Generate(ctx, llm.Request{
			Role:   llm.RoleConsolidate,
			System: consolidateSystem,
			Prompt: sb.String(),
		})
		if err != nil {
			lastErr = err
			continue
		}
		run.Usage(model.StageExtractClaims).Add(resp.PromptTokens, resp.CompletionTokens)

		groups, dropped, err := parseGroups(resp.Text, claims)
		if err != nil {
			lastErr = err
			continue
		}
		if dropped > 0 {
			run.Counters.EntriesDropped.Add(int64(dropped))
			c.log.Debug("dropped invalid group member references", "dropped", dropped)
		}
		return groups, nil
	}
	return nil, lastErr
}

// parseGroups validates the backend proposal: member ids must exist, a claim
// joins at most one group (first wins), and groups need two valid members.
// Unknown ids are dropped and counted.
func parseGroups(raw string, claims []model.Claim) ([]model.NarrativeGroup, int, error) {
	jsonText := llm.ExtractJSON(raw)
	if jsonText == "" {
		return nil, 0, fmt.Errorf("no JSON in response")
	}

	type entry struct {
		ClaimIDs  []string `json:"claim_ids"`
		Rationale string   `json:"rationale"`
	}
	var entries []entry
	if err := json.Unmarshal([]byte(jsonText), &entries); err != nil {
		var wrapper struct {
			Groups []entry `json:"groups"`
		}
		if err := json.Unmarshal([]byte(jsonText), &wrapper); err != nil || wrapper.Groups == nil {
			return nil, 0, fmt.Errorf("response is not a group array")
		}
		entries = wrapper.Groups
	}

	known := make(map[string]bool, len(claims))
	for _, claim := range claims {
		known[claim.ID] = true
	}

	var groups []model.NarrativeGroup
	assigned := make(map[string]bool)
	dropped := 0
	for _, e := range entries {
		var members []string
		for _, id := range e.ClaimIDs {
			if !known[id] || assigned[id] {
				dropped++
				continue
			}
			members = append(members, id)
		}
		if len(members) < 2 {
			continue
		}
		for _, id := range members {
			assigned[id] = true
		}
		groups = append(groups, model.NarrativeGroup{
			ClaimIDs:  members,
			Rationale: strings.TrimSpace(e.Rationale),
		})
	}
	return groups, dropped, nil
}

// similarityGroups clusters claims by token-set similarity at or above the
// threshold, single-link: any qualifying pair joins their clusters
func similarityGroups(claims []model.Claim, threshold float64) []model.NarrativeGroup {
	if threshold <= 0 {
		return nil
	}

	parent := make([]int, len(claims))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	for i := 0; i < len(claims); i++ {
		for j := i + 1; j < len(claims); j++ {
			if text.Jaccard(claims[i].Text, claims[j].Text) >= threshold {
				ri, rj := find(i), find(j)
				if ri != rj {
					parent[rj] = ri
				}
			}
		}
	}

	members := make(map[int][]string)
	var roots []int
	for i := range claims {
		root := find(i)
		if len(members[root]) == 0 {
			roots = append(roots, root)
		}
		members[root] = append(members[root], claims[i].ID)
	}

	var groups []model.NarrativeGroup
	for _, root := range roots {
		if len(members[root]) < 2 {
			continue
		}
		groups = append(groups, model.NarrativeGroup{
			ClaimIDs:  members[root],
			Rationale: "claims with closely overlapping wording",
		})
	}
	return groups
}
