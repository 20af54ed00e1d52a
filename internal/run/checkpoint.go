package run

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/evident/internal/model"
)

// stageUsage is the serialized token count for one stage
type stageUsage struct {
	Prompt     int64 `json:"prompt"`
	Completion int64 `json:"completion"`
}

// checkpoint captures a run paused at claim review: the extracted claims and
// groups plus everything needed to rebuild run state and continue.
type checkpoint struct {
	RunID           string                 `json:"run_id"`
	Title           string                 `json:"title,omitempty"`
	TranscriptPath  string                 `json:"transcript_path"`
	StartedAt       time.Time              `json:"started_at"`
	PausedAt        time.Time              `json:"paused_at"`
	BudgetRemaining int64                  `json:"budget_remaining"`
	Counters        model.CounterSnapshot  `json:"counters"`
	Usage           map[string]stageUsage  `json:"usage,omitempty"`
	Claims          []model.Claim          `json:"claims"`
	Groups          []model.NarrativeGroup `json:"groups,omitempty"`
}

func checkpointPath(runsDir, runID string) string {
	return filepath.Join(runsDir, runID, "checkpoint.json")
}

// writeCheckpoint persists the paused run under runs/<id>/checkpoint.json
func writeCheckpoint(runsDir string, run *model.RunState, claims []model.Claim, groups []model.NarrativeGroup) (string, error) {
	usage := make(map[string]stageUsage)
	for _, s := range []model.Stage{model.StagePrepareTranscript, model.StageExtractClaims} {
		u := run.Usage(s)
		if p, c := u.Prompt.Load(), u.Completion.Load(); p > 0 || c > 0 {
			usage[string(s)] = stageUsage{Prompt: p, Completion: c}
		}
	}

	cp := checkpoint{
		RunID:           run.ID,
		Title:           run.Title,
		TranscriptPath:  run.TranscriptPath,
		StartedAt:       run.StartedAt,
		PausedAt:        time.Now().UTC(),
		BudgetRemaining: run.BudgetRemaining(),
		Counters:        run.Counters.Snapshot(),
		Usage:           usage,
		Claims:          claims,
		Groups:          groups,
	}

	path := checkpointPath(runsDir, run.ID)
	if err := writeJSONFile(path, cp); err != nil {
		return "", err
	}
	return path, nil
}

// loadCheckpoint reads a paused run's checkpoint from disk
func loadCheckpoint(runsDir, runID string) (*checkpoint, error) {
	data, err := os.ReadFile(checkpointPath(runsDir, runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no checkpoint for run %s: not paused or already resumed", runID)
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint for run %s: %w", runID, err)
	}
	if cp.RunID == "" || len(cp.Claims) == 0 {
		return nil, fmt.Errorf("checkpoint for run %s is incomplete", runID)
	}
	return &cp, nil
}

// restore rebuilds run state positioned at review_claims. Pre-pause stages
// are re-marked started and finished so their token counts reach the final
// manifest; their recorded durations do not survive the pause.
func (cp *checkpoint) restore() *model.RunState {
	run := model.NewRunState(cp.RunID, cp.Title, cp.TranscriptPath, 0)
	run.StartedAt = cp.StartedAt
	run.AddFetchBudget(cp.BudgetRemaining)

	run.Counters.ClaimsFound.Store(cp.Counters.ClaimsFound)
	run.Counters.SourcesFetched.Store(cp.Counters.SourcesFetched)
	run.Counters.SnippetsMatched.Store(cp.Counters.SnippetsMatched)
	run.Counters.FetchFailures.Store(cp.Counters.FetchFailures)
	run.Counters.VerdictsProduced.Store(cp.Counters.VerdictsProduced)
	run.Counters.ChunksFailed.Store(cp.Counters.ChunksFailed)
	run.Counters.EntriesDropped.Store(cp.Counters.EntriesDropped)
	run.Counters.CacheHits.Store(cp.Counters.CacheHits)

	for name, u := range cp.Usage {
		stage, ok := model.ParseStage(name)
		if !ok {
			continue
		}
		acc := run.Usage(stage)
		acc.Prompt.Store(u.Prompt)
		acc.Completion.Store(u.Completion)
	}

	for _, s := range []model.Stage{model.StagePrepareTranscript, model.StageExtractClaims} {
		run.SetStage(s)
		run.FinishStage(s)
	}
	run.SetStage(model.StageReviewClaims)
	return run
}

// applyReviewDecisions removes dropped claims and repairs group membership.
// Every drop id must name a known claim. Groups left with fewer than two
// members dissolve and their survivors become standalone claims.
func applyReviewDecisions(claims []model.Claim, groups []model.NarrativeGroup, dropIDs []string) ([]model.Claim, []model.NarrativeGroup, error) {
	known := make(map[string]bool, len(claims))
	for _, c := range claims {
		known[c.ID] = true
	}

	drop := make(map[string]bool, len(dropIDs))
	for _, id := range dropIDs {
		if !known[id] {
			return nil, nil, fmt.Errorf("unknown claim id %q in review decisions", id)
		}
		drop[id] = true
	}
	if len(drop) == 0 {
		return claims, groups, nil
	}

	kept := make([]model.Claim, 0, len(claims))
	for _, c := range claims {
		if !drop[c.ID] {
			kept = append(kept, c)
		}
	}

	dissolved := make(map[string]bool)
	keptGroups := make([]model.NarrativeGroup, 0, len(groups))
	for _, g := range groups {
		members := make([]string, 0, len(g.ClaimIDs))
		for _, id := range g.ClaimIDs {
			if !drop[id] {
				members = append(members, id)
			}
		}
		if len(members) < 2 {
			dissolved[g.ID] = true
			continue
		}
		g.ClaimIDs = members
		keptGroups = append(keptGroups, g)
	}
	if len(keptGroups) == 0 {
		keptGroups = nil
	}

	if len(dissolved) > 0 {
		for i := range kept {
			if dissolved[kept[i].GroupID] {
				kept[i].GroupID = ""
			}
		}
	}

	return kept, keptGroups, nil
}
