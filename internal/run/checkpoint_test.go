package run

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/evident/internal/model"
)

func reviewClaims() []model.Claim {
	return []model.Claim{
		{ID: "c1", Text: "Claim one.", GroupID: "g1"},
		{ID: "c2", Text: "Claim two.", GroupID: "g1"},
		{ID: "c3", Text: "Claim three."},
	}
}

func reviewGroups() []model.NarrativeGroup {
	return []model.NarrativeGroup{
		{ID: "g1", ClaimIDs: []string{"c1", "c2"}, Rationale: "shared narrative"},
	}
}

func TestCheckpointRoundTripRestore(t *testing.T) {
	run := model.NewRunState("run-cp", "Water Summit", "summit.txt", 80)
	run.SetStage(model.StagePrepareTranscript)
	run.FinishStage(model.StagePrepareTranscript)
	run.SetStage(model.StageExtractClaims)
	run.Usage(model.StageExtractClaims).Add(120, 30)
	run.Counters.ClaimsFound.Store(3)
	run.Counters.EntriesDropped.Store(1)
	for i := 0; i < 3; i++ {
		run.AcquireFetch()
	}
	run.SetStage(model.StageReviewClaims)

	dir := t.TempDir()
	path, err := writeCheckpoint(dir, run, reviewClaims(), reviewGroups())
	if err != nil {
		t.Fatalf("writeCheckpoint: %v", err)
	}
	if want := filepath.Join(dir, "run-cp", "checkpoint.json"); path != want {
		t.Errorf("path = %s, want %s", path, want)
	}

	cp, err := loadCheckpoint(dir, "run-cp")
	if err != nil {
		t.Fatalf("loadCheckpoint: %v", err)
	}
	if cp.RunID != "run-cp" || cp.Title != "Water Summit" || cp.TranscriptPath != "summit.txt" {
		t.Errorf("checkpoint identity = %+v", cp)
	}
	if len(cp.Claims) != 3 || len(cp.Groups) != 1 {
		t.Errorf("claims/groups = %d/%d", len(cp.Claims), len(cp.Groups))
	}
	if cp.BudgetRemaining != 77 {
		t.Errorf("budget = %d, want 77", cp.BudgetRemaining)
	}
	// Stages without token usage are omitted
	if len(cp.Usage) != 1 || cp.Usage[string(model.StageExtractClaims)].Prompt != 120 {
		t.Errorf("usage = %+v", cp.Usage)
	}
	if cp.PausedAt.IsZero() {
		t.Error("paused_at not set")
	}

	restored := cp.restore()
	if restored.ID != "run-cp" || restored.Title != "Water Summit" {
		t.Errorf("restored identity = %s/%s", restored.ID, restored.Title)
	}
	if !restored.StartedAt.Equal(run.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", restored.StartedAt, run.StartedAt)
	}
	if got := restored.Stage(); got != model.StageReviewClaims {
		t.Errorf("stage = %s", got)
	}
	if got := restored.BudgetRemaining(); got != 77 {
		t.Errorf("restored budget = %d", got)
	}
	if got := restored.Counters.ClaimsFound.Load(); got != 3 {
		t.Errorf("restored ClaimsFound = %d", got)
	}
	if got := restored.Counters.EntriesDropped.Load(); got != 1 {
		t.Errorf("restored EntriesDropped = %d", got)
	}
	if got := restored.Usage(model.StageExtractClaims).Prompt.Load(); got != 120 {
		t.Errorf("restored extract prompt tokens = %d", got)
	}

	// Pre-pause stages survive into the manifest with their token counts
	restored.Finish()
	manifest := restored.BuildManifest(nil)
	var sawExtract bool
	for _, sm := range manifest.Stages {
		if sm.Stage == model.StageExtractClaims {
			sawExtract = true
			if sm.PromptTokens != 120 || sm.CompletionTokens != 30 {
				t.Errorf("extract stage tokens = %d/%d", sm.PromptTokens, sm.CompletionTokens)
			}
		}
	}
	if !sawExtract {
		t.Error("extract_claims missing from restored manifest")
	}
}

func TestLoadCheckpointMissing(t *testing.T) {
	_, err := loadCheckpoint(t.TempDir(), "nope")
	if err == nil || !strings.Contains(err.Error(), "no checkpoint for run nope") {
		t.Errorf("err = %v", err)
	}
}

func TestApplyReviewDecisions(t *testing.T) {
	t.Run("no drops keeps everything", func(t *testing.T) {
		claims, groups, err := applyReviewDecisions(reviewClaims(), reviewGroups(), nil)
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if len(claims) != 3 || len(groups) != 1 {
			t.Errorf("claims/groups = %d/%d", len(claims), len(groups))
		}
	})

	t.Run("unknown id rejected", func(t *testing.T) {
		_, _, err := applyReviewDecisions(reviewClaims(), reviewGroups(), []string{"c9"})
		if err == nil || !strings.Contains(err.Error(), `unknown claim id "c9"`) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("drop keeps group at two members", func(t *testing.T) {
		claims := []model.Claim{
			{ID: "c1", GroupID: "g1"},
			{ID: "c2", GroupID: "g1"},
			{ID: "c3", GroupID: "g1"},
		}
		groups := []model.NarrativeGroup{{ID: "g1", ClaimIDs: []string{"c1", "c2", "c3"}}}

		kept, keptGroups, err := applyReviewDecisions(claims, groups, []string{"c2"})
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if len(kept) != 2 || kept[0].ID != "c1" || kept[1].ID != "c3" {
			t.Fatalf("kept = %+v", kept)
		}
		if len(keptGroups) != 1 || len(keptGroups[0].ClaimIDs) != 2 {
			t.Fatalf("groups = %+v", keptGroups)
		}
		if kept[0].GroupID != "g1" || kept[1].GroupID != "g1" {
			t.Errorf("membership cleared on surviving group: %+v", kept)
		}
	})

	t.Run("group dissolves below two members", func(t *testing.T) {
		kept, keptGroups, err := applyReviewDecisions(reviewClaims(), reviewGroups(), []string{"c2"})
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if len(kept) != 2 || kept[0].ID != "c1" || kept[1].ID != "c3" {
			t.Fatalf("kept = %+v", kept)
		}
		if len(keptGroups) != 0 {
			t.Errorf("groups = %+v", keptGroups)
		}
		if kept[0].GroupID != "" {
			t.Errorf("survivor keeps dissolved group id %q", kept[0].GroupID)
		}
	})

	t.Run("duplicate drop ids tolerated", func(t *testing.T) {
		kept, _, err := applyReviewDecisions(reviewClaims(), reviewGroups(), []string{"c2", "c2"})
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if len(kept) != 2 {
			t.Errorf("kept = %+v", kept)
		}
	})
}
