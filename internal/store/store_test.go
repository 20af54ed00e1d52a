package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ppiankov/evident/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndFinishRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	started := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	run := &Run{
		ID:             "run-1",
		Title:          "Budget Speech",
		TranscriptPath: "speech.srt",
		StartedAt:      started,
		FinalStage:     string(model.StagePrepareTranscript),
	}
	if err := s.Insert(ctx, run); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := s.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.Title != "Budget Speech" {
		t.Fatalf("unexpected row after insert: %#v", got)
	}
	if got.Finished() {
		t.Error("run should not be finished before Finish")
	}

	run.FinishedAt = started.Add(3 * time.Minute)
	run.FinalStage = string(model.StageDone)
	run.Claims = 12
	run.Sources = 30
	run.Snippets = 84
	run.Verdicts = 14
	run.FetchesUsed = 33
	run.PromptTokens = 4200
	run.CompletionTokens = 900
	run.Ratings = map[string]int{string(model.RatingVerified): 5, string(model.RatingInsufficient): 7}
	run.ManifestPath = "runs/run-1/manifest.json"
	if err := s.Finish(ctx, run); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	got, err = s.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get after finish failed: %v", err)
	}
	if !got.Finished() || !got.FinishedAt.Equal(run.FinishedAt) {
		t.Errorf("finished_at = %v, want %v", got.FinishedAt, run.FinishedAt)
	}
	if got.FinalStage != string(model.StageDone) {
		t.Errorf("final_stage = %s, want done", got.FinalStage)
	}
	if got.Claims != 12 || got.Verdicts != 14 || got.FetchesUsed != 33 {
		t.Errorf("counts = %d/%d/%d, want 12/14/33", got.Claims, got.Verdicts, got.FetchesUsed)
	}
	if got.PromptTokens != 4200 || got.CompletionTokens != 900 {
		t.Errorf("tokens = %d/%d, want 4200/900", got.PromptTokens, got.CompletionTokens)
	}
	if got.Ratings[string(model.RatingVerified)] != 5 {
		t.Errorf("ratings = %v", got.Ratings)
	}
	if got.ManifestPath != "runs/run-1/manifest.json" {
		t.Errorf("manifest_path = %s", got.ManifestPath)
	}
}

func TestGetMissingRunReturnsNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing run, got %#v", got)
	}
}

func TestFinishUnknownRunFails(t *testing.T) {
	s := openTestStore(t)
	err := s.Finish(context.Background(), &Run{ID: "ghost", FinalStage: "done"})
	if err == nil {
		t.Fatal("expected error finishing a run that was never inserted")
	}
}

func TestListRecentFirstWithLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		run := &Run{
			ID:         fmt.Sprintf("run-%d", i+1),
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinalStage: string(model.StageDone),
		}
		if err := s.Insert(ctx, run); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
	}

	runs, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "run-3" || runs[1].ID != "run-2" {
		t.Errorf("order = %s, %s; want run-3, run-2", runs[0].ID, runs[1].ID)
	}

	all, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List all failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d runs without limit, want 3", len(all))
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := &Run{ID: "run-1", StartedAt: time.Now().UTC(), FinalStage: string(model.StageDone)}
	if err := s.Insert(ctx, run); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	removed, err := s.Delete(ctx, "run-1")
	if err != nil || !removed {
		t.Fatalf("Delete = %v, %v; want true, nil", removed, err)
	}
	removed, err = s.Delete(ctx, "run-1")
	if err != nil || removed {
		t.Fatalf("second Delete = %v, %v; want false, nil", removed, err)
	}
}

func TestRunFromManifest(t *testing.T) {
	started := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	m := &model.Manifest{
		RunID:          "run-9",
		Title:          "Energy Panel",
		TranscriptPath: "panel.vtt",
		StartedAt:      started,
		FinishedAt:     started.Add(2 * time.Minute),
		FinalStage:     model.StageDone,
		Counters: model.CounterSnapshot{
			ClaimsFound:      10,
			SourcesFetched:   28,
			SnippetsMatched:  60,
			FetchFailures:    4,
			VerdictsProduced: 11,
		},
		Stages: []model.StageManifest{
			{Stage: model.StageExtractClaims, PromptTokens: 1000, CompletionTokens: 200},
			{Stage: model.StageCheckClaims, PromptTokens: 3000, CompletionTokens: 500},
		},
		Ratings: map[string]int{string(model.RatingVerified): 4},
	}

	run := RunFromManifest(m, "runs/run-9/manifest.json")
	if run.ID != "run-9" || run.FinalStage != "done" {
		t.Errorf("id/stage = %s/%s", run.ID, run.FinalStage)
	}
	if run.FetchesUsed != 32 {
		t.Errorf("FetchesUsed = %d, want fetched+failed = 32", run.FetchesUsed)
	}
	if run.PromptTokens != 4000 || run.CompletionTokens != 700 {
		t.Errorf("tokens = %d/%d, want 4000/700", run.PromptTokens, run.CompletionTokens)
	}
	if run.Ratings[string(model.RatingVerified)] != 4 {
		t.Errorf("ratings = %v", run.Ratings)
	}
}
