// Package run drives one fact-check from transcript to report through the
// stage machine: prepare_transcript, extract_claims, review_claims,
// gather_evidence, check_claims, fact_check_summary.
package run

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/evident/internal/cache"
	"github.com/ppiankov/evident/internal/config"
	"github.com/ppiankov/evident/internal/consolidate"
	"github.com/ppiankov/evident/internal/events"
	"github.com/ppiankov/evident/internal/extract"
	"github.com/ppiankov/evident/internal/fetch"
	"github.com/ppiankov/evident/internal/llm"
	"github.com/ppiankov/evident/internal/model"
	"github.com/ppiankov/evident/internal/report"
	"github.com/ppiankov/evident/internal/retrieve"
	"github.com/ppiankov/evident/internal/search"
	"github.com/ppiankov/evident/internal/store"
	"github.com/ppiankov/evident/internal/tier"
	"github.com/ppiankov/evident/internal/transcript"
	"github.com/ppiankov/evident/internal/verify"
)

// Deps are the orchestrator's external collaborators. History and Bus may be
// nil; everything else is required.
type Deps struct {
	Provider   llm.Provider
	Searcher   retrieve.Searcher
	Fetcher    retrieve.Fetcher
	Pages      *cache.PageStore
	Classifier *tier.Classifier
	History    *store.Store
	Bus        *events.Bus
}

// Result is the outcome of Check or Resume
type Result struct {
	RunID          string
	Paused         bool // stopped at review_claims awaiting decisions
	CheckpointPath string
	Claims         []model.Claim          // populated when paused, for review display
	Groups         []model.NarrativeGroup // populated when paused
	Report         *model.Report
	ReportJSON     string
	ReportMD       string
	Manifest       *model.Manifest
	ManifestPath   string
}

// Orchestrator wires the pipeline components and runs the stage machine
type Orchestrator struct {
	cfg          *config.Config
	deps         Deps
	extractor    *extract.Extractor
	consolidator *consolidate.Consolidator
	verifier     *verify.Verifier
	summarizer   *report.Summarizer
	reports      *report.Writer
	log          *slog.Logger
}

// New creates an orchestrator from configuration and collaborators
func New(cfg *config.Config, deps Deps, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		deps:         deps,
		extractor:    extract.NewExtractor(deps.Provider, cfg.Extract, log),
		consolidator: consolidate.NewConsolidator(deps.Provider, cfg.Consolidate, log),
		verifier:     verify.NewVerifier(deps.Provider, cfg.Verify, log),
		summarizer:   report.NewSummarizer(deps.Provider, log),
		reports:      report.NewWriter(cfg.RunsDir(), log),
		log:          log.With("component", "run"),
	}
}

// Build wires an orchestrator entirely from configuration: reasoning
// backend, search client, fetcher, page cache and history store. The
// returned closer releases the history store.
func Build(cfg *config.Config, bus *events.Bus, log *slog.Logger) (*Orchestrator, func(), error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, nil, err
	}

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("configure reasoning backend: %w", err)
	}

	history, err := store.Open(cfg.StoreDir())
	if err != nil {
		return nil, nil, fmt.Errorf("open run history: %w", err)
	}

	var pageCache cache.Cache
	if cfg.Cache.Enabled {
		pageCache = cache.NewLayeredCache(cfg.CacheTTL(), cfg.CacheDir(), cfg.CacheTTL())
	} else {
		pageCache = cache.NewNop()
	}

	deps := Deps{
		Provider:   provider,
		Searcher:   search.NewClient(cfg.Search),
		Fetcher:    fetch.NewFetcher(cfg.Fetch),
		Pages:      cache.NewPageStore(pageCache, cfg.CacheTTL()),
		Classifier: tier.New(cfg.Tier),
		History:    history,
		Bus:        bus,
	}

	closer := func() { _ = history.Close() }
	return New(cfg, deps, log), closer, nil
}

// History exposes the run history store for the dashboard
func (o *Orchestrator) History() *store.Store {
	return o.deps.History
}

// newRunID yields a sortable, collision-safe run identifier
func newRunID() string {
	return time.Now().UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

// Check runs the full pipeline for one transcript. When review is enabled
// it pauses after claim extraction with a checkpoint on disk; Resume
// continues from there.
func (o *Orchestrator) Check(ctx context.Context, transcriptPath string) (*Result, error) {
	if !o.deps.Provider.IsAvailable(ctx) {
		return nil, fmt.Errorf("reasoning backend %s is not available; check provider configuration", o.deps.Provider.Name())
	}

	runID := newRunID()
	title := transcript.TitleFromPath(transcriptPath)
	run := model.NewRunState(runID, title, transcriptPath, o.cfg.Retrieve.MaxFetchesPerRun)
	o.log.Info("run started", "run", runID, "transcript", transcriptPath)

	if o.deps.History != nil {
		row := &store.Run{
			ID:             runID,
			Title:          title,
			TranscriptPath: transcriptPath,
			StartedAt:      run.StartedAt,
			FinalStage:     string(model.StagePrepareTranscript),
		}
		if err := o.deps.History.Insert(ctx, row); err != nil {
			o.log.Warn("history insert failed", "run", runID, "error", err)
		}
	}

	// prepare_transcript
	run.SetStage(model.StagePrepareTranscript)
	o.publish(run, events.LevelInfo, "loading transcript %s", transcriptPath)
	tr, err := transcript.Load(transcriptPath)
	if err != nil {
		o.publish(run, events.LevelError, "transcript rejected: %v", err)
		return nil, fmt.Errorf("prepare transcript: %w", err)
	}
	chunks := transcript.Split(tr.Segments, o.cfg.Extract.ChunkSize, o.cfg.Extract.ChunkOverlap)
	run.FinishStage(model.StagePrepareTranscript)
	o.publish(run, events.LevelInfo, "%d segments in %d chunks", len(tr.Segments), len(chunks))

	// extract_claims
	run.SetStage(model.StageExtractClaims)
	o.publish(run, events.LevelInfo, "extracting claims")
	claims, err := o.extractor.Extract(ctx, run, chunks)
	if err != nil {
		o.publish(run, events.LevelError, "claim extraction aborted: %v", err)
		return nil, fmt.Errorf("extract claims: %w", err)
	}
	groups := o.consolidator.Consolidate(ctx, run, claims)
	run.FinishStage(model.StageExtractClaims)
	o.publish(run, events.LevelInfo, "%d claims in %d narrative groups", len(claims), len(groups))

	if o.cfg.Review.Enabled {
		run.SetStage(model.StageReviewClaims)
		path, err := writeCheckpoint(o.cfg.RunsDir(), run, claims, groups)
		if err != nil {
			return nil, fmt.Errorf("pause for review: %w", err)
		}
		o.publish(run, events.LevelInfo, "paused for claim review (%d claims); resume with decisions", len(claims))
		o.log.Info("run paused for review", "run", runID, "checkpoint", path)
		return &Result{RunID: runID, Paused: true, CheckpointPath: path, Claims: claims, Groups: groups}, nil
	}

	return o.completeRun(ctx, run, claims, groups)
}

// Resume continues a paused run from its checkpoint, dropping the listed
// claims first. Groups reduced below two members dissolve.
func (o *Orchestrator) Resume(ctx context.Context, runID string, dropIDs []string) (*Result, error) {
	if !o.deps.Provider.IsAvailable(ctx) {
		return nil, fmt.Errorf("reasoning backend %s is not available; check provider configuration", o.deps.Provider.Name())
	}

	cp, err := loadCheckpoint(o.cfg.RunsDir(), runID)
	if err != nil {
		return nil, err
	}

	claims, groups, err := applyReviewDecisions(cp.Claims, cp.Groups, dropIDs)
	if err != nil {
		return nil, err
	}

	run := cp.restore()
	run.FinishStage(model.StageReviewClaims)
	o.publish(run, events.LevelInfo, "review complete: %d claims dropped, %d remain", len(cp.Claims)-len(claims), len(claims))
	o.log.Info("run resumed", "run", runID, "dropped", len(cp.Claims)-len(claims))

	result, err := o.completeRun(ctx, run, claims, groups)
	if err != nil {
		return nil, err
	}
	// The checkpoint is consumed; a second resume must fail loudly.
	if err := os.Remove(checkpointPath(o.cfg.RunsDir(), runID)); err != nil {
		o.log.Warn("checkpoint cleanup failed", "run", runID, "error", err)
	}
	return result, nil
}

// completeRun executes the tail of the pipeline: retrieval, verification
// with the optional second pass, group verdicts, summary, artifacts.
func (o *Orchestrator) completeRun(ctx context.Context, run *model.RunState, claims []model.Claim, groups []model.NarrativeGroup) (*Result, error) {
	retriever := retrieve.NewRetriever(o.deps.Provider, o.deps.Searcher, o.deps.Fetcher, o.deps.Pages, o.deps.Classifier, o.cfg.Retrieve, o.log)

	// gather_evidence
	run.SetStage(model.StageGatherEvidence)
	o.publish(run, events.LevelInfo, "gathering evidence for %d claims", len(claims))
	evidence := retriever.Gather(ctx, run, claims, retrieve.Pass{})
	run.FinishStage(model.StageGatherEvidence)
	o.publish(run, events.LevelInfo, "%d sources fetched, %d snippets matched",
		run.Counters.SourcesFetched.Load(), run.Counters.SnippetsMatched.Load())

	// check_claims
	run.SetStage(model.StageCheckClaims)
	o.publish(run, events.LevelInfo, "checking %d claims", len(claims))
	verdicts := o.verifier.VerifyClaims(ctx, run, claims, evidence)

	if o.cfg.SecondPass.Enabled {
		evidence, verdicts = o.secondPass(ctx, run, retriever, claims, evidence, verdicts)
	}

	groupVerdicts := o.verifier.VerifyGroups(ctx, run, groups, claims, verdicts, evidence)
	verdicts = append(verdicts, groupVerdicts...)
	run.FinishStage(model.StageCheckClaims)
	o.publish(run, events.LevelInfo, "%d verdicts produced", run.Counters.VerdictsProduced.Load())

	// fact_check_summary
	run.SetStage(model.StageSummary)
	rep := &model.Report{
		RunID:          run.ID,
		Title:          run.Title,
		TranscriptPath: run.TranscriptPath,
		CreatedAt:      time.Now().UTC(),
		Claims:         claims,
		Groups:         groups,
		Evidence:       evidence,
		Verdicts:       verdicts,
	}
	rep.Summary = o.summarizer.Summarize(ctx, run, rep)

	jsonPath, mdPath, err := o.reports.Write(rep)
	if err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	run.FinishStage(model.StageSummary)
	run.Finish()

	manifest := run.BuildManifest(rep.RatingCounts())
	manifestPath := filepath.Join(o.cfg.RunsDir(), run.ID, "manifest.json")
	if err := writeJSONFile(manifestPath, manifest); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	if o.deps.History != nil {
		if err := o.deps.History.Finish(ctx, store.RunFromManifest(manifest, manifestPath)); err != nil {
			o.log.Warn("history update failed", "run", run.ID, "error", err)
		}
	}

	o.publish(run, events.LevelInfo, "run complete: %s", mdPath)
	o.log.Info("run complete", "run", run.ID, "report", mdPath)

	return &Result{
		RunID:        run.ID,
		Report:       rep,
		ReportJSON:   jsonPath,
		ReportMD:     mdPath,
		Manifest:     manifest,
		ManifestPath: manifestPath,
	}, nil
}

// secondPass retries retrieval and verification for claims still rated
// INSUFFICIENT EVIDENCE, with extra budget and per-claim source headroom.
// Replaced bundles and verdicts keep their claims' positions; counters and
// id numbering only move forward.
func (o *Orchestrator) secondPass(ctx context.Context, run *model.RunState, retriever *retrieve.Retriever, claims []model.Claim, evidence []model.ClaimEvidence, verdicts []model.Verdict) ([]model.ClaimEvidence, []model.Verdict) {
	spCfg := o.cfg.SecondPass

	verdictByClaim := make(map[string]model.Verdict, len(verdicts))
	for _, v := range verdicts {
		if v.ClaimID != "" {
			verdictByClaim[v.ClaimID] = v
		}
	}

	var targets []model.Claim
	for _, claim := range claims {
		if len(targets) >= spCfg.MaxClaims && spCfg.MaxClaims > 0 {
			break
		}
		if v, ok := verdictByClaim[claim.ID]; ok && v.Rating == model.RatingInsufficient {
			targets = append(targets, claim)
		}
	}
	if len(targets) == 0 {
		return evidence, verdicts
	}

	run.AddFetchBudget(int64(spCfg.ExtraFetches))
	o.publish(run, events.LevelInfo, "second pass: retrying %d claims with %d extra fetches", len(targets), spCfg.ExtraFetches)

	regathered := retriever.Gather(ctx, run, targets, retrieve.NextPass(evidence, spCfg.ExtraSourcesPerClaim))
	reVerdicts := o.verifier.VerifyClaims(ctx, run, targets, regathered)

	evidenceByClaim := make(map[string]model.ClaimEvidence, len(regathered))
	for _, ev := range regathered {
		evidenceByClaim[ev.ClaimID] = ev
	}
	for i := range evidence {
		if ev, ok := evidenceByClaim[evidence[i].ClaimID]; ok {
			evidence[i] = ev
		}
	}

	newVerdictByClaim := make(map[string]model.Verdict, len(reVerdicts))
	for _, v := range reVerdicts {
		newVerdictByClaim[v.ClaimID] = v
	}
	for i := range verdicts {
		if v, ok := newVerdictByClaim[verdicts[i].ClaimID]; ok {
			verdicts[i] = v
		}
	}
	return evidence, verdicts
}

// publish emits a progress event tagged with the run's current stage
func (o *Orchestrator) publish(run *model.RunState, level events.Level, format string, args ...any) {
	if o.deps.Bus == nil {
		return
	}
	o.deps.Bus.Publish(events.Event{
		RunID:    run.ID,
		Stage:    run.Stage(),
		Level:    level,
		Message:  fmt.Sprintf(format, args...),
		Counters: run.Counters.Snapshot(),
	})
}

func writeJSONFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
