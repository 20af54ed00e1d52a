package model

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stage identifies one phase of the run state machine
type Stage string

const (
	StagePrepareTranscript Stage = "prepare_transcript"
	StageExtractClaims     Stage = "extract_claims"
	StageReviewClaims      Stage = "review_claims"
	StageGatherEvidence    Stage = "gather_evidence"
	StageCheckClaims       Stage = "check_claims"
	StageSummary           Stage = "fact_check_summary"
	StageDone              Stage = "done"
)

// stageOrder is the strictly forward transition sequence. review_claims is
// optional and skipped when review is disabled.
var stageOrder = []Stage{
	StagePrepareTranscript,
	StageExtractClaims,
	StageReviewClaims,
	StageGatherEvidence,
	StageCheckClaims,
	StageSummary,
	StageDone,
}

var stageSet = map[Stage]bool{
	StagePrepareTranscript: true,
	StageExtractClaims:     true,
	StageReviewClaims:      true,
	StageGatherEvidence:    true,
	StageCheckClaims:       true,
	StageSummary:           true,
	StageDone:              true,
}

// Valid reports whether s is a known stage
func (s Stage) Valid() bool {
	return stageSet[s]
}

// Index returns the position of s in the transition order, or -1
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Before reports whether s precedes other in the transition order
func (s Stage) Before(other Stage) bool {
	return s.Index() < other.Index()
}

// ParseStage converts a string to a Stage, validating it
func ParseStage(s string) (Stage, bool) {
	st := Stage(s)
	return st, stageSet[st]
}

// Counters holds the run-wide progress counters. All fields are atomic so
// stage workers can update them concurrently; counters only ever increase.
type Counters struct {
	ClaimsFound      atomic.Int64
	SourcesFetched   atomic.Int64
	SnippetsMatched  atomic.Int64
	FetchFailures    atomic.Int64
	VerdictsProduced atomic.Int64
	ChunksFailed     atomic.Int64
	EntriesDropped   atomic.Int64
	CacheHits        atomic.Int64
}

// CounterSnapshot is an immutable copy of Counters for events and persistence
type CounterSnapshot struct {
	ClaimsFound      int64 `json:"claims_found"`
	SourcesFetched   int64 `json:"sources_fetched"`
	SnippetsMatched  int64 `json:"snippets_matched"`
	FetchFailures    int64 `json:"fetch_failures"`
	VerdictsProduced int64 `json:"verdicts_produced"`
	ChunksFailed     int64 `json:"chunks_failed"`
	EntriesDropped   int64 `json:"entries_dropped"`
	CacheHits        int64 `json:"cache_hits"`
}

// Snapshot copies the current counter values
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		ClaimsFound:      c.ClaimsFound.Load(),
		SourcesFetched:   c.SourcesFetched.Load(),
		SnippetsMatched:  c.SnippetsMatched.Load(),
		FetchFailures:    c.FetchFailures.Load(),
		VerdictsProduced: c.VerdictsProduced.Load(),
		ChunksFailed:     c.ChunksFailed.Load(),
		EntriesDropped:   c.EntriesDropped.Load(),
		CacheHits:        c.CacheHits.Load(),
	}
}

// Usage accumulates reasoning-backend token counts for one stage
type Usage struct {
	Prompt     atomic.Int64
	Completion atomic.Int64
}

// Add records one backend call's token counts
func (u *Usage) Add(prompt, completion int) {
	u.Prompt.Add(int64(prompt))
	u.Completion.Add(int64(completion))
}

// stageTiming records wall-clock bounds for one stage
type stageTiming struct {
	started  time.Time
	finished time.Time
}

// RunState is the shared mutable state of one run. It is created at run start,
// mutated by the orchestrator and stage workers, and frozen into a Manifest at
// run end. Counter and budget fields are safe for concurrent use; stage
// transitions are serialized by the orchestrator.
type RunState struct {
	ID             string
	Title          string
	TranscriptPath string
	StartedAt      time.Time

	Counters Counters

	mu         sync.Mutex
	stage      Stage
	finishedAt time.Time
	timings    map[Stage]*stageTiming
	usage      map[Stage]*Usage
	notes      []string

	budget atomic.Int64 // fetches remaining
}

// NewRunState creates run state with the given fetch budget. Per-stage usage
// and timing slots are allocated up front so workers never mutate the maps.
func NewRunState(id, title, transcriptPath string, fetchBudget int) *RunState {
	r := &RunState{
		ID:             id,
		Title:          title,
		TranscriptPath: transcriptPath,
		StartedAt:      time.Now().UTC(),
		stage:          StagePrepareTranscript,
		timings:        make(map[Stage]*stageTiming, len(stageOrder)),
		usage:          make(map[Stage]*Usage, len(stageOrder)),
	}
	for _, s := range stageOrder {
		r.timings[s] = &stageTiming{}
		r.usage[s] = &Usage{}
	}
	r.budget.Store(int64(fetchBudget))
	return r
}

// AcquireFetch atomically claims one unit of the run fetch budget. It returns
// false once the budget is exhausted; callers must not dispatch a fetch after
// a false return. Cache hits never consume budget.
func (r *RunState) AcquireFetch() bool {
	for {
		remaining := r.budget.Load()
		if remaining <= 0 {
			return false
		}
		if r.budget.CompareAndSwap(remaining, remaining-1) {
			return true
		}
	}
}

// AddFetchBudget grants additional budget (second pass)
func (r *RunState) AddFetchBudget(n int64) {
	r.budget.Add(n)
}

// BudgetRemaining returns the current fetch budget
func (r *RunState) BudgetRemaining() int64 {
	return r.budget.Load()
}

// Stage returns the current stage
func (r *RunState) Stage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// SetStage moves the run to the given stage and records its start time.
// Transitions are strictly forward; a backward move is ignored.
func (r *RunState) SetStage(s Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Index() < r.stage.Index() {
		return
	}
	r.stage = s
	if t, ok := r.timings[s]; ok && t.started.IsZero() {
		t.started = time.Now().UTC()
	}
}

// FinishStage records the end time of a stage
func (r *RunState) FinishStage(s Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timings[s]; ok {
		t.finished = time.Now().UTC()
	}
}

// Finish marks the whole run complete
func (r *RunState) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stage = StageDone
	r.finishedAt = time.Now().UTC()
}

// FinishedAt returns the completion time, zero while running
func (r *RunState) FinishedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishedAt
}

// Usage returns the token accumulator for a stage
func (r *RunState) Usage(s Stage) *Usage {
	return r.usage[s]
}

// AddNote records a run-level note (budget exhaustion, degraded outcomes)
func (r *RunState) AddNote(note string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
}

// RunSnapshot is a point-in-time copy of run state for progress consumers
type RunSnapshot struct {
	ID               string          `json:"id"`
	Title            string          `json:"title,omitempty"`
	Stage            Stage           `json:"stage"`
	Counters         CounterSnapshot `json:"counters"`
	BudgetRemaining  int64           `json:"budget_remaining"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at,omitempty"`
}

// Snapshot copies the observable run state
func (r *RunState) Snapshot() RunSnapshot {
	r.mu.Lock()
	stage := r.stage
	finished := r.finishedAt
	r.mu.Unlock()

	var prompt, completion int64
	for _, u := range r.usage {
		prompt += u.Prompt.Load()
		completion += u.Completion.Load()
	}

	return RunSnapshot{
		ID:               r.ID,
		Title:            r.Title,
		Stage:            stage,
		Counters:         r.Counters.Snapshot(),
		BudgetRemaining:  r.budget.Load(),
		PromptTokens:     prompt,
		CompletionTokens: completion,
		StartedAt:        r.StartedAt,
		FinishedAt:       finished,
	}
}

// StageManifest is the persisted record of one stage's execution
type StageManifest struct {
	Stage            Stage     `json:"stage"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	FinishedAt       time.Time `json:"finished_at,omitempty"`
	DurationMS       int64     `json:"duration_ms"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
}

// Manifest is the frozen summary of one run, written once at run end
type Manifest struct {
	RunID          string          `json:"run_id"`
	Title          string          `json:"title,omitempty"`
	TranscriptPath string          `json:"transcript_path,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	FinalStage     Stage           `json:"final_stage"`
	Counters       CounterSnapshot `json:"counters"`
	Stages         []StageManifest `json:"stages"`
	Ratings        map[string]int  `json:"ratings,omitempty"` // verdict rating -> count
	Notes          []string        `json:"notes,omitempty"`
}

// BuildManifest freezes the run state into a manifest. Stages that never
// started are omitted.
func (r *RunState) BuildManifest(ratings map[string]int) *Manifest {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := &Manifest{
		RunID:          r.ID,
		Title:          r.Title,
		TranscriptPath: r.TranscriptPath,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.finishedAt,
		FinalStage:     r.stage,
		Counters:       r.Counters.Snapshot(),
		Ratings:        ratings,
		Notes:          append([]string(nil), r.notes...),
	}

	for _, s := range stageOrder {
		t := r.timings[s]
		if t.started.IsZero() {
			continue
		}
		sm := StageManifest{
			Stage:            s,
			StartedAt:        t.started,
			FinishedAt:       t.finished,
			PromptTokens:     r.usage[s].Prompt.Load(),
			CompletionTokens: r.usage[s].Completion.Load(),
		}
		if !t.finished.IsZero() {
			sm.DurationMS = t.finished.Sub(t.started).Milliseconds()
		}
		m.Stages = append(m.Stages, sm)
	}

	return m
}
