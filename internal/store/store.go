// Package store persists run history in SQLite so past fact-check runs
// survive process restarts and feed the history command and the dashboard.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/evident/internal/model"
)

// Run is one row of run history
type Run struct {
	ID               string         `json:"id"`
	Title            string         `json:"title,omitempty"`
	TranscriptPath   string         `json:"transcript_path,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at,omitempty"`
	FinalStage       string         `json:"final_stage"`
	Claims           int64          `json:"claims"`
	Sources          int64          `json:"sources"`
	Snippets         int64          `json:"snippets"`
	Verdicts         int64          `json:"verdicts"`
	FetchesUsed      int64          `json:"fetches_used"`
	PromptTokens     int64          `json:"prompt_tokens"`
	CompletionTokens int64          `json:"completion_tokens"`
	Ratings          map[string]int `json:"ratings,omitempty"`
	ManifestPath     string         `json:"manifest_path,omitempty"`
}

// Finished reports whether the run has a completion timestamp
func (r *Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// RunFromManifest flattens a frozen manifest into a history row. Fetches used
// counts every consumed budget unit, successful or not; cache hits are free.
func RunFromManifest(m *model.Manifest, manifestPath string) *Run {
	var prompt, completion int64
	for _, s := range m.Stages {
		prompt += s.PromptTokens
		completion += s.CompletionTokens
	}
	return &Run{
		ID:               m.RunID,
		Title:            m.Title,
		TranscriptPath:   m.TranscriptPath,
		StartedAt:        m.StartedAt,
		FinishedAt:       m.FinishedAt,
		FinalStage:       string(m.FinalStage),
		Claims:           m.Counters.ClaimsFound,
		Sources:          m.Counters.SourcesFetched,
		Snippets:         m.Counters.SnippetsMatched,
		Verdicts:         m.Counters.VerdictsProduced,
		FetchesUsed:      m.Counters.SourcesFetched + m.Counters.FetchFailures,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		Ratings:          m.Ratings,
		ManifestPath:     manifestPath,
	}
}

// Store is the SQLite-backed run history
type Store struct {
	db   *sql.DB
	path string
}

// Open connects to history.db under dir, creating the directory and schema
// as needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	path := filepath.Join(dir, "history.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		title TEXT,
		transcript_path TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		final_stage TEXT NOT NULL,
		claims INTEGER NOT NULL DEFAULT 0,
		sources INTEGER NOT NULL DEFAULT 0,
		snippets INTEGER NOT NULL DEFAULT 0,
		verdicts INTEGER NOT NULL DEFAULT 0,
		fetches_used INTEGER NOT NULL DEFAULT 0,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		ratings_json TEXT,
		manifest_path TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Path returns the database file location
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert records a run when it starts. Counts and ratings are filled in by
// Finish; until then the row marks an in-flight or interrupted run.
func (s *Store) Insert(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return errors.New("run id is required")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (id, title, transcript_path, started_at, final_stage)
		 VALUES (?, ?, ?, ?, ?)`,
		run.ID,
		nullableString(run.Title),
		nullableString(run.TranscriptPath),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinalStage,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Finish updates a run's row with its final counts, tokens and ratings
func (s *Store) Finish(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return errors.New("run id is required")
	}
	ratingsJSON, err := marshalRatings(run.Ratings)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE runs
		 SET title = ?, transcript_path = ?, finished_at = ?, final_stage = ?,
		     claims = ?, sources = ?, snippets = ?, verdicts = ?, fetches_used = ?,
		     prompt_tokens = ?, completion_tokens = ?, ratings_json = ?, manifest_path = ?
		 WHERE id = ?`,
		nullableString(run.Title),
		nullableString(run.TranscriptPath),
		nullableTime(run.FinishedAt),
		run.FinalStage,
		run.Claims,
		run.Sources,
		run.Snippets,
		run.Verdicts,
		run.FetchesUsed,
		run.PromptTokens,
		run.CompletionTokens,
		ratingsJSON,
		nullableString(run.ManifestPath),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

// Get fetches one run by id, nil when absent
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// List returns runs most recent first. limit <= 0 returns all rows.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Delete removes a run row, reporting whether it existed
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

const runColumns = "id, title, transcript_path, started_at, finished_at, final_stage, claims, sources, snippets, verdicts, fetches_used, prompt_tokens, completion_tokens, ratings_json, manifest_path"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		id           string
		title        sql.NullString
		transcript   sql.NullString
		startedRaw   string
		finishedRaw  sql.NullString
		finalStage   string
		claims       int64
		sources      int64
		snippets     int64
		verdicts     int64
		fetchesUsed  int64
		promptTok    int64
		completeTok  int64
		ratingsJSON  sql.NullString
		manifestPath sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&title,
		&transcript,
		&startedRaw,
		&finishedRaw,
		&finalStage,
		&claims,
		&sources,
		&snippets,
		&verdicts,
		&fetchesUsed,
		&promptTok,
		&completeTok,
		&ratingsJSON,
		&manifestPath,
	); err != nil {
		return nil, err
	}

	run := &Run{
		ID:               id,
		Title:            title.String,
		TranscriptPath:   transcript.String,
		FinalStage:       finalStage,
		Claims:           claims,
		Sources:          sources,
		Snippets:         snippets,
		Verdicts:         verdicts,
		FetchesUsed:      fetchesUsed,
		PromptTokens:     promptTok,
		CompletionTokens: completeTok,
		ManifestPath:     manifestPath.String,
	}

	if t, err := time.Parse(time.RFC3339Nano, startedRaw); err == nil {
		run.StartedAt = t
	}
	if finishedRaw.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedRaw.String); err == nil {
			run.FinishedAt = t
		}
	}
	if ratingsJSON.Valid && ratingsJSON.String != "" {
		if err := json.Unmarshal([]byte(ratingsJSON.String), &run.Ratings); err != nil {
			return nil, fmt.Errorf("decode ratings: %w", err)
		}
	}
	return run, nil
}

func marshalRatings(ratings map[string]int) (any, error) {
	if len(ratings) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(ratings)
	if err != nil {
		return nil, fmt.Errorf("encode ratings: %w", err)
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}
