package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ppiankov/evident/internal/transcript"
	"github.com/ppiankov/evident/internal/worker"
)

// checkJob runs the full pipeline for one transcript file
type checkJob struct {
	ctx  context.Context
	orch *Orchestrator
	path string
}

func (j *checkJob) Execute(_ context.Context) worker.Result {
	res, err := j.orch.Check(j.ctx, j.path)
	return &BatchResult{Path: j.path, Run: res, Err: err}
}

// BatchResult pairs a transcript path with its run outcome
type BatchResult struct {
	Path string
	Run  *Result
	Err  error
}

// GetError returns the error from the batch result
func (r *BatchResult) GetError() error { return r.Err }

// BatchRunner checks many transcripts concurrently through one orchestrator.
// Runs share the fetch rate limiter, page cache and history store; each run
// keeps its own id, fetch budget and artifacts.
type BatchRunner struct {
	orch        *Orchestrator
	concurrency int
}

// NewBatchRunner creates a batch runner with the given worker count
func NewBatchRunner(orch *Orchestrator, concurrency int) *BatchRunner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchRunner{orch: orch, concurrency: concurrency}
}

// ProcessPaths checks every transcript and returns per-path outcomes in
// input order. Duplicate paths are checked once.
func (b *BatchRunner) ProcessPaths(ctx context.Context, paths []string) []*BatchResult {
	seen := make(map[string]bool, len(paths))
	uniq := make([]string, 0, len(paths))
	for _, path := range paths {
		if !seen[path] {
			seen[path] = true
			uniq = append(uniq, path)
		}
	}
	if len(uniq) == 0 {
		return nil
	}

	pool := worker.NewPool(b.concurrency)
	pool.Start()
	for _, path := range uniq {
		pool.Submit(&checkJob{ctx: ctx, orch: b.orch, path: path})
	}

	byPath := make(map[string]*BatchResult, len(uniq))
	for _, res := range pool.Wait() {
		br, ok := res.(*BatchResult)
		if !ok {
			continue
		}
		byPath[br.Path] = br
	}

	out := make([]*BatchResult, 0, len(uniq))
	for _, path := range uniq {
		if br, ok := byPath[path]; ok {
			out = append(out, br)
		}
	}
	return out
}

// ProcessDir checks every supported transcript directly under dir
func (b *BatchRunner) ProcessDir(ctx context.Context, dir string) ([]*BatchResult, error) {
	paths, err := ListTranscripts(dir)
	if err != nil {
		return nil, err
	}
	return b.ProcessPaths(ctx, paths), nil
}

// ListTranscripts returns the transcript files directly under dir, sorted
// by name. Subdirectories and unsupported extensions are skipped.
func ListTranscripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read transcript dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !transcript.Supported(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
