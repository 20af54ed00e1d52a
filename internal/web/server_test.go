package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/evident/internal/config"
	"github.com/ppiankov/evident/internal/events"
	"github.com/ppiankov/evident/internal/logging"
	"github.com/ppiankov/evident/internal/model"
	"github.com/ppiankov/evident/internal/run"
	"github.com/ppiankov/evident/internal/store"
)

type fakeResumer struct {
	mu      sync.Mutex
	runID   string
	dropIDs []string
	result  *run.Result
	err     error
}

func (f *fakeResumer) Resume(_ context.Context, runID string, dropIDs []string) (*run.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runID = runID
	f.dropIDs = append([]string(nil), dropIDs...)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestServer(t *testing.T, resumer Resumer) (*Server, *store.Store, *events.Bus, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Dirs.Data = t.TempDir()
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}

	history, err := store.Open(cfg.StoreDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = history.Close() })

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	return NewServer(cfg, history, bus, resumer, logging.Discard()), history, bus, cfg
}

func seedRun(t *testing.T, history *store.Store, id string, started time.Time) {
	t.Helper()
	err := history.Insert(context.Background(), &store.Run{
		ID:             id,
		Title:          "Seeded " + id,
		TranscriptPath: id + ".txt",
		StartedAt:      started,
		FinalStage:     "prepare_transcript",
	})
	if err != nil {
		t.Fatalf("seed run %s: %v", id, err)
	}
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 && strings.Contains(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode %s %s response: %v\n%s", method, path, err, w.Body.String())
		}
	}
	return w, decoded
}

func TestHealthz(t *testing.T) {
	s, _, _, _ := newTestServer(t, &fakeResumer{})

	w, body := doJSON(t, s, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["status"] != "ok" || body["store"] != "ok" {
		t.Errorf("health = %v", body)
	}
}

func TestListRunsRecentFirst(t *testing.T) {
	s, history, _, _ := newTestServer(t, &fakeResumer{})
	base := time.Now().UTC().Add(-time.Hour)
	seedRun(t, history, "run-1", base)
	seedRun(t, history, "run-2", base.Add(time.Minute))

	w, body := doJSON(t, s, http.MethodGet, "/api/runs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["total"] != float64(2) {
		t.Errorf("total = %v", body["total"])
	}
	runs := body["runs"].([]any)
	first := runs[0].(map[string]any)
	if first["id"] != "run-2" {
		t.Errorf("first run = %v", first["id"])
	}

	w, body = doJSON(t, s, http.MethodGet, "/api/runs?limit=1", "")
	if w.Code != http.StatusOK || body["total"] != float64(1) {
		t.Errorf("limited list: status %d, total %v", w.Code, body["total"])
	}

	w, _ = doJSON(t, s, http.MethodGet, "/api/runs?limit=zero", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}
}

func TestGetRun(t *testing.T) {
	s, history, _, _ := newTestServer(t, &fakeResumer{})
	seedRun(t, history, "run-1", time.Now().UTC())

	w, body := doJSON(t, s, http.MethodGet, "/api/runs/run-1", "")
	if w.Code != http.StatusOK || body["id"] != "run-1" {
		t.Errorf("status %d, body %v", w.Code, body)
	}

	w, _ = doJSON(t, s, http.MethodGet, "/api/runs/run-9", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d", w.Code)
	}
}

func TestGetReport(t *testing.T) {
	s, _, _, cfg := newTestServer(t, &fakeResumer{})

	dir := filepath.Join(cfg.RunsDir(), "run-1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := `{"run_id": "run-1", "verdicts": []}`
	if err := os.WriteFile(filepath.Join(dir, "report.json"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	w, body := doJSON(t, s, http.MethodGet, "/api/runs/run-1/report", "")
	if w.Code != http.StatusOK || body["run_id"] != "run-1" {
		t.Errorf("status %d, body %v", w.Code, body)
	}

	w, _ = doJSON(t, s, http.MethodGet, "/api/runs/run-9/report", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing report status = %d", w.Code)
	}

	w, _ = doJSON(t, s, http.MethodGet, "/api/runs/a..b/report", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("traversal id status = %d", w.Code)
	}
}

func TestResumeRun(t *testing.T) {
	resumer := &fakeResumer{result: &run.Result{
		RunID:      "run-1",
		ReportJSON: "/data/runs/run-1/report.json",
		ReportMD:   "/data/runs/run-1/report.md",
		Manifest:   &model.Manifest{Ratings: map[string]int{"VERIFIED": 2}},
	}}
	s, _, _, _ := newTestServer(t, resumer)

	w, body := doJSON(t, s, http.MethodPost, "/api/runs/run-1/resume", `{"drop": ["c2", "c5"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %v", w.Code, body)
	}
	if body["run_id"] != "run-1" {
		t.Errorf("run_id = %v", body["run_id"])
	}
	if resumer.runID != "run-1" || len(resumer.dropIDs) != 2 || resumer.dropIDs[0] != "c2" {
		t.Errorf("resumer saw %s %v", resumer.runID, resumer.dropIDs)
	}

	resumer.err = errors.New("no checkpoint for run run-1: not paused or already resumed")
	w, _ = doJSON(t, s, http.MethodPost, "/api/runs/run-1/resume", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("no-checkpoint status = %d", w.Code)
	}

	resumer.err = errors.New(`unknown claim id "zzz" in review decisions`)
	w, _ = doJSON(t, s, http.MethodPost, "/api/runs/run-1/resume", `{"drop": ["zzz"]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown-claim status = %d", w.Code)
	}
}

func TestStreamEventsFiltersByRun(t *testing.T) {
	s, _, bus, _ := newTestServer(t, &fakeResumer{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				bus.Publish(events.Event{RunID: "other", Message: "noise"})
				bus.Publish(events.Event{RunID: "run-9", Stage: model.StageCheckClaims, Message: "checking 3 claims"})
			}
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	resp, err := http.Get(srv.URL + "/api/runs/run-9/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Errorf("content type = %s", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data:") {
			data = line
			break
		}
	}
	if !strings.Contains(data, "checking 3 claims") {
		t.Errorf("first event = %q", data)
	}
	if strings.Contains(data, "noise") {
		t.Errorf("event from another run leaked: %q", data)
	}
}
