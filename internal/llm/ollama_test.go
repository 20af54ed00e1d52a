package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ppiankov/evident/internal/config"
)

func testLLMConfig(baseURL string) config.LLMConfig {
	cfg := config.Default().LLM
	cfg.BaseURL = baseURL
	cfg.TimeoutSec = 5
	return cfg
}

func TestOllamaProvider_Generate_Success(t *testing.T) {
	var gotReq ollamaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Expected path /api/generate, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}

		resp := ollamaResponse{
			Model:           "qwen2.5:14b",
			Response:        `{"claims": []}`,
			Done:            true,
			PromptEvalCount: 10,
			EvalCount:       20,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(testLLMConfig(server.URL))
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	resp, err := provider.Generate(context.Background(), Request{
		Role:   RoleExtract,
		Prompt: "Extract claims.",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if resp.Text != `{"claims": []}` {
		t.Errorf("Unexpected text: %s", resp.Text)
	}
	if resp.PromptTokens != 10 || resp.CompletionTokens != 20 {
		t.Errorf("Unexpected token counts: %d/%d", resp.PromptTokens, resp.CompletionTokens)
	}
	if gotReq.Model != "qwen2.5:14b" {
		t.Errorf("Expected extract model, got %s", gotReq.Model)
	}
	if gotReq.Options.Temperature != 0.0 {
		t.Errorf("Expected extract temperature 0, got %v", gotReq.Options.Temperature)
	}
	if gotReq.Stream {
		t.Error("Expected non-streaming request")
	}
}

func TestOllamaProvider_Generate_RoleRouting(t *testing.T) {
	var gotReq ollamaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(ollamaResponse{Model: gotReq.Model, Response: "ok", Done: true})
	}))
	defer server.Close()

	cfg := testLLMConfig(server.URL)
	cfg.ModelQueryGen = "qwen2.5:7b"
	cfg.TempQueryGen = 0.3

	provider, err := NewOllamaProvider(cfg)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	if _, err := provider.Generate(context.Background(), Request{Role: RoleQueryGen, Prompt: "q"}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if gotReq.Model != "qwen2.5:7b" {
		t.Errorf("Expected query_gen model, got %s", gotReq.Model)
	}
	if gotReq.Options.Temperature != 0.3 {
		t.Errorf("Expected query_gen temperature 0.3, got %v", gotReq.Options.Temperature)
	}
}

func TestOllamaProvider_Generate_EstimatesMissingTokenCounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaResponse{Model: "m", Response: strings.Repeat("word ", 40), Done: true})
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(testLLMConfig(server.URL))
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	resp, err := provider.Generate(context.Background(), Request{Role: RoleVerify, Prompt: strings.Repeat("p ", 100)})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.PromptTokens == 0 || resp.CompletionTokens == 0 {
		t.Errorf("Expected estimated token counts, got %d/%d", resp.PromptTokens, resp.CompletionTokens)
	}
}

func TestOllamaProvider_Generate_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": "model not found"}`))
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(testLLMConfig(server.URL))
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	_, err = provider.Generate(context.Background(), Request{Role: RoleVerify, Prompt: "p"})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "model not found") {
		t.Errorf("Expected error to contain API message, got %v", err)
	}
}

func TestOllamaProvider_Generate_MalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{malformed json`))
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(testLLMConfig(server.URL))
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	if _, err := provider.Generate(context.Background(), Request{Role: RoleVerify, Prompt: "p"}); err == nil {
		t.Fatal("Expected error, got nil")
	}
}

func TestOllamaProvider_Generate_NoModel(t *testing.T) {
	cfg := testLLMConfig("http://localhost:11434")
	cfg.ModelExtract = ""

	provider, err := NewOllamaProvider(cfg)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	_, err = provider.Generate(context.Background(), Request{Role: RoleExtract, Prompt: "p"})
	if err == nil {
		t.Fatal("Expected error when no model configured, got nil")
	}
	if !strings.Contains(err.Error(), "must be configured") {
		t.Errorf("Expected error about missing model, got %v", err)
	}
}

func TestOllamaProvider_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(testLLMConfig(server.URL))
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	if !provider.IsAvailable(context.Background()) {
		t.Error("Expected available to be true")
	}

	server.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if provider.IsAvailable(context.Background()) {
		t.Error("Expected available to be false on error")
	}
}
