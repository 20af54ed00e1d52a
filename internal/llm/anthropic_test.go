package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAnthropicProvider_Generate_Success(t *testing.T) {
	var gotReq anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("Expected path /v1/messages, got %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("Expected x-api-key header test-key, got %s", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("Expected anthropic-version header 2023-06-01, got %s", r.Header.Get("anthropic-version"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}

		resp := anthropicResponse{
			ID:   "msg_123",
			Type: "message",
			Role: "assistant",
			Content: []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			}{
				{Type: "text", Text: `{"rating": "VERIFIED"}`},
			},
			Model: "claude-3-5-sonnet-20241022",
			Usage: struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			}{
				InputTokens:  50,
				OutputTokens: 25,
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	cfg := testLLMConfig(server.URL)
	cfg.APIKey = "test-key"
	cfg.ModelVerify = "claude-3-5-sonnet-20241022"

	provider, err := NewAnthropicProvider(cfg)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	resp, err := provider.Generate(context.Background(), Request{
		Role:   RoleVerify,
		System: "Respond with JSON only.",
		Prompt: "Verify the claim.",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if resp.Text != `{"rating": "VERIFIED"}` {
		t.Errorf("Unexpected text: %s", resp.Text)
	}
	if resp.PromptTokens != 50 || resp.CompletionTokens != 25 {
		t.Errorf("Unexpected token counts: %d/%d", resp.PromptTokens, resp.CompletionTokens)
	}
	if gotReq.Model != "claude-3-5-sonnet-20241022" {
		t.Errorf("Expected verify model, got %s", gotReq.Model)
	}
	if gotReq.System != "Respond with JSON only." {
		t.Errorf("Expected system prompt, got %q", gotReq.System)
	}
	if gotReq.Temperature != 0.0 {
		t.Errorf("Expected verify temperature 0, got %v", gotReq.Temperature)
	}
}

func TestAnthropicProvider_Generate_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "authentication_error", "message": "invalid x-api-key"}}`))
	}))
	defer server.Close()

	cfg := testLLMConfig(server.URL)
	cfg.APIKey = "bad-key"

	provider, err := NewAnthropicProvider(cfg)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	_, err = provider.Generate(context.Background(), Request{Role: RoleVerify, Prompt: "p"})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "authentication_error") {
		t.Errorf("Expected error to contain API error type, got %v", err)
	}
}

func TestAnthropicProvider_RequiresAPIKey(t *testing.T) {
	cfg := testLLMConfig("")
	cfg.APIKey = ""

	if _, err := NewAnthropicProvider(cfg); err == nil {
		t.Fatal("Expected error for missing API key, got nil")
	}
}

func TestAnthropicProvider_Generate_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(anthropicResponse{ID: "msg_1", Model: "m"})
	}))
	defer server.Close()

	cfg := testLLMConfig(server.URL)
	cfg.APIKey = "test-key"

	provider, err := NewAnthropicProvider(cfg)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	if _, err := provider.Generate(context.Background(), Request{Role: RoleVerify, Prompt: "p"}); err == nil {
		t.Fatal("Expected error for empty content, got nil")
	}
}
