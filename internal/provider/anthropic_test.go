package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/supportflow-io/supportflow/pkg/protocol"
)

func TestAnthropicChat_TextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Error("missing x-api-key header")
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Error("missing anthropic-version header")
		}

		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "claude-sonnet-4-20250514" {
			t.Errorf("expected default model, got %s", req.Model)
		}
		if req.MaxTokens != 4096 {
			t.Errorf("expected default max_tokens 4096, got %d", req.MaxTokens)
		}

		resp := anthropicResponse{
			Content: []anthropicContentBlock{{Type: "text", Text: "Hello!"}},
			Usage:   anthropicUsage{InputTokens: 10, OutputTokens: 5},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewAnthropic("test-key", WithAnthropicBaseURL(srv.URL))

	got, err := p.Chat(context.Background(), protocol.ChatRequest{
		Messages: []protocol.ChatMessage{{Role: protocol.RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Content != "Hello!" {
		t.Errorf("expected content 'Hello!', got %q", got.Content)
	}
	if got.Usage.PromptTokens != 10 || got.Usage.CompletionTokens != 5 {
		t.Errorf("unexpected usage: %+v", got.Usage)
	}
}

func TestAnthropicChat_SystemPromptLifted(t *testing.T) {
	var captured anthropicRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContentBlock{{Type: "text", Text: "OK"}},
		})
	}))
	defer srv.Close()

	p := NewAnthropic("test-key", WithAnthropicBaseURL(srv.URL))

	_, err := p.Chat(context.Background(), protocol.ChatRequest{
		Messages: []protocol.ChatMessage{
			{Role: protocol.RoleSystem, Content: "You are a support agent."},
			{Role: protocol.RoleUser, Content: "Hi"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured.System != "You are a support agent." {
		t.Errorf("system prompt not lifted, got %q", captured.System)
	}
	if len(captured.Messages) != 1 {
		t.Fatalf("expected 1 message after lifting system, got %d", len(captured.Messages))
	}
	if captured.Messages[0].Role != protocol.RoleUser {
		t.Errorf("expected user message, got %q", captured.Messages[0].Role)
	}
}

func TestAnthropicChat_JSONOnlyPrefill(t *testing.T) {
	var captured anthropicRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContentBlock{{Type: "text", Text: `"classified_type":"query"}`}},
		})
	}))
	defer srv.Close()

	p := NewAnthropic("test-key", WithAnthropicBaseURL(srv.URL))

	got, err := p.Chat(context.Background(), protocol.ChatRequest{
		Messages: []protocol.ChatMessage{{Role: protocol.RoleUser, Content: "classify"}},
		JSONOnly: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := captured.Messages[len(captured.Messages)-1]
	if last.Role != protocol.RoleAssistant || last.Content != "{" {
		t.Errorf("expected assistant prefill '{', got %+v", last)
	}
	if got.Content != `{"classified_type":"query"}` {
		t.Errorf("prefill not re-attached: %q", got.Content)
	}
}

func TestAnthropicChat_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	p := NewAnthropic("test-key", WithAnthropicBaseURL(srv.URL))

	_, err := p.Chat(context.Background(), protocol.ChatRequest{
		Messages: []protocol.ChatMessage{{Role: protocol.RoleUser, Content: "Hi"}},
	})
	if err == nil {
		t.Fatal("expected error for non-200 status")
	}
}
