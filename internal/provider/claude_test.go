package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"agentdesk/internal/domain"
)

func init() {
	backoff = func(int) time.Duration { return time.Millisecond }
}

func TestClaude_Chat_SendsSystemHistoryAndPrompt(t *testing.T) {
	var got claudeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("anthropic-version") != claudeAPIVersion {
			t.Errorf("missing version header")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[{"type":"text","text":"Hello "},{"type":"text","text":"there"}],"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":3}}`))
	}))
	defer srv.Close()

	c := NewClaude(ClaudeConfig{APIKey: "sk-test", APIBase: srv.URL, Logger: testLogger()})
	resp, err := c.Chat(context.Background(), domain.ChatRequest{
		System: "You are Iris.",
		History: []domain.ConversationMessage{
			{Role: domain.RoleAssistant, Content: "Welcome!"},
			{Role: domain.RoleUser, Content: "hi"},
			{Role: domain.RoleAssistant, Content: "What's your company?"},
		},
		Prompt:      "Acme",
		MaxTokens:   256,
		Temperature: 0.5,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if resp.Content != "Hello there" || resp.Usage.TotalTokens != 13 || resp.FinishReason != "end_turn" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if got.System != "You are Iris." || got.MaxTokens != 256 || got.Model != claudeDefaultModel {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.Temperature == nil || *got.Temperature != 0.5 {
		t.Fatalf("temperature not forwarded: %+v", got.Temperature)
	}
	if len(got.Messages) != 3 || got.Messages[0].Role != "user" || got.Messages[2].Content != "Acme" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
}

func TestClaude_Chat_RateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	c := NewClaude(ClaudeConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	_, err := c.Chat(context.Background(), domain.ChatRequest{Prompt: "hi"})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if n := calls.Load(); n != maxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", maxRetries+1, n)
	}
}

func TestClaude_Chat_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	c := NewClaude(ClaudeConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	resp, err := c.Chat(context.Background(), domain.ChatRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "ok" || calls.Load() != 2 {
		t.Fatalf("unexpected result %q after %d calls", resp.Content, calls.Load())
	}
}

func TestClaude_Chat_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`bad request`))
	}))
	defer srv.Close()

	c := NewClaude(ClaudeConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	if _, err := c.Chat(context.Background(), domain.ChatRequest{Prompt: "hi"}); err == nil {
		t.Fatal("expected error for 400")
	}
	if calls.Load() != 1 {
		t.Fatalf("400 must not be retried, got %d calls", calls.Load())
	}
}

func TestClaude_Chat_EmptyPrompt(t *testing.T) {
	c := NewClaude(ClaudeConfig{APIKey: "k", APIBase: "http://127.0.0.1:1", Logger: testLogger()})
	if _, err := c.Chat(context.Background(), domain.ChatRequest{}); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestClaude_Healthy(t *testing.T) {
	if err := NewClaude(ClaudeConfig{}).Healthy(context.Background()); err == nil {
		t.Fatal("expected unhealthy without key")
	}
}
