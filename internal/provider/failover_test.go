package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"agentdesk/internal/domain"
)

// mockProvider implements domain.Provider for testing.
type mockProvider struct {
	name     string
	healthy  bool
	chatErr  error
	chatResp *domain.ChatResponse
	calls    int
	lastReq  domain.ChatRequest
}

func (m *mockProvider) Name() string     { return m.name }
func (m *mockProvider) Models() []string { return []string{"test-model"} }

func (m *mockProvider) Healthy(ctx context.Context) error {
	if !m.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.calls++
	m.lastReq = req
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	return m.chatResp, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFailoverProvider_UsesFirstProvider(t *testing.T) {
	p1 := &mockProvider{name: "primary", healthy: true, chatResp: &domain.ChatResponse{Content: "from-primary"}}
	p2 := &mockProvider{name: "secondary", healthy: true, chatResp: &domain.ChatResponse{Content: "from-secondary"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-primary" {
		t.Fatalf("expected 'from-primary', got %q", resp.Content)
	}
	if p2.calls != 0 {
		t.Fatal("secondary should not be called")
	}
}

func TestFailoverProvider_FallsBackOnError(t *testing.T) {
	p1 := &mockProvider{name: "primary", healthy: true, chatErr: errors.New("api error")}
	p2 := &mockProvider{name: "secondary", healthy: true, chatResp: &domain.ChatResponse{Content: "from-secondary"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-secondary" {
		t.Fatalf("expected 'from-secondary', got %q", resp.Content)
	}
}

func TestFailoverProvider_FallbackUsesOwnModel(t *testing.T) {
	p1 := &mockProvider{name: "claude", chatErr: errors.New("overloaded")}
	p2 := &mockProvider{name: "gemini", chatResp: &domain.ChatResponse{Content: "ok"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	if _, err := fp.Chat(context.Background(), domain.ChatRequest{Model: "claude-3-5-haiku-latest", Prompt: "hi"}); err != nil {
		t.Fatal(err)
	}
	if p1.lastReq.Model != "claude-3-5-haiku-latest" {
		t.Errorf("primary should get the persona model, got %q", p1.lastReq.Model)
	}
	if p2.lastReq.Model != "" || p2.lastReq.Prompt != "hi" {
		t.Errorf("fallback should get its default model and the same prompt, got %+v", p2.lastReq)
	}
}

func TestFailoverProvider_ThrottledPrimaryReportsRateLimit(t *testing.T) {
	p1 := &mockProvider{name: "p1", chatErr: fmt.Errorf("claude: %w", domain.ErrRateLimited)}
	p2 := &mockProvider{name: "p2", chatErr: errors.New("boom")}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestFailoverProvider_AllProvidersFail(t *testing.T) {
	p1 := &mockProvider{name: "p1", healthy: true, chatErr: errors.New("fail 1")}
	p2 := &mockProvider{name: "p2", healthy: true, chatErr: errors.New("fail 2")}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err == nil {
		t.Fatal("expected error when all providers fail")
	}
}

func TestFailoverProvider_PreservesRateLimit(t *testing.T) {
	p1 := &mockProvider{name: "p1", chatErr: errors.New("boom")}
	p2 := &mockProvider{name: "p2", chatErr: fmt.Errorf("claude: %w", domain.ErrRateLimited)}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited in chain, got %v", err)
	}
}

func TestFailoverProvider_StopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p1 := &mockProvider{name: "p1", chatErr: errors.New("canceled upstream")}
	p2 := &mockProvider{name: "p2", chatResp: &domain.ChatResponse{Content: "late"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	_, err := fp.Chat(ctx, domain.ChatRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if p2.calls != 0 {
		t.Fatal("fallback must not run after cancellation")
	}
}

func TestFailoverProvider_EmptyChain(t *testing.T) {
	fp := NewFailoverProvider(nil, testLogger())
	if _, err := fp.Chat(context.Background(), domain.ChatRequest{}); err == nil {
		t.Fatal("expected error for empty chain")
	}
}

func TestFailoverProvider_Healthy_AtLeastOneHealthy(t *testing.T) {
	p1 := &mockProvider{name: "sick", healthy: false}
	p2 := &mockProvider{name: "well", healthy: true}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	if err := fp.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got: %v", err)
	}
}

func TestFailoverProvider_Healthy_NoneHealthy(t *testing.T) {
	p1 := &mockProvider{name: "sick1", healthy: false}
	p2 := &mockProvider{name: "sick2", healthy: false}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	if err := fp.Healthy(context.Background()); err == nil {
		t.Fatal("expected unhealthy error")
	}
}

func TestFailoverProvider_Name(t *testing.T) {
	fp := NewFailoverProvider([]domain.Provider{&mockProvider{name: "claude"}, &mockProvider{name: "gemini"}}, testLogger())

	if name := fp.Name(); name != "failover(claude→gemini)" {
		t.Fatalf("expected 'failover(claude→gemini)', got %q", name)
	}
}

func TestFailoverProvider_Models_Deduplicated(t *testing.T) {
	fp := NewFailoverProvider([]domain.Provider{&mockProvider{name: "p1"}, &mockProvider{name: "p2"}}, testLogger())

	if models := fp.Models(); len(models) != 1 {
		t.Fatalf("expected 1 unique model, got %d: %v", len(models), models)
	}
}
