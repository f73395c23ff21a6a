package provider

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/api/googleapi"

	"agentdesk/internal/domain"
)

func TestBuildTurns_AlternatesAndEndsWithUser(t *testing.T) {
	turns := buildTurns([]domain.ConversationMessage{
		{Role: domain.RoleAssistant, Content: "greeting"},
		{Role: domain.RoleUser, Content: "a"},
		{Role: domain.RoleToolResult, Content: "42"},
		{Role: domain.RoleAssistant, Content: "b"},
		{Role: domain.RoleAssistant, Content: "c"},
	}, "next")

	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %+v", turns)
	}
	if turns[0].Assistant || turns[0].Text != "a\n\n[tool result]\n42" {
		t.Errorf("unexpected first turn %+v", turns[0])
	}
	if !turns[1].Assistant || turns[1].Text != "b\n\nc" {
		t.Errorf("unexpected second turn %+v", turns[1])
	}
	if turns[2].Assistant || turns[2].Text != "next" {
		t.Errorf("unexpected last turn %+v", turns[2])
	}
}

func TestBuildTurns_MergesPromptIntoTrailingUser(t *testing.T) {
	turns := buildTurns([]domain.ConversationMessage{{Role: domain.RoleUser, Content: "first"}}, "second")
	if len(turns) != 1 || turns[0].Text != "first\n\nsecond" {
		t.Fatalf("unexpected turns %+v", turns)
	}
}

func TestBuildTurns_SkipsBlank(t *testing.T) {
	if turns := buildTurns(nil, "   "); len(turns) != 0 {
		t.Fatalf("expected no turns, got %+v", turns)
	}
}

func TestToGeminiContents(t *testing.T) {
	history, last := toGeminiContents([]turn{
		{Text: "hi"},
		{Assistant: true, Text: "hello"},
		{Text: "draw a cat"},
	})
	if last != "draw a cat" {
		t.Fatalf("unexpected last %q", last)
	}
	if len(history) != 2 || history[0].Role != "user" || history[1].Role != "model" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestToGeminiContents_Empty(t *testing.T) {
	history, last := toGeminiContents(nil)
	if history != nil || last != "" {
		t.Fatal("expected empty result")
	}
}

func TestIsRateLimit(t *testing.T) {
	if !isRateLimit(fmt.Errorf("send: %w", &googleapi.Error{Code: 429})) {
		t.Error("expected googleapi 429 to be a rate limit")
	}
	if !isRateLimit(errors.New("rpc error: code = ResourceExhausted desc = RESOURCE_EXHAUSTED")) {
		t.Error("expected RESOURCE_EXHAUSTED to be a rate limit")
	}
	if isRateLimit(&googleapi.Error{Code: 500}) {
		t.Error("500 is not a rate limit")
	}
}
