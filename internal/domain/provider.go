package domain

import (
	"context"
	"errors"
)

// ErrRateLimited is returned by a Provider when the upstream API throttled the call.
var ErrRateLimited = errors.New("rate limited by model provider")

// Provider is the LLM gateway every agent persona talks to.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Models() []string
	Healthy(ctx context.Context) error
}

// ChatRequest carries an already-bounded history plus the new prompt.
type ChatRequest struct {
	System      string
	History     []ConversationMessage
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

type ChatResponse struct {
	Content      string
	FinishReason string // stop | length | ...
	Usage        Usage
	LatencyMs    int64
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ImageGenerator renders an image for a prompt and returns where it can be fetched.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt, aspect string) (*GeneratedAsset, error)
}

// GeneratedAsset is the result of a media generation call.
type GeneratedAsset struct {
	URL           string
	RevisedPrompt string
}

// VideoSpec is a video render request with caller defaults applied.
type VideoSpec struct {
	Prompt      string
	AspectRatio string
	DurationSec int
	Style       string
}

// VideoGenerator renders a video and returns where it can be fetched.
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, spec VideoSpec) (*GeneratedAsset, error)
}
