package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"agentdesk/internal/domain"
)

const geminiDefaultModel = "gemini-1.5-flash"

// Gemini implements domain.Provider using the Google Generative AI SDK.
type Gemini struct {
	client *genai.Client
	apiKey string
	model  string
	logger *slog.Logger
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewGemini creates a Gemini provider. No request is made until Chat.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.Model == "" {
		cfg.Model = geminiDefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client, err := genai.NewClient(ctx,
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{
			Timeout:   cfg.Timeout,
			Transport: &apiKeyTransport{base: http.DefaultTransport, apiKey: cfg.APIKey},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, apiKey: cfg.APIKey, model: cfg.Model, logger: cfg.Logger}, nil
}

// apiKeyTransport re-adds the API key header, which the SDK skips when a
// custom HTTP client is supplied.
type apiKeyTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.apiKey != "" && req.Header.Get("x-goog-api-key") == "" && req.URL.Query().Get("key") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("x-goog-api-key", t.apiKey)
	}
	return t.base.RoundTrip(req)
}

func (g *Gemini) Name() string     { return "gemini" }
func (g *Gemini) Models() []string { return []string{"gemini-1.5-flash", "gemini-1.5-pro", "gemini-2.0-flash"} }

func (g *Gemini) Healthy(ctx context.Context) error {
	if g.apiKey == "" {
		return fmt.Errorf("gemini: no API key configured")
	}
	return nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

func (g *Gemini) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	name := req.Model
	if name == "" {
		name = g.model
	}
	gm := g.client.GenerativeModel(name)
	if req.System != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature > 0 {
		gm.SetTemperature(float32(req.Temperature))
	}

	history, last := toGeminiContents(buildTurns(req.History, req.Prompt))
	if last == "" {
		return nil, fmt.Errorf("gemini: empty prompt")
	}

	cs := gm.StartChat()
	cs.History = history

	start := time.Now()
	resp, err := cs.SendMessage(ctx, genai.Text(last))
	if err != nil {
		if isRateLimit(err) {
			return nil, fmt.Errorf("gemini: %w: %w", domain.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("gemini request: %w", err)
	}

	out := &domain.ChatResponse{LatencyMs: time.Since(start).Milliseconds()}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if txt, ok := part.(genai.Text); ok {
					text.WriteString(string(txt))
				}
			}
		}
		if out.FinishReason == "" {
			out.FinishReason = strings.ToLower(cand.FinishReason.String())
		}
	}
	out.Content = text.String()
	if resp.UsageMetadata != nil {
		out.Usage = domain.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

// toGeminiContents splits alternating turns into chat history and the final
// user message.
func toGeminiContents(turns []turn) ([]*genai.Content, string) {
	if len(turns) == 0 {
		return nil, ""
	}
	history := make([]*genai.Content, 0, len(turns)-1)
	for _, t := range turns[:len(turns)-1] {
		role := "user"
		if t.Assistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.Text)}})
	}
	return history, turns[len(turns)-1].Text
}

func isRateLimit(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return true
	}
	var coded interface{ HTTPCode() int }
	if errors.As(err, &coded) && coded.HTTPCode() == http.StatusTooManyRequests {
		return true
	}
	return strings.Contains(err.Error(), "RESOURCE_EXHAUSTED")
}
