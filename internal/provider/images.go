package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"agentdesk/internal/domain"
)

const defaultImageModel = "dall-e-3"

var imageSizes = map[string]string{
	"landscape": "1792x1024",
	"portrait":  "1024x1792",
	"square":    "1024x1024",
}

// ImageClient renders images through an OpenAI-compatible
// /v1/images/generations endpoint.
type ImageClient struct {
	apiBase string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type ImageConfig struct {
	APIBase string
	APIKey  string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

var _ domain.ImageGenerator = (*ImageClient)(nil)

func NewImageClient(cfg ImageConfig) *ImageClient {
	if cfg.Model == "" {
		cfg.Model = defaultImageModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ImageClient{
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  SharedHTTPClient(cfg.Timeout),
		logger:  cfg.Logger,
	}
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

// Generate renders one image. Unknown aspects fall back to landscape.
func (c *ImageClient) Generate(ctx context.Context, prompt, aspect string) (*domain.GeneratedAsset, error) {
	size, ok := imageSizes[aspect]
	if !ok {
		size = imageSizes["landscape"]
	}
	body, err := json.Marshal(imageRequest{
		Model:          c.model,
		Prompt:         prompt,
		N:              1,
		Size:           size,
		ResponseFormat: "url",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	resp, err := doWithRetry(ctx, c.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v1/images/generations", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		return req, nil
	}, c.logger)
	if err != nil {
		return nil, fmt.Errorf("image request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("images %d: %s", resp.StatusCode, string(respBody))
	}

	var out imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(out.Data) == 0 || out.Data[0].URL == "" {
		return nil, fmt.Errorf("images: response contained no image")
	}
	return &domain.GeneratedAsset{URL: out.Data[0].URL, RevisedPrompt: out.Data[0].RevisedPrompt}, nil
}
