package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agentdesk/internal/domain"
)

const (
	defaultVideoModel = "sora-2"
	defaultVideoPoll  = 5 * time.Second
)

var videoSizes = map[string]string{
	"16:9": "1280x720",
	"9:16": "720x1280",
	"1:1":  "1024x1024",
	"4:5":  "1024x1280",
}

// VideoClient renders videos through an OpenAI-compatible /v1/videos
// endpoint: it creates a render job and polls it until it settles.
type VideoClient struct {
	apiBase string
	apiKey  string
	model   string
	poll    time.Duration
	client  *http.Client
	logger  *slog.Logger
}

type VideoConfig struct {
	APIBase      string
	APIKey       string
	Model        string
	PollInterval time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger
}

var _ domain.VideoGenerator = (*VideoClient)(nil)

func NewVideoClient(cfg VideoConfig) *VideoClient {
	if cfg.Model == "" {
		cfg.Model = defaultVideoModel
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultVideoPoll
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &VideoClient{
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		poll:    cfg.PollInterval,
		client:  SharedHTTPClient(cfg.Timeout),
		logger:  cfg.Logger,
	}
}

type videoJob struct {
	ID     string `json:"id"`
	Status string `json:"status"` // queued | in_progress | completed | failed
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GenerateVideo blocks until the render completes, fails or ctx ends.
func (c *VideoClient) GenerateVideo(ctx context.Context, spec domain.VideoSpec) (*domain.GeneratedAsset, error) {
	size, ok := videoSizes[spec.AspectRatio]
	if !ok {
		size = videoSizes["16:9"]
	}
	prompt := spec.Prompt
	if spec.Style != "" {
		prompt += "\nStyle: " + spec.Style
	}
	payload := map[string]string{
		"model":  c.model,
		"prompt": prompt,
		"size":   size,
	}
	if spec.DurationSec > 0 {
		payload["seconds"] = strconv.Itoa(spec.DurationSec)
	}

	var job videoJob
	if err := c.call(ctx, http.MethodPost, "/v1/videos", payload, &job); err != nil {
		return nil, err
	}
	c.logger.Info("video render queued", "job", job.ID)

	for {
		switch job.Status {
		case "completed":
			return &domain.GeneratedAsset{URL: c.apiBase + "/v1/videos/" + job.ID + "/content"}, nil
		case "failed":
			msg := "render failed"
			if job.Error != nil && job.Error.Message != "" {
				msg = job.Error.Message
			}
			return nil, fmt.Errorf("video %s: %s", job.ID, msg)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.poll):
		}
		if err := c.call(ctx, http.MethodGet, "/v1/videos/"+job.ID, nil, &job); err != nil {
			return nil, err
		}
	}
}

func (c *VideoClient) call(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
	}
	resp, err := doWithRetry(ctx, c.client, func() (*http.Request, error) {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, r)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		return req, nil
	}, c.logger)
	if err != nil {
		return fmt.Errorf("video request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("videos %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
