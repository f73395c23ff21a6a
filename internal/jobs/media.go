package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"agentdesk/internal/domain"
)

var (
	ErrImagesDisabled = errors.New("image generation is not configured")
	ErrVideosDisabled = errors.New("video generation is not configured")
)

// MediaStore is the slice of domain.Store media jobs write to.
type MediaStore interface {
	UpdateMedia(ctx context.Context, m domain.Media) error
}

// MediaRunner turns pending media records into queue jobs that call the
// configured generators and write the outcome back to the store.
type MediaRunner struct {
	store  MediaStore
	images domain.ImageGenerator
	videos domain.VideoGenerator
	logger *slog.Logger
}

type MediaRunnerConfig struct {
	Store  MediaStore
	Images domain.ImageGenerator // nil = disabled
	Videos domain.VideoGenerator // nil = disabled
	Logger *slog.Logger
}

func NewMediaRunner(cfg MediaRunnerConfig) *MediaRunner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &MediaRunner{store: cfg.Store, images: cfg.Images, videos: cfg.Videos, logger: cfg.Logger}
}

// Job builds the queue job for m. The job ID is the media ID.
func (r *MediaRunner) Job(m domain.Media) Job {
	return Job{
		ID:   m.ID,
		Kind: string(m.Kind),
		Run: func(ctx context.Context) (string, error) {
			return r.run(ctx, m)
		},
	}
}

// Enabled reports whether a generator is configured for kind.
func (r *MediaRunner) Enabled(kind domain.MediaKind) bool {
	switch kind {
	case domain.MediaImage:
		return r.images != nil
	case domain.MediaVideo:
		return r.videos != nil
	}
	return false
}

func (r *MediaRunner) run(ctx context.Context, m domain.Media) (string, error) {
	m.Status = domain.MediaRunning
	r.save(ctx, m)

	asset, err := r.generate(ctx, m)
	if err != nil {
		m.Status = domain.MediaFailed
		m.Error = err.Error()
		r.save(context.WithoutCancel(ctx), m)
		return "", err
	}

	m.Status = domain.MediaCompleted
	m.URL = asset.URL
	m.Error = ""
	r.save(ctx, m)
	return asset.URL, nil
}

func (r *MediaRunner) generate(ctx context.Context, m domain.Media) (*domain.GeneratedAsset, error) {
	switch m.Kind {
	case domain.MediaImage:
		if r.images == nil {
			return nil, ErrImagesDisabled
		}
		return r.images.Generate(ctx, m.Prompt, m.Aspect)
	case domain.MediaVideo:
		if r.videos == nil {
			return nil, ErrVideosDisabled
		}
		return r.videos.GenerateVideo(ctx, domain.VideoSpec{
			Prompt:      m.Prompt,
			AspectRatio: m.Aspect,
			DurationSec: m.DurationSec,
			Style:       m.Style,
		})
	default:
		return nil, fmt.Errorf("unknown media kind %q", m.Kind)
	}
}

func (r *MediaRunner) save(ctx context.Context, m domain.Media) {
	if err := r.store.UpdateMedia(ctx, m); err != nil {
		r.logger.Error("media status update failed", "id", m.ID, "status", m.Status, "err", err)
	}
}
