package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"agentdesk/internal/domain"
)

type fakeMediaStore struct {
	mu      sync.Mutex
	updates []domain.Media
}

func (f *fakeMediaStore) UpdateMedia(ctx context.Context, m domain.Media) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, m)
	return nil
}

func (f *fakeMediaStore) statuses() []domain.MediaStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.MediaStatus
	for _, u := range f.updates {
		out = append(out, u.Status)
	}
	return out
}

type fakeImages struct {
	prompt, aspect string
	err            error
}

func (f *fakeImages) Generate(ctx context.Context, prompt, aspect string) (*domain.GeneratedAsset, error) {
	f.prompt, f.aspect = prompt, aspect
	if f.err != nil {
		return nil, f.err
	}
	return &domain.GeneratedAsset{URL: "https://cdn/img.png"}, nil
}

type fakeVideos struct{ spec domain.VideoSpec }

func (f *fakeVideos) GenerateVideo(ctx context.Context, spec domain.VideoSpec) (*domain.GeneratedAsset, error) {
	f.spec = spec
	return &domain.GeneratedAsset{URL: "https://cdn/vid.mp4"}, nil
}

func TestMediaRunner_ImageCompleted(t *testing.T) {
	st := &fakeMediaStore{}
	img := &fakeImages{}
	r := NewMediaRunner(MediaRunnerConfig{Store: st, Images: img, Logger: testLogger()})

	url, err := r.Job(domain.Media{ID: "m1", Kind: domain.MediaImage, Prompt: "a fox", Aspect: "portrait"}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://cdn/img.png" || img.prompt != "a fox" || img.aspect != "portrait" {
		t.Fatalf("unexpected call: url=%s %+v", url, img)
	}
	got := st.statuses()
	if len(got) != 2 || got[0] != domain.MediaRunning || got[1] != domain.MediaCompleted {
		t.Fatalf("unexpected status trail %v", got)
	}
	if st.updates[1].URL != url {
		t.Fatal("completed record must carry the url")
	}
}

func TestMediaRunner_ImageFailed(t *testing.T) {
	st := &fakeMediaStore{}
	r := NewMediaRunner(MediaRunnerConfig{Store: st, Images: &fakeImages{err: errors.New("policy")}, Logger: testLogger()})

	if _, err := r.Job(domain.Media{ID: "m2", Kind: domain.MediaImage}).Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	last := st.updates[len(st.updates)-1]
	if last.Status != domain.MediaFailed || last.Error != "policy" {
		t.Fatalf("unexpected final record %+v", last)
	}
}

func TestMediaRunner_Disabled(t *testing.T) {
	r := NewMediaRunner(MediaRunnerConfig{Store: &fakeMediaStore{}, Logger: testLogger()})

	if _, err := r.Job(domain.Media{ID: "i", Kind: domain.MediaImage}).Run(context.Background()); !errors.Is(err, ErrImagesDisabled) {
		t.Fatalf("expected ErrImagesDisabled, got %v", err)
	}
	if _, err := r.Job(domain.Media{ID: "v", Kind: domain.MediaVideo}).Run(context.Background()); !errors.Is(err, ErrVideosDisabled) {
		t.Fatalf("expected ErrVideosDisabled, got %v", err)
	}
}

func TestMediaRunner_VideoSpec(t *testing.T) {
	vids := &fakeVideos{}
	r := NewMediaRunner(MediaRunnerConfig{Store: &fakeMediaStore{}, Videos: vids, Logger: testLogger()})

	job := r.Job(domain.Media{ID: "v1", Kind: domain.MediaVideo, Prompt: "spin", Aspect: "9:16", DurationSec: 15, Style: "retro"})
	if job.ID != "v1" || job.Kind != "video" {
		t.Fatalf("unexpected job %+v", job)
	}
	if _, err := job.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := domain.VideoSpec{Prompt: "spin", AspectRatio: "9:16", DurationSec: 15, Style: "retro"}
	if vids.spec != want {
		t.Fatalf("unexpected spec %+v", vids.spec)
	}
}
