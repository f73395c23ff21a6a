package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"agentdesk/internal/domain"
)

func TestImageClient_Generate(t *testing.T) {
	var got imageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-img" {
			t.Errorf("missing bearer token")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"data":[{"url":"https://cdn.test/fox.png","revised_prompt":"a red fox in snow"}]}`))
	}))
	defer srv.Close()

	c := NewImageClient(ImageConfig{APIBase: srv.URL, APIKey: "sk-img", Logger: testLogger()})
	asset, err := c.Generate(context.Background(), "a red fox", "portrait")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if asset.URL != "https://cdn.test/fox.png" || asset.RevisedPrompt != "a red fox in snow" {
		t.Fatalf("unexpected asset %+v", asset)
	}
	if got.Size != "1024x1792" || got.Model != defaultImageModel || got.N != 1 {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestImageClient_UnknownAspectIsLandscape(t *testing.T) {
	var size string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req imageRequest
		json.NewDecoder(r.Body).Decode(&req)
		size = req.Size
		w.Write([]byte(`{"data":[{"url":"u"}]}`))
	}))
	defer srv.Close()

	c := NewImageClient(ImageConfig{APIBase: srv.URL, Logger: testLogger()})
	if _, err := c.Generate(context.Background(), "x", "panoramic"); err != nil {
		t.Fatal(err)
	}
	if size != "1792x1024" {
		t.Fatalf("expected landscape size, got %s", size)
	}
}

func TestImageClient_EmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := NewImageClient(ImageConfig{APIBase: srv.URL, Logger: testLogger()})
	if _, err := c.Generate(context.Background(), "x", "square"); err == nil {
		t.Fatal("expected error for empty data")
	}
}

func TestVideoClient_PollsUntilComplete(t *testing.T) {
	var polls atomic.Int32
	var created map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/videos":
			json.NewDecoder(r.Body).Decode(&created)
			w.Write([]byte(`{"id":"vid_1","status":"queued"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/videos/vid_1":
			if polls.Add(1) < 2 {
				w.Write([]byte(`{"id":"vid_1","status":"in_progress"}`))
				return
			}
			w.Write([]byte(`{"id":"vid_1","status":"completed"}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewVideoClient(VideoConfig{APIBase: srv.URL, PollInterval: 1, Logger: testLogger()})
	asset, err := c.GenerateVideo(context.Background(), domain.VideoSpec{
		Prompt: "product spin", AspectRatio: "9:16", DurationSec: 30, Style: "cinematic",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if asset.URL != srv.URL+"/v1/videos/vid_1/content" {
		t.Fatalf("unexpected url %s", asset.URL)
	}
	if created["size"] != "720x1280" || created["seconds"] != "30" {
		t.Fatalf("unexpected create payload %v", created)
	}
}

func TestVideoClient_Failed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"vid_2","status":"failed","error":{"message":"content policy"}}`))
	}))
	defer srv.Close()

	c := NewVideoClient(VideoConfig{APIBase: srv.URL, Logger: testLogger()})
	if _, err := c.GenerateVideo(context.Background(), domain.VideoSpec{Prompt: "x"}); err == nil {
		t.Fatal("expected failure")
	}
}
