package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchProfiles_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan map[string]AgentProfile, 4)
	done := make(chan error, 1)
	go func() {
		done <- WatchProfiles(ctx, dir, testLogger(), func(p map[string]AgentProfile) { reloaded <- p })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	content := "name: nova\nsystemPrompt: You are Nova.\n"
	if err := os.WriteFile(filepath.Join(dir, "nova.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-reloaded:
		if _, ok := p["nova"]; !ok {
			t.Fatalf("expected nova in reloaded profiles, got %d profiles", len(p))
		}
		if _, ok := p["beacon"]; !ok {
			t.Fatal("built-in profiles should survive a reload")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchProfiles_EmptyDirIsNoop(t *testing.T) {
	if err := WatchProfiles(context.Background(), "", testLogger(), nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestIsProfileFile(t *testing.T) {
	for name, want := range map[string]bool{
		"/a/luna.yaml": true,
		"/a/LUNA.YML":  true,
		"/a/notes.txt": false,
		"/a/.luna.swp": false,
	} {
		if got := isProfileFile(name); got != want {
			t.Errorf("isProfileFile(%q) = %v, want %v", name, got, want)
		}
	}
}
