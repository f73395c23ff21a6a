package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 300 * time.Millisecond

// WatchProfiles reloads agent profiles from dir whenever a YAML file in it
// changes and passes the result to onChange. It blocks until ctx ends.
// A missing dir is not watched.
func WatchProfiles(ctx context.Context, dir string, logger *slog.Logger, onChange func(map[string]AgentProfile)) error {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logger.Info("watching agent profiles", "dir", dir)

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isProfileFile(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(reloadDebounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("profile watcher error", "err", err)
		case <-fire:
			profiles, err := LoadProfiles(dir, logger)
			if err != nil {
				logger.Warn("reload agent profiles", "err", err)
				continue
			}
			onChange(profiles)
		}
	}
}

func isProfileFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
