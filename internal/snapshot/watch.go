package snapshot

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch invokes fn whenever the plan directory changes, debouncing rapid
// write bursts. Only the top-level files are watched: every Save rewrites
// manifest.json last, so a settled manifest write means a settled save.
// Blocks until ctx is cancelled or the watcher fails.
func Watch(ctx context.Context, planDir string, debounce time.Duration, fn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(planDir); err != nil {
		return fmt.Errorf("watching %s: %w", planDir, err)
	}

	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	var timer *time.Timer
	fired := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-fired:
			fn()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			base := filepath.Base(event.Name)
			if base != manifestFileName && base != edgesFileName && base != nodesDirName {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fired <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher: %w", err)
		}
	}
}
