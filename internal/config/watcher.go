package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/banshee-data/facecap/internal/mocap/dispatch"
	"github.com/banshee-data/facecap/internal/monitoring"
)

// Watcher reloads a settings file when it changes on disk and hands the new
// settings to Apply on the dispatcher's goroutine.
type Watcher struct {
	Path       string
	Dispatcher *dispatch.Dispatcher
	Apply      func(*Settings)
	// Debounce collapses the burst of events editors produce on save.
	Debounce time.Duration
}

// Run watches until ctx is done. The parent directory is watched so that
// editors which replace the file by rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	if w.Dispatcher == nil || w.Apply == nil {
		return fmt.Errorf("config watcher: dispatcher and apply are required")
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	target, err := filepath.Abs(w.Path)
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config watcher: watch %s: %w", filepath.Dir(target), err)
	}
	monitoring.Logf("[config] watching %s", target)

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(ev.Name)
			if err != nil || name != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			monitoring.Logf("[config] watch error: %v", err)
		case <-timer.C:
			w.reload(target)
		}
	}
}

func (w *Watcher) reload(path string) {
	s, err := Load(path)
	if err != nil {
		monitoring.Logf("[config] reload of %s rejected, keeping previous settings: %v", path, err)
		return
	}
	monitoring.Logf("[config] reloaded %s", path)
	w.Dispatcher.Enqueue(func() { w.Apply(s) })
}
