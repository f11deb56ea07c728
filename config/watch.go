package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// DefaultDebounce collapses bursts of file events into one reload.
const DefaultDebounce = 500 * time.Millisecond

type watchOptions struct {
	debounce time.Duration
	log      logr.Logger
}

type WatchOption func(*watchOptions)

func WithDebounce(d time.Duration) WatchOption {
	return func(o *watchOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

func WithWatchLogger(log logr.Logger) WatchOption {
	return func(o *watchOptions) {
		if log.GetSink() != nil {
			o.log = log
		}
	}
}

// Watch reloads path whenever it changes and hands every configuration that
// parses and validates to fn. Invalid files are logged and skipped so the
// caller keeps its last good configuration. The parent directory is watched
// because mounted config volumes replace files through symlink swaps.
// Watch returns once the watcher is running; it stops when ctx is done.
func Watch(ctx context.Context, path string, fn func(Config), opts ...WatchOption) error {
	o := watchOptions{debounce: DefaultDebounce, log: logr.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	o.log.Info("watching config", "path", path)

	go func() {
		defer watcher.Close()

		reload := func() {
			cfg, err := FromFile(path)
			if err != nil {
				o.log.Error(err, "config reload failed", "path", path)
				return
			}
			o.log.Info("config reloaded", "path", path)
			fn(cfg)
		}

		var (
			timer *time.Timer
			fire  <-chan time.Time
		)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		name := filepath.Clean(path)
		for {
			select {
			case <-ctx.Done():
				o.log.V(1).Info("config watcher stopped")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				// Symlink swaps touch sibling entries, not path itself.
				if filepath.Clean(event.Name) != name && filepath.Base(event.Name) != "..data" {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(o.debounce)
				} else {
					timer.Reset(o.debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				o.log.Error(err, "config watcher error")
			}
		}
	}()
	return nil
}
