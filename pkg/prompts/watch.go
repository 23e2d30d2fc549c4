package prompts

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultReloadDebounce = 100 * time.Millisecond

// Watch reloads the override file whenever it changes until ctx is done.
// The parent directory is watched so editors that replace the file by rename
// are still seen. onReload, when set, receives the result of every reload.
func (c *Catalog) Watch(ctx context.Context, path string, onReload func(error)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create prompt watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = fsw.Close()
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	go c.watchLoop(ctx, fsw, abs, onReload)
	return nil
}

func (c *Catalog) watchLoop(ctx context.Context, fsw *fsnotify.Watcher, path string, onReload func(error)) {
	defer func() { _ = fsw.Close() }()

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce = time.After(defaultReloadDebounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			c.logger.Warn("prompt watcher error: %v", err)

		case <-debounce:
			debounce = nil
			err := c.LoadOverride(path)
			if err != nil {
				c.logger.Warn("⚠️ prompt catalog reload failed, keeping previous components: %v", err)
			}
			if onReload != nil {
				onReload(err)
			}
		}
	}
}
