package registry

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultReloadDelay collapses the burst of events an editor save produces
const DefaultReloadDelay = 250 * time.Millisecond

// Watch reloads manifests whenever a file below the plugin directory changes,
// until ctx is done. onReload, if set, runs after every reload.
func (m *Manager) Watch(ctx context.Context, delay time.Duration, onReload func()) error {
	if delay <= 0 {
		delay = DefaultReloadDelay
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create plugin directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := addTree(watcher, m.dir); err != nil {
		return err
	}

	reload := time.NewTimer(delay)
	reload.Stop()
	defer reload.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(watcher, event.Name); err != nil {
						m.logger.Warn("Failed to watch directory", zap.String("path", event.Name), zap.Error(err))
					}
					reload.Reset(delay)
					continue
				}
			}
			if !relevant(m.dir, event) {
				continue
			}
			reload.Reset(delay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("Manifest watcher error", zap.Error(err))

		case <-reload.C:
			if err := m.Load(ctx); err != nil {
				m.logger.Warn("Manifest reload finished with errors", zap.Error(err))
			}
			if onReload != nil {
				onReload()
			}
		}
	}
}

// relevant reports whether an event touches a manifest. Removals and renames
// are always relevant since the removed path may have been a directory.
func relevant(root string, event fsnotify.Event) bool {
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		return true
	}
	rel, err := filepath.Rel(root, event.Name)
	if err != nil {
		return false
	}
	ok, _ := doublestar.Match(ManifestPattern, filepath.ToSlash(rel))
	return ok
}

func addTree(watcher *fsnotify.Watcher, root string) error {
	if err := watcher.Add(root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}
	conf := fastwalk.Config{Follow: false}
	return fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root || !d.IsDir() {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
