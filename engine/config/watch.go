package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/fsnotify/fsnotify"
)

// Watch reloads path whenever it is written or replaced and passes the result to
// onChange. A file that fails to load is reported with its error and the caller
// keeps its previous configuration. The directory is watched rather than the
// file so editors that save by rename are seen. Watch blocks until ctx is done.
//
// Parameters:
//   - ctx: stops the watch when cancelled
//   - path: the config file
//   - onChange: called from the watch goroutine after every reload attempt
//
// Returns:
//   - error: when the watcher cannot be created, or a watcher error ends the watch
func Watch(ctx context.Context, path string, onChange func(Config, error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	common.LogDebug("[Config] watching %s", abs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(e.Name) != abs || !e.Op.Has(fsnotify.Write) && !e.Op.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(abs)
			if err != nil {
				common.LogWarn("[Config] reload %s: %v", abs, err)
			} else {
				common.LogInfo("[Config] reloaded %s", abs)
			}
			onChange(cfg, err)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("config watcher: %w", err)
		}
	}
}
