package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the agent file at path whenever it changes and hands the new
// Config to onChange. A file that fails to load is logged and skipped; the
// running device list stays in place. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("agent config: new watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		return fmt.Errorf("agent config: watch %q: %w", path, err)
	}
	slog.Info("agent config: watching", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				slog.Error("agent config: reload rejected", "path", path, "err", err)
				continue
			}
			slog.Info("agent config: reloaded", "path", path,
				"devices", len(cfg.Agent.Devices))
			onChange(cfg)
			// atomic saves replace the inode
			_ = w.Add(path)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("agent config: watcher error", "err", err)
		}
	}
}
