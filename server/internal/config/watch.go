package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the file at path whenever it changes and hands the new
// Config to onChange. A file that fails to load is logged and skipped; the
// caller keeps whatever it had. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("server config: new watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		return fmt.Errorf("server config: watch %q: %w", path, err)
	}
	slog.Info("server config: watching", "path", path)

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
				slog.Error("server config: reload rejected", "path", path, "err", err)
				continue
			}
			slog.Info("server config: reloaded", "path", path,
				"alert_rules", len(cfg.Server.Alerts.Rules))
			onChange(cfg)
			// atomic saves replace the inode
			_ = w.Add(path)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("server config: watcher error", "err", err)
		}
	}
}
