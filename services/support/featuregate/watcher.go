// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package featuregate

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch hot-reloads the flag file into the gate on every write.
//
// # Description
//
// A failed reload keeps the previous set; readers always see either the
// old complete set or the new complete set, never a mixture. Watch blocks
// until ctx is cancelled, so run it in its own goroutine.
//
// # Inputs
//
//   - ctx: cancellation for the watch loop.
//   - path: the YAML flag file previously loaded with LoadFile.
//
// # Outputs
//
//   - error: non-nil only if the watcher itself cannot be created.
func (g *Gate) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			flags, err := LoadFile(path)
			if err != nil {
				slog.Warn("feature flag reload failed, keeping previous set",
					"path", path, "error", err)
				continue
			}
			g.Replace(flags)
			slog.Info("feature flags reloaded", "path", path, "flags", len(flags))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("feature flag watcher error", "error", err)
		}
	}
}
