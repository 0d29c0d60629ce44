// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"path/filepath"
	"slices"
	"strings"
)

// collectGarbage removes every bundle directory not named in keep, along
// with scratch left behind by interrupted installs. Scratch belonging to an
// install that is still running is left alone. The caller must hold e.mu.
//
// Failures are logged and otherwise ignored; anything left behind is
// retried by the next collection.
func (e *Engine) collectGarbage(keep ...string) []string {
	entries, err := e.fs.ReadDir(e.storeDir)
	if err != nil {
		e.logger.Warn("failed to list bundle store", "error", err)
		return nil
	}

	var removed []string
	remove := func(path string) {
		if _, busy := e.scratch[path]; busy {
			return
		}
		if err := e.fs.RemoveAll(path); err != nil {
			e.logger.Warn("failed to remove bundle directory", "path", path, "error", err)
			return
		}
		e.logger.Debug("removed bundle directory", "path", path)
		removed = append(removed, filepath.Base(path))
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(e.storeDir, name)
		switch {
		case name == downloadsDir:
			downloads, err := e.fs.ReadDir(path)
			if err != nil {
				e.logger.Warn("failed to list download scratch", "error", err)
				continue
			}
			for _, d := range downloads {
				remove(filepath.Join(path, d.Name()))
			}
		case strings.HasSuffix(name, scratchSuffix):
			remove(path)
		case slices.Contains(keep, name):
			e.logger.Trace("keeping bundle", "bundle", name)
		default:
			remove(path)
		}
	}

	if len(removed) > 0 {
		if cb := e.events.GarbageCollected; cb != nil {
			cb(removed)
		}
	}
	return removed
}
