// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ManifestHandler is called with the parsed manifest after a debounced
// change to the manifest file.
type ManifestHandler func(m *Manifest)

// ManifestWatcher watches the local manifest file for changes.
//
// # Description
//
// Deployments drop a new manifest next to the daemon when the app is
// rebuilt; the watcher picks it up without a restart. Events are
// debounced because editors and atomic-rename deploys produce bursts
// of writes for one logical change. A manifest that fails to parse is
// logged and ignored; the previous generation stays active.
type ManifestWatcher struct {
	path     string
	debounce time.Duration
	handler  ManifestHandler
	logger   *slog.Logger

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	timer   *time.Timer
	done    chan struct{}
}

// NewManifestWatcher creates a watcher for the manifest at path.
//
// # Inputs
//
//   - path: Manifest file path.
//   - debounce: Quiet window after the last event before the handler
//     fires. Zero means 500ms.
//   - handler: Called with each successfully parsed new manifest.
//   - logger: Structured logger. If nil, slog.Default() is used.
func NewManifestWatcher(path string, debounce time.Duration, handler ManifestHandler, logger *slog.Logger) (*ManifestWatcher, error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	// Watch the directory, not the file: atomic-rename deploys replace
	// the inode and a file watch would silently go dead.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch manifest directory: %w", err)
	}

	w := &ManifestWatcher{
		path:     path,
		debounce: debounce,
		handler:  handler,
		logger:   logger,
		watcher:  fsw,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops the watcher.
func (w *ManifestWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *ManifestWatcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("manifest watcher error", "error", err)
		}
	}
}

func (w *ManifestWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *ManifestWatcher) reload() {
	m, err := LoadManifest(w.path)
	if err != nil {
		w.logger.Error("manifest reload failed, keeping previous generation", "path", w.path, "error", err)
		return
	}
	w.logger.Info("manifest reloaded", "version", m.Version)
	w.handler(m)
}
