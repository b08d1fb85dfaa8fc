// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG WATCHER INTERFACE
// =============================================================================

// Watcher tells a long-running host when the configuration file changed
// so it can rebuild its registry. The registry itself never reloads.
type Watcher interface {
	// Watch starts watching for configuration changes
	Watch() error

	// Close stops watching and releases resources
	Close() error
}

// ReloadFunc receives the result of reloading the configuration after a
// change. A reload that fails validation reports the error with a nil
// config; the previous configuration stays in effect.
type ReloadFunc func(*Config, error)

// =============================================================================
// FSNOTIFY WATCHER
// =============================================================================

// FsnotifyWatcher implements Watcher using fsnotify.
type FsnotifyWatcher struct {
	path     string
	debounce time.Duration
	onReload ReloadFunc
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	pending  bool
	changed  time.Time
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewFsnotifyWatcher creates a new fsnotify-based watcher for one
// configuration file.
func NewFsnotifyWatcher(path string, debounce time.Duration, onReload ReloadFunc) (*FsnotifyWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	fw := &FsnotifyWatcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		onReload: onReload,
		watcher:  watcher,
		ctx:      ctx,
		cancel:   cancel,
	}

	return fw, nil
}

// Watch starts watching for configuration changes.
func (fw *FsnotifyWatcher) Watch() error {
	// Watch the parent directory, not the file: editors replace files
	// by rename, which silently drops a watch on the file itself.
	if err := fw.watcher.Add(filepath.Dir(fw.path)); err != nil {
		return err
	}

	// Start event processing goroutine
	go fw.processEvents()

	// Start debounce timer goroutine
	go fw.processPending()

	return nil
}

// processEvents processes file system events.
func (fw *FsnotifyWatcher) processEvents() {
	// Add panic recovery to prevent crashes
	defer func() {
		if r := recover(); r != nil {
			_ = r
		}
	}()

	for {
		select {
		case <-fw.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != fw.path {
				continue
			}

			// Writes, creates and renames all mean the file content may
			// have changed; removals are ignored until content reappears.
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				fw.mu.Lock()
				fw.pending = true
				fw.changed = time.Now()
				fw.mu.Unlock()
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.onReload(nil, err)
		}
	}
}

// processPending fires the reload once changes settle for the debounce
// window, so a burst of editor writes produces one reload.
func (fw *FsnotifyWatcher) processPending() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-fw.ctx.Done():
			return

		case <-ticker.C:
			fw.mu.Lock()
			fire := fw.pending && time.Since(fw.changed) >= fw.debounce
			if fire {
				fw.pending = false
			}
			fw.mu.Unlock()

			if fire {
				fw.onReload(LoadFromPath(fw.path))
			}
		}
	}
}

// Close stops watching and releases resources.
func (fw *FsnotifyWatcher) Close() error {
	fw.cancel()
	if fw.watcher != nil {
		return fw.watcher.Close()
	}
	return nil
}

// =============================================================================
// POLLING WATCHER (FALLBACK)
// =============================================================================

// PollingWatcher implements Watcher using periodic stat polling.
type PollingWatcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc
	mu       sync.Mutex
	modTime  time.Time
	size     int64
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewPollingWatcher creates a new polling-based watcher.
func NewPollingWatcher(path string, interval time.Duration, onReload ReloadFunc) *PollingWatcher {
	ctx, cancel := context.WithCancel(context.Background())

	return &PollingWatcher{
		path:     filepath.Clean(path),
		interval: interval,
		onReload: onReload,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Watch records the current file state and starts polling.
func (pw *PollingWatcher) Watch() error {
	pw.mu.Lock()
	if info, err := os.Stat(pw.path); err == nil {
		pw.modTime = info.ModTime()
		pw.size = info.Size()
	}
	pw.mu.Unlock()

	go pw.poll()
	return nil
}

// poll periodically checks for file changes.
func (pw *PollingWatcher) poll() {
	ticker := time.NewTicker(pw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-pw.ctx.Done():
			return

		case <-ticker.C:
			pw.checkChange()
		}
	}
}

// checkChange compares the file state against the last poll and fires
// the reload on any difference.
func (pw *PollingWatcher) checkChange() {
	info, err := os.Stat(pw.path)
	if err != nil {
		return
	}

	pw.mu.Lock()
	changed := !info.ModTime().Equal(pw.modTime) || info.Size() != pw.size
	if changed {
		pw.modTime = info.ModTime()
		pw.size = info.Size()
	}
	pw.mu.Unlock()

	if changed {
		pw.onReload(LoadFromPath(pw.path))
	}
}

// Close stops watching.
func (pw *PollingWatcher) Close() error {
	pw.cancel()
	return nil
}

// =============================================================================
// WATCHER FACTORY
// =============================================================================

// StartWatcher starts a watcher for the configuration file (fsnotify,
// with a polling fallback where native notification is unavailable).
func StartWatcher(path string, debounce time.Duration, onReload ReloadFunc) (Watcher, error) {
	// Try fsnotify first
	fw, err := NewFsnotifyWatcher(path, debounce, onReload)
	if err == nil {
		if err := fw.Watch(); err == nil {
			return fw, nil
		}
		fw.Close()
	}

	// Fallback to polling watcher
	pw := NewPollingWatcher(path, 2*time.Second, onReload)
	if err := pw.Watch(); err != nil {
		return nil, err
	}

	return pw, nil
}
