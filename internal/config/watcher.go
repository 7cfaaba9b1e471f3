// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// Watcher reloads the config file whenever it changes on disk and delivers
// the parsed result on Updates. It watches the file's parent directory so
// atomic rename-into-place saves are seen as well as in-place writes.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  logr.Logger
	done    chan struct{}
	wg      sync.WaitGroup
	updates chan Config
}

func NewWatcher(path string, logger logr.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		if cerr := watcher.Close(); cerr != nil {
			logger.Error(cerr, "failed to close fs watcher")
		}
		return nil, fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	w := &Watcher{
		path:    path,
		watcher: watcher,
		logger:  logger.WithName("config.watcher"),
		done:    make(chan struct{}),
		updates: make(chan Config, 1),
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// Updates yields a Config each time the file is rewritten with valid
// contents. Invalid rewrites are logged and skipped, keeping the previous
// configuration in effect.
func (w *Watcher) Updates() <-chan Config {
	return w.updates
}

func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	close(w.updates)
	return err
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error(err, "filesystem watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}

	w.logger.V(1).Info("received file event", "file", event.Name, "op", event.Op)

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error(err, "failed to reload config file, keeping previous settings")
		return
	}

	// Coalesce bursts of events into the latest config.
	select {
	case w.updates <- cfg:
	default:
		select {
		case <-w.updates:
		default:
		}
		select {
		case w.updates <- cfg:
		case <-w.done:
		}
	}
}
