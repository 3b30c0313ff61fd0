package config

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches conf.yml (or robotics_server_conf.yml) for on-disk edits
// and invokes onChange with the freshly reloaded Config. A reload only
// affects the *next* routine or broadcast cycle, never an in-flight one,
// because callers hold a Snapshot taken at routine/cycle start rather than
// a live reference.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
}

// NewWatcher starts watching path immediately.
func NewWatcher(path string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	return &Watcher{path: path, watcher: w}, nil
}

// Run blocks, invoking onChange on every write/create event for path, until
// ctx is cancelled. onChange receives the newly reloaded Store; load
// failures (e.g. a half-written file) are passed to onError and do not stop
// the watch loop.
func (w *Watcher) Run(ctx context.Context, onChange func(*Store), onError func(error)) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			store, err := Load(w.path)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onChange != nil {
				onChange(store)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}

// Close stops the underlying fsnotify watch.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
