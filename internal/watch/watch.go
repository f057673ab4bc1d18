// Package watch recompiles an IL file whenever it changes on disk,
// for the CLI's --watch mode.
//
// Adapted from the teacher's internal/runtime/vfs.FSNotifyWatcher: the
// same fsnotify.Watcher wrapped behind a minimal Events()/Errors()
// channel pair, but narrowed to a single watched file (the IL source)
// rather than a general virtual filesystem, since that is the only
// thing lucentc's watch mode ever needs to react to.
package watch

import (
	"context"
	"errors"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Event reports that path changed.
type Event struct {
	Path string
}

// Watcher is the minimal interface lucentc's watch mode depends on, so
// tests can substitute a fake rather than touching the real filesystem.
type Watcher interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// FSWatcher watches a single file using OS-native notifications.
type FSWatcher struct {
	w    *fsnotify.Watcher
	evC  chan Event
	errC chan error
}

// NewFSWatcher starts watching path. Many editors replace a file
// rather than writing in place, which fsnotify reports as a Remove
// followed by the watch silently going dark; this re-adds path on
// every Remove/Rename so the watch survives save-as-replace.
func NewFSWatcher(path string) (*FSWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch: %w", err)
	}

	fw := &FSWatcher{w: w, evC: make(chan Event, 8), errC: make(chan error, 1)}

	go fw.loop(path)

	return fw, nil
}

func (fw *FSWatcher) loop(path string) {
	for {
		select {
		case ev, ok := <-fw.w.Events:
			if !ok {
				return
			}

			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				if err := fw.w.Add(path); err != nil {
					fw.errC <- fmt.Errorf("watch: re-adding %s after replace: %w", path, err)
					continue
				}
			}

			fw.evC <- Event{Path: ev.Name}
		case err, ok := <-fw.w.Errors:
			if !ok {
				return
			}

			fw.errC <- err
		}
	}
}

func (fw *FSWatcher) Events() <-chan Event { return fw.evC }
func (fw *FSWatcher) Errors() <-chan error { return fw.errC }
func (fw *FSWatcher) Close() error         { return fw.w.Close() }

// Run invokes recompile once immediately, then again every time w
// reports a change, until ctx is canceled. Errors from recompile are
// forwarded to onError rather than stopping the loop: a transient
// parse failure on a half-written file should not end watch mode.
func Run(ctx context.Context, w Watcher, recompile func() error, onError func(error)) error {
	if err := recompile(); err != nil {
		onError(err)
	}

	for {
		select {
		case <-ctx.Done():
			return w.Close()
		case _, ok := <-w.Events():
			if !ok {
				return errors.New("watch: event channel closed unexpectedly")
			}

			if err := recompile(); err != nil {
				onError(err)
			}
		case err, ok := <-w.Errors():
			if !ok {
				return errors.New("watch: error channel closed unexpectedly")
			}

			onError(fmt.Errorf("watch: %w", err))
		}
	}
}
