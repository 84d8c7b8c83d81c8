// Package watch reports edits to open documents.
//
// Editors save in different ways: some write in place, others write a
// temporary file and rename it over the original. The watcher therefore
// watches each document's parent directory and filters by name, so a
// replaced file keeps being tracked.
package watch

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/dotpreview-project/dotpreview/pkg/fsutil"
	"github.com/dotpreview-project/dotpreview/pkg/logging"
	"github.com/dotpreview-project/dotpreview/pkg/pathutil"
)

// Kind classifies a document event.
type Kind string

const (
	// KindChange is an in-place write.
	KindChange Kind = "change"
	// KindSave is a file created or renamed onto the document path.
	KindSave Kind = "save"
	// KindRemove means the document no longer exists at its path.
	KindRemove Kind = "remove"
)

// Event is one change to a watched document.
type Event struct {
	Path string
	Kind Kind
}

// Watcher delivers Events for the documents added to it.
type Watcher struct {
	fs     *fsnotify.Watcher
	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	log    *logging.Logger

	mu    sync.Mutex
	files map[string]struct{}
	dirs  map[string]int

	closeOnce sync.Once
}

// New starts a watcher with no documents.
func New() (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		fs:     fs,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		log:    logging.Component("watch"),
		files:  make(map[string]struct{}),
		dirs:   make(map[string]int),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Events returns the event channel. It is closed by Close.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Add starts reporting events for the document at path.
func (w *Watcher) Add(path string) error {
	id, err := pathutil.Identity(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[id]; ok {
		return nil
	}
	dir := filepath.Dir(id)
	if w.dirs[dir] == 0 {
		if err := w.fs.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.files[id] = struct{}{}
	return nil
}

// Remove stops reporting events for path.
func (w *Watcher) Remove(path string) error {
	id, err := pathutil.Identity(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[id]; !ok {
		return nil
	}
	delete(w.files, id)
	dir := filepath.Dir(id)
	w.dirs[dir]--
	if w.dirs[dir] > 0 {
		return nil
	}
	delete(w.dirs, dir)
	if err := w.fs.Remove(dir); err != nil {
		return fmt.Errorf("unwatch %s: %w", dir, err)
	}
	return nil
}

// Watching reports whether path is being watched.
func (w *Watcher) Watching(path string) bool {
	id, err := pathutil.Identity(path)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[id]
	return ok
}

// Close stops the watcher and closes the event channel.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()
		w.wg.Wait()
		close(w.events)
	})
	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.WarnErr("watch error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if fsutil.IsTemp(ev.Name) {
		return
	}
	kind, ok := classify(ev.Op)
	if !ok {
		return
	}
	path := pathutil.Normalize(ev.Name)

	w.mu.Lock()
	_, watched := w.files[path]
	w.mu.Unlock()
	if !watched {
		return
	}

	w.log.Debug("document event", map[string]any{"document": path, "kind": string(kind)})
	select {
	case w.events <- Event{Path: path, Kind: kind}:
	case <-w.done:
	}
}

func classify(op fsnotify.Op) (Kind, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return KindSave, true
	case op.Has(fsnotify.Write):
		return KindChange, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return KindRemove, true
	}
	return "", false
}
