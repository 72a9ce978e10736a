package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
)

// The marker file is the cross-process analogue of the browser's shared
// storage key: any client that logs in or out rewrites it with the current
// timestamp, and every other client watching the file re-verifies its own
// auth state in response.
//
// The VALUE is irrelevant — only the write event matters. The timestamp is
// there so every write actually changes the file contents.

// WriteMarker rewrites the shared marker file with the current Unix-millis
// timestamp.
func WriteMarker(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating marker directory: %w", err)
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := os.WriteFile(path, []byte(ts), 0600); err != nil {
		return fmt.Errorf("writing marker: %w", err)
	}
	return nil
}

// MarkerWatcher emits a notification whenever another process rewrites the
// marker file.
//
// WHY WATCH THE DIRECTORY, NOT THE FILE:
// fsnotify watches added directly on a file break when the file is replaced
// (the watch follows the old inode). Watching the parent directory and
// filtering events by name survives rewrites and also catches the marker's
// first creation.
type MarkerWatcher struct {
	watcher *fsnotify.Watcher
	events  chan struct{}
	done    chan struct{}
}

// NewMarkerWatcher starts watching the marker at path. The marker file does
// not need to exist yet; its directory does.
func NewMarkerWatcher(path string) (*MarkerWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving marker path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching marker directory: %w", err)
	}

	mw := &MarkerWatcher{
		watcher: fsw,
		events:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go mw.loop(abs)
	return mw, nil
}

// Events delivers one (coalesced) notification per marker rewrite. The
// channel has capacity 1: a burst of writes while the consumer is busy
// collapses into a single pending notification, which is exactly right for
// "something changed, go re-verify".
func (mw *MarkerWatcher) Events() <-chan struct{} {
	return mw.events
}

func (mw *MarkerWatcher) loop(markerPath string) {
	defer close(mw.events)
	for {
		select {
		case <-mw.done:
			return
		case ev, ok := <-mw.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != markerPath {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			select {
			case mw.events <- struct{}{}:
			default: // a notification is already pending
			}
		case _, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			// Watcher errors are not actionable here; the consumer's next
			// explicit trigger (focus, redirect) still re-verifies.
		}
	}
}

// Close stops the watcher and closes the Events channel.
func (mw *MarkerWatcher) Close() error {
	close(mw.done)
	return mw.watcher.Close()
}
