package store

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 500 * time.Millisecond

// Watcher notifies a callback with a fresh listing whenever workflow files
// appear, change, or disappear in the storage directory. Bursts of file
// system events collapse into one listing via debouncing.
type Watcher struct {
	store    *Store
	fs       *fsnotify.Watcher
	callback func([]Entry)

	cancel    chan struct{}
	closeOnce sync.Once
}

// Watch starts watching the storage directory. The callback fires once
// immediately with the current listing, then after every settled change.
func (s *Store) Watch(callback func([]Entry)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(s.dir); err != nil {
		fs.Close()
		return nil, err
	}

	w := &Watcher{
		store:    s,
		fs:       fs,
		callback: callback,
		cancel:   make(chan struct{}),
	}
	go w.loop()
	go w.notify()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.cancel)
		w.fs.Close()
	})
}

func (w *Watcher) loop() {
	var timer *time.Timer

	for {
		select {
		case <-w.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, fileExt) {
				continue
			}
			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, w.notify)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Printf("store watcher error: %v", err)
		}
	}
}

func (w *Watcher) notify() {
	entries, err := w.store.List()
	if err != nil {
		log.Printf("store watcher list: %v", err)
		return
	}
	select {
	case <-w.cancel:
	default:
		w.callback(entries)
	}
}
