package program

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Library when files in its directory change.
// Changes are debounced so an editor writing a file in chunks triggers
// one reload, not one per write.
type Watcher struct {
	lib      *Library
	fsw      *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending bool

	done chan struct{}
}

// NewWatcher starts watching the library's directory. The directory
// must exist. Close releases the watch.
func NewWatcher(lib *Library, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(lib.Dir()); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch program directory: %w", err)
	}

	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	w := &Watcher{
		lib:      lib,
		fsw:      fsw,
		debounce: debounce,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *Watcher) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if strings.EqualFold(filepath.Ext(ev.Name), ".json") {
				w.mark()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("program watcher: %v", err)

		case <-ticker.C:
			if !w.take() {
				continue
			}
			if err := w.lib.Reload(); err != nil {
				log.Printf("program watcher: reload failed: %v", err)
			} else {
				log.Printf("program watcher: library reloaded, %d programs", w.lib.Len())
			}
		}
	}
}

func (w *Watcher) mark() {
	w.mu.Lock()
	w.pending = true
	w.mu.Unlock()
}

func (w *Watcher) take() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := w.pending
	w.pending = false
	return p
}
