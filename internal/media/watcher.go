package media

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher emits the local id of every photo that appears in the media
// directory, so new captures can be enqueued for instant upload. Events are
// debounced per file because writers produce a burst of Create/Write events
// while the file is still being flushed.
type Watcher struct {
	dir           string
	events        chan string
	debounceDelay time.Duration

	watcher    *fsnotify.Watcher
	debouncers map[string]*time.Timer
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.Mutex
}

// NewWatcher creates a watcher for the given media directory.
func NewWatcher(dir string) *Watcher {
	return &Watcher{
		dir:           dir,
		events:        make(chan string, 100),
		debounceDelay: 500 * time.Millisecond,
		debouncers:    make(map[string]*time.Timer),
	}
}

// Events is the stream of new photo local ids.
func (w *Watcher) Events() <-chan string { return w.events }

// Start begins watching. Stop with the Stop method or by cancelling ctx.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch media directory %s: %w", w.dir, err)
	}
	w.watcher = watcher
	w.ctx, w.cancel = context.WithCancel(ctx)

	go w.watchLoop()
	return nil
}

// Stop halts the watcher. The event stream stops emitting but stays open so
// late timer fires cannot panic a draining consumer.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			ext := strings.ToLower(filepath.Ext(name))
			if !imageExtensions[ext] {
				continue
			}
			// Restored downloads come back through the index already.
			if strings.HasPrefix(name, "CloudGallery_") {
				continue
			}
			w.debounce(name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("media watcher: %v", err)
		}
	}
}

// debounce schedules one emission per file after the write burst settles.
func (w *Watcher) debounce(localID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.debouncers[localID]; ok {
		timer.Stop()
	}
	w.debouncers[localID] = time.AfterFunc(w.debounceDelay, func() {
		w.mu.Lock()
		delete(w.debouncers, localID)
		w.mu.Unlock()
		select {
		case w.events <- localID:
		case <-w.ctx.Done():
		}
	})
}
