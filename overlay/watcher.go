package overlay

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Watcher calls a reload function whenever the watched file is written or
// replaced. The parent directory is watched so editors that save by rename
// are still seen.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	onChange func(path string) error
	debounce time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	reloads int
}

// NewWatcher creates a watcher for path
func NewWatcher(path string, debounce time.Duration, onChange func(path string) error) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "bad watch path %s", path)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file watcher")
	}
	return &Watcher{
		watcher:  w,
		path:     abs,
		onChange: onChange,
		debounce: debounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return errors.Wrapf(err, "failed to watch %s", filepath.Dir(w.path))
	}

	go w.run(ctx)
	debugMsg("WATCH", fmt.Sprintf("Watching %s for changes", w.path))
	return nil
}

// Stop ends watching and waits for the event loop to exit
func (w *Watcher) Stop() error {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}
	return w.watcher.Close()
}

// Reloads returns how many times onChange succeeded
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Restart the debounce window on every event
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			if err := w.onChange(w.path); err != nil {
				debugMsg("WATCH", fmt.Sprintf("Reload of %s failed: %v", w.path, err))
				continue
			}
			w.mu.Lock()
			w.reloads++
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			debugMsg("WATCH", fmt.Sprintf("Watcher error: %v", err))
		}
	}
}
