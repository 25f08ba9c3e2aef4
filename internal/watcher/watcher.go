// Package watcher notifies when a single file changes on disk.
package watcher

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce collapses bursts of events from editors that write in several steps.
const DefaultDebounce = 250 * time.Millisecond

// Watcher calls onChange when the watched file is written, created, renamed or removed.
type Watcher struct {
	fs       *fsnotify.Watcher
	onChange func()
	timer    *time.Timer
	done     chan struct{}
	path     string
	debounce time.Duration
	mu       sync.Mutex
	stopOnce sync.Once
}

// New creates a watcher for path. The parent directory is watched so that
// atomic replace-by-rename saves are seen.
func New(path string, onChange func()) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("watch path is empty")
	}
	if onChange == nil {
		return nil, errors.New("onChange callback is nil")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fs:       fsw,
		path:     abs,
		onChange: onChange,
		debounce: DefaultDebounce,
		done:     make(chan struct{}),
	}, nil
}

// SetDebounce changes the debounce window. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start begins watching.
func (w *Watcher) Start() error {
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.loop()
	return nil
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fs.Close()
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("path", w.path).Msg("File watcher error")
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
		}
		w.onChange()
	})
}
