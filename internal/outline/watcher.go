package outline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SaveFunc pushes outline text somewhere, usually AutoSaver.Save.
type SaveFunc func(ctx context.Context, text string) error

// Watcher watches a local outline file and pushes its content through a
// SaveFunc once edits settle. The parent directory is watched rather than
// the file so editors that save by rename are still seen.
type Watcher struct {
	path     string
	save     SaveFunc
	logger   Logger
	debounce time.Duration
	onSave   func(text string, err error)

	fsw *fsnotify.Watcher

	mu         sync.Mutex
	lastEvent  time.Time
	lastPushed string
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// WatcherOption customizes a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the file must stay quiet before a save.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatchLogger overrides the default no-op logger.
func WithWatchLogger(l Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// OnSave registers a callback run after every save attempt.
func OnSave(fn func(text string, err error)) WatcherOption {
	return func(w *Watcher) {
		w.onSave = fn
	}
}

// NewWatcher prepares a watcher for path.
func NewWatcher(path string, save SaveFunc, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("outline: watch %s: %w", path, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("outline: watch %s: %w", path, err)
	}
	w := &Watcher{
		path:     abs,
		save:     save,
		logger:   nopLogger{},
		debounce: 300 * time.Millisecond,
		fsw:      fsw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Prime records text as already pushed so an unchanged file is not re-saved.
func (w *Watcher) Prime(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastPushed = text
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

	if err := w.fsw.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return fmt.Errorf("outline: watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Printf("outline: watching %s", w.path)
	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.fsw.Close(); err != nil {
		w.logger.Printf("outline: close watcher: %v", err)
	}
}

// Done is closed once the watch loop has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.doneCh
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounce / 3
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Printf("outline: watcher error: %v", err)
		case now := <-ticker.C:
			w.flush(ctx, now)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	w.mu.Lock()
	w.lastEvent = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flush(ctx context.Context, now time.Time) {
	w.mu.Lock()
	if w.lastEvent.IsZero() || now.Sub(w.lastEvent) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.lastEvent = time.Time{}
	w.mu.Unlock()

	data, err := os.ReadFile(w.path)
	if err != nil {
		// Rename-based saves briefly remove the file; the Create that
		// follows schedules another flush.
		w.logger.Printf("outline: read %s: %v", w.path, err)
		return
	}
	text := string(data)

	w.mu.Lock()
	unchanged := text == w.lastPushed
	w.mu.Unlock()
	if unchanged {
		return
	}

	err = w.save(ctx, text)
	if err == nil {
		w.mu.Lock()
		w.lastPushed = text
		w.mu.Unlock()
	}
	if w.onSave != nil {
		w.onSave(text, err)
	}
}
