// Package watch notices edits to tracked project files, most importantly
// requirements.txt, and reports them once the writes settle. Editors tend to
// save through rename-and-replace, so the watcher monitors parent directories
// and filters events down to the registered paths.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounce = 500 * time.Millisecond
	defaultTick     = 100 * time.Millisecond
)

// Handler is invoked once per settled change, with the absolute path that changed.
type Handler func(ctx context.Context, path string)

// Logger records watcher diagnostics. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

// Option customizes watcher construction.
type Option func(*Watcher)

// WithDebounce overrides how long a file must stay quiet before the handler fires.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithTick overrides the settle-check interval. Tests shrink this.
func WithTick(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.tick = d
		}
	}
}

// WithLogger injects a logger for event diagnostics.
func WithLogger(l Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// Watcher debounces filesystem events for a fixed set of files.
type Watcher struct {
	watcher  *fsnotify.Watcher
	handler  Handler
	tracked  map[string]struct{}
	debounce time.Duration
	tick     time.Duration
	logger   Logger

	mu      sync.Mutex
	pending map[string]time.Time
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New prepares a watcher for the given file paths. Paths are cleaned to
// absolute form; their parent directories are what fsnotify actually watches.
func New(paths []string, handler Handler, opts ...Option) (*Watcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("watch: handler is required")
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("watch: at least one path is required")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	w := &Watcher{
		watcher:  fsw,
		handler:  handler,
		tracked:  make(map[string]struct{}, len(paths)),
		debounce: defaultDebounce,
		tick:     defaultTick,
		logger:   nopLogger{},
		pending:  make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	dirs := make(map[string]struct{})
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch: resolve %s: %w", path, err)
		}
		w.tracked[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch: add %s: %w", dir, err)
		}
	}
	return w, nil
}

// Start launches the event loop. It is non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	if w == nil {
		return fmt.Errorf("watch: watcher is nil")
	}
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()
	go w.run(ctx)
	return nil
}

// Stop halts the event loop and releases the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()
	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		w.logger.Printf("watch: close: %v", err)
	}
}

// IsWatching reports whether the event loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()
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
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watch: %v", err)
		case <-ticker.C:
			w.flushSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}
	if _, ok := w.tracked[abs]; !ok {
		return
	}
	w.mu.Lock()
	w.pending[abs] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flushSettled(ctx context.Context) {
	now := time.Now()
	var settled []string
	w.mu.Lock()
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			settled = append(settled, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()
	for _, path := range settled {
		w.logger.Printf("watch: %s settled", filepath.Base(path))
		w.handler(ctx, path)
	}
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
