// Package watch converts IXF files as they land in a directory.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// DefaultDebounce is how long a file must stay quiet before it is handled.
const DefaultDebounce = 500 * time.Millisecond

// Watcher monitors a directory for new or rewritten .ixf files.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	debounce time.Duration
	existing bool
	logger   log.Logger

	mu     sync.Mutex
	closed bool
	files  map[string]*fileState
	timers map[string]*time.Timer
	wg     sync.WaitGroup

	// OnFile is called once a file has settled.
	OnFile func(ctx context.Context, path string) error
	// OnError receives watch errors and OnFile failures.
	OnError func(path string, err error)
}

type fileState struct {
	modified   time.Time
	size       int64
	processing bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a file is handled.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithExisting makes Run handle the .ixf files already in the directory.
func WithExisting() Option {
	return func(w *Watcher) { w.existing = true }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a watcher on dir.
func New(dir string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsWatcher.Add(abs); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch %s: %w", abs, err)
	}

	w := &Watcher{
		watcher:  fsWatcher,
		dir:      abs,
		debounce: DefaultDebounce,
		logger:   log.NewNopLogger(),
		files:    make(map[string]*fileState),
		timers:   make(map[string]*time.Timer),
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// IsIXF reports whether path has the .ixf extension in any case.
func IsIXF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".ixf")
}

// Run starts the watch loop. It blocks until ctx is cancelled and waits
// for running handlers before returning.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.wg.Wait()
	defer w.stopTimers()
	defer w.watcher.Close()

	if w.existing {
		entries, err := os.ReadDir(w.dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !e.IsDir() && IsIXF(e.Name()) {
				w.schedule(ctx, filepath.Join(w.dir, e.Name()))
			}
		}
	}

	level.Info(w.logger).Log("msg", "watching", "dir", w.dir)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !IsIXF(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.fail("", err)
		}
	}
}

// schedule restarts the debounce timer of path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	if w.closed {
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if w.closed || ctx.Err() != nil {
			w.mu.Unlock()
			return
		}
		w.wg.Add(1)
		w.mu.Unlock()

		defer w.wg.Done()
		w.handle(ctx, path)
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for _, t := range w.timers {
		t.Stop()
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			// renamed away or removed before it settled
			return
		}
		w.fail(path, err)
		return
	}

	w.mu.Lock()
	state, ok := w.files[path]
	if !ok {
		state = &fileState{}
		w.files[path] = state
	}
	if state.processing {
		w.mu.Unlock()
		w.schedule(ctx, path)
		return
	}
	if stat.ModTime().Equal(state.modified) && stat.Size() == state.size {
		// No actual change
		w.mu.Unlock()
		return
	}
	state.modified = stat.ModTime()
	state.size = stat.Size()
	state.processing = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		state.processing = false
		w.mu.Unlock()
	}()

	level.Debug(w.logger).Log("msg", "file settled", "path", path, "size", stat.Size())
	if w.OnFile != nil {
		if err := w.OnFile(ctx, path); err != nil {
			w.fail(path, err)
		}
	}
}

func (w *Watcher) fail(path string, err error) {
	if w.OnError != nil {
		w.OnError(path, err)
		return
	}
	level.Error(w.logger).Log("msg", "watch", "path", path, "err", err)
}

// Close stops the watcher without running pending handlers.
func (w *Watcher) Close() error {
	w.stopTimers()
	return w.watcher.Close()
}
