package provision

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher re-provisions when the requirements manifest changes on disk.
// Bench setups hand-edit requirements.txt; watching saves the operator a
// manual re-run.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	manifest    string // absolute path
	debounceDur time.Duration
	pendingAt   time.Time
	pending     bool
	onChange    func(context.Context)
	logger      *zap.Logger
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewWatcher creates a watcher for the given manifest path. onChange is
// invoked after edits settle; invocations never overlap because the event
// loop is single-threaded.
func NewWatcher(manifestPath string, onChange func(context.Context), logger *zap.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(manifestPath)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		watcher:     fsw,
		manifest:    abs,
		debounceDur: 500 * time.Millisecond, // settle window for rapid saves
		onChange:    onChange,
		logger:      logger,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching the manifest's directory. Watching the directory
// rather than the file survives editors that replace-on-save.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	// Mark running only once the watch is established, so a failed
	// Start leaves Stop a no-op instead of blocking on a loop that
	// never ran.
	dir := filepath.Dir(w.manifest)
	if err := w.watcher.Add(dir); err != nil {
		if cerr := w.watcher.Close(); cerr != nil {
			w.logger.Warn("error closing watcher", zap.Error(cerr))
		}
		return err
	}

	w.mu.Lock()
	w.running = true
	w.mu.Unlock()
	w.logger.Info("watching manifest", zap.String("path", w.manifest))

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
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
		w.logger.Warn("error closing watcher", zap.Error(err))
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

	ticker := time.NewTicker(100 * time.Millisecond)
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
			w.logger.Warn("watch error", zap.Error(err))

		case <-ticker.C:
			if w.takeSettled() {
				w.logger.Info("manifest changed, re-provisioning",
					zap.String("path", w.manifest))
				w.onChange(ctx)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.manifest {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	w.mu.Lock()
	w.pending = true
	w.pendingAt = time.Now()
	w.mu.Unlock()
}

// takeSettled consumes the pending flag once the debounce window passed.
func (w *Watcher) takeSettled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending && time.Since(w.pendingAt) >= w.debounceDur {
		w.pending = false
		return true
	}
	return false
}
