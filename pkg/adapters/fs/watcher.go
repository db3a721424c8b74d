package fs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/aretw0/devbundle/pkg/core"
)

// DefaultDebounce is the quiet period before a burst of changes is reported.
const DefaultDebounce = 100 * time.Millisecond

// WatcherConfig configures a source tree watcher.
type WatcherConfig struct {
	Root string
	// Patterns select the files that matter (doublestar, relative to Root).
	// Empty means every file.
	Patterns []string
	// Ignore excludes files and directories (doublestar, relative to Root).
	Ignore   []string
	Debounce time.Duration
	// Coalesce reports one event per burst across all files instead of one per file.
	Coalesce bool
	Logger   *slog.Logger
	// ErrorHandler receives fsnotify errors. Optional.
	ErrorHandler func(error)
}

// Watcher reports changes below a source tree. It runs as a lifecycle worker.
type Watcher struct {
	*worker.BaseWorker
	config    WatcherConfig
	events    chan core.Event
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	cancel    context.CancelFunc

	mu        sync.RWMutex
	active    bool
	lastEvent *time.Time
}

// NewWatcher creates a watcher. Start must be called before events flow.
func NewWatcher(config WatcherConfig) *Watcher {
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Watcher{
		BaseWorker: worker.NewBaseWorker("source-watcher"),
		config:     config,
		events:     make(chan core.Event, 16),
	}
}

// Events delivers debounced change events. It is closed when the watcher stops.
func (w *Watcher) Events() <-chan core.Event {
	return w.events
}

// Start begins watching the tree.
func (w *Watcher) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := w.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("watcher already started (status: %s)", status)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := w.recursiveAdd(watcher, w.config.Root); err != nil {
		_ = watcher.Close()
		return err
	}

	w.watcher = watcher
	w.debouncer = newDebouncer(w.config.Debounce)
	w.setActive(true)

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.SetStatus(worker.StatusRunning)
	return w.StartFunc(runCtx, w.run)
}

// Stop ends the watch loop and closes Events.
func (w *Watcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.StopRequested = true
		w.cancel()
	}

	return w.BaseWorker.Stop(ctx)
}

// State implements worker.Worker.
func (w *Watcher) State() worker.State {
	return w.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
			"root":              w.config.Root,
		}
	})
}

// Active reports whether the event loop is running.
func (w *Watcher) Active() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active
}

func (w *Watcher) setActive(active bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = active
}

func (w *Watcher) recordEvent() {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.lastEvent = &now
}

// recursiveAdd registers root and every directory below it that is not ignored.
func (w *Watcher) recursiveAdd(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.config.Root && w.ignored(path, true) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.config.Root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// ignored reports whether path is excluded by an Ignore pattern or by being
// one of our own temp files.
func (w *Watcher) ignored(path string, isDir bool) bool {
	rel := w.rel(path)
	base := filepath.Base(path)
	if strings.HasPrefix(base, TempFilePrefix) {
		return true
	}
	if isDir && strings.HasPrefix(base, ".") && rel != "." {
		return true
	}
	for _, pattern := range w.config.Ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) selected(path string) bool {
	if len(w.config.Patterns) == 0 {
		return true
	}
	rel := w.rel(path)
	for _, pattern := range w.config.Patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func mapEventType(event fsnotify.Event) core.EventType {
	switch {
	case event.Has(fsnotify.Create):
		return core.EventCreate
	case event.Has(fsnotify.Write):
		return core.EventModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return core.EventDelete
	}
	return ""
}

// processFilesystemEvent handles filtering, mapping, and debouncing of filesystem events.
// Returns true if event was processed, false if should be ignored.
func (w *Watcher) processFilesystemEvent(ctx context.Context, event fsnotify.Event) (processed bool) {
	w.config.Logger.Debug("event received", "name", event.Name, "op", event.Op.String())

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.ignored(event.Name, true) {
				if err := w.recursiveAdd(w.watcher, event.Name); err != nil {
					w.config.Logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
				}
			}
			return false
		}
	}

	if w.ignored(event.Name, false) || !w.selected(event.Name) {
		return false
	}

	eType := mapEventType(event)
	if eType == "" {
		return false
	}

	id := w.rel(event.Name)
	key := id
	if w.config.Coalesce {
		key = "*"
	}
	w.recordEvent()
	w.sendEvent(ctx, key, core.Event{
		Type:      eType,
		ID:        id,
		Timestamp: time.Now().Unix(),
	})
	return true
}

// sendEvent enqueues an event via the debouncer, protecting against channel closure during shutdown.
func (w *Watcher) sendEvent(ctx context.Context, key string, event core.Event) {
	w.debouncer.add(key, event, func(e core.Event) {
		defer func() {
			// Recover from panic if channel was closed (worker stopping)
			_ = recover()
		}()
		select {
		case w.events <- e:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) handleWatcherError(err error) {
	w.config.Logger.Error("fsnotify error", "error", err)
	if w.config.ErrorHandler != nil {
		w.config.ErrorHandler(err)
	}
}

// run is the main event loop for the watcher worker.
func (w *Watcher) run(ctx context.Context) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			panicErr := fmt.Errorf("watcher panic: %v", recovered)

			// Stack only when debugging; it is noise in production logs.
			if w.config.Logger.Enabled(ctx, slog.LevelDebug) {
				w.config.Logger.Error("watcher panic", "error", panicErr, "stack", string(debug.Stack()))
			} else {
				w.config.Logger.Error("watcher panic", "error", panicErr)
			}
			err = panicErr
		}
	}()
	defer close(w.events)
	defer w.setActive(false)
	defer w.watcher.Close()

	err = w.mainEventLoop(ctx)

	// In-flight timers must finish before Events is closed.
	w.debouncer.stopAndWait(5 * time.Second)

	return err
}

func (w *Watcher) mainEventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}
			w.processFilesystemEvent(ctx, event)

		case wErr, ok := <-w.watcher.Errors:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			w.handleWatcherError(wErr)
		}
	}
}
