package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tiersync/tiersync/internal/materialize"
)

// PropagateFunc is invoked once per settled burst of edits to a type.
type PropagateFunc func(ctx context.Context, typeID string) error

// WatchError means the observation mechanism itself failed. The watcher
// stops rather than keep propagating on stale assumptions.
type WatchError struct {
	Op  string
	Err error
}

func (e *WatchError) Error() string { return fmt.Sprintf("watch %s: %v", e.Op, e.Err) }
func (e *WatchError) Unwrap() error { return e.Err }

// pending tracks one type's coalesced burst. The timer resets on every
// new event; deadline caps total deferral so continuous edits cannot
// starve propagation.
type pending struct {
	timer    *time.Timer
	deadline time.Time
}

// Watcher observes the types root and schedules debounced propagation,
// one independent debounce state per type identifier.
type Watcher struct {
	root      string
	debounce  time.Duration
	maxDefer  time.Duration
	propagate PropagateFunc

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	pending map[string]*pending
	logger  *slog.Logger
}

func New(typesRoot string, debounce, maxDeferral time.Duration, propagate PropagateFunc) *Watcher {
	return &Watcher{
		root:      typesRoot,
		debounce:  debounce,
		maxDefer:  maxDeferral,
		propagate: propagate,
		pending:   map[string]*pending{},
	}
}

func (w *Watcher) SetLogger(logger *slog.Logger) {
	w.logger = logger
}

// Start watches until the context is canceled or the observation
// mechanism fails.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return &WatchError{Op: "create", Err: err}
	}
	w.watcher = watcher
	defer func() { _ = w.watcher.Close() }()

	if err := w.addRecursive(w.root); err != nil {
		return &WatchError{Op: "add " + w.root, Err: err}
	}

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return &WatchError{Op: "events", Err: fmt.Errorf("event channel closed")}
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(event.Name)
				}
			}
			if isChange(event) {
				if typeID := w.typeOf(event.Name); typeID != "" {
					w.schedule(ctx, typeID)
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return &WatchError{Op: "errors", Err: fmt.Errorf("error channel closed")}
			}
			w.logError("watch_failed", "error", err)
			w.cancelPending()
			return &WatchError{Op: "observe", Err: err}
		}
	}
}

func (w *Watcher) addRecursive(root string) error {
	if _, err := os.Stat(root); err != nil {
		return err
	}
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func isChange(event fsnotify.Event) bool {
	if strings.HasSuffix(event.Name, materialize.TmpSuffix) {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

// typeOf maps an event path to the type identifier, the first path
// element under the types root.
func (w *Watcher) typeOf(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(rel, string(filepath.Separator))
	return parts[0]
}

// schedule applies trailing-edge debounce per type: each event resets
// the window, and the deadline forces a fire once total deferral
// reaches the maximum.
func (w *Watcher) schedule(ctx context.Context, typeID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	p, ok := w.pending[typeID]
	if !ok {
		p = &pending{deadline: now.Add(w.maxDefer)}
		w.pending[typeID] = p
	} else {
		p.timer.Stop()
	}

	wait := w.debounce
	if remaining := p.deadline.Sub(now); remaining < wait {
		wait = remaining
	}
	if wait < 0 {
		wait = 0
	}
	p.timer = time.AfterFunc(wait, func() {
		w.mu.Lock()
		delete(w.pending, typeID)
		w.mu.Unlock()
		w.fire(ctx, typeID)
	})
}

func (w *Watcher) fire(ctx context.Context, typeID string) {
	if ctx.Err() != nil {
		return
	}
	w.logInfo("type_changed", "type", typeID)
	if err := w.propagate(ctx, typeID); err != nil {
		w.logError("propagation_failed", "type", typeID, "error", err)
		return
	}
	w.logInfo("propagation_complete", "type", typeID)
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for typeID, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, typeID)
	}
}

func (w *Watcher) logInfo(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Info(msg, args...)
	}
}

func (w *Watcher) logError(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Error(msg, args...)
	}
}
