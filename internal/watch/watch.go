package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const pageExt = ".html"

// Handler is called with the chat id of a saved page that changed.
type Handler func(ctx context.Context, chatID string)

// Watcher triggers a sync whenever a saved page in dir is created or rewritten.
// Bursts of events for the same page collapse into one call after the debounce.
type Watcher struct {
	dir      string
	debounce time.Duration
	handle   Handler
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func New(dir string, debounce time.Duration, handle Handler, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		handle:   handle,
		logger:   logger,
		pending:  make(map[string]*time.Timer),
	}
}

// ChatIDFromPath returns the chat id for a saved page path ({dir}/{chatID}.html).
func ChatIDFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if filepath.Ext(base) != pageExt || strings.HasPrefix(base, ".") {
		return "", false
	}
	id := strings.TrimSuffix(base, filepath.Ext(base))
	return id, id != ""
}

// Run blocks until ctx is done or the underlying watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching saved pages", "dir", w.dir)

	defer w.stopPending()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			chatID, ok := ChatIDFromPath(ev.Name)
			if !ok {
				continue
			}
			w.schedule(ctx, chatID)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, chatID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[chatID]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() { w.fire(ctx, chatID, t) })
	w.pending[chatID] = t
}

// fire runs when t expires. A timer that was replaced by a later event leaves
// its successor's entry in place.
func (w *Watcher) fire(ctx context.Context, chatID string, t *time.Timer) {
	w.mu.Lock()
	if w.pending[chatID] == t {
		delete(w.pending, chatID)
	}
	w.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	w.logger.Debug("saved page changed", "chat_id", chatID)
	w.handle(ctx, chatID)
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, t := range w.pending {
		t.Stop()
		delete(w.pending, id)
	}
}
