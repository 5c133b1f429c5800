package mock

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mcpharness/internal/logging"
)

// Watcher hot-reloads the rule file on change so a running mock picks
// up edits without a restart. Events are debounced because editors
// fire several writes per save. A file that fails to parse keeps the
// previous rule set active.
type Watcher struct {
	path     string
	rules    *RuleSet
	watcher  *fsnotify.Watcher
	onReload func(count int, err error)

	debounceMap map[string]time.Time
	debounceDur time.Duration

	stopCh chan struct{}
	doneCh chan struct{}

	mu    sync.Mutex
	stats WatcherStats
	log   *logging.Logger
}

// WatcherStats tracks reload activity.
type WatcherStats struct {
	Reloads      int
	ReloadErrors int
	LastReload   time.Time
}

// NewWatcher builds a watcher for the given rule file feeding the
// given rule set. onReload may be nil.
func NewWatcher(path string, rules *RuleSet, onReload func(count int, err error)) *Watcher {
	return &Watcher{
		path:        path,
		rules:       rules,
		onReload:    onReload,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		log:         logging.Get(logging.CategoryRules),
	}
}

// Start begins watching. Non-blocking; the watch loop runs in a
// goroutine until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	w.watcher = watcher

	// Watch the directory, not the file. Editors replace files on
	// save and a direct file watch dies with the old inode.
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.log.Info("watching %s for rule changes", w.path)
	go w.run(ctx)
	return nil
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

// Stats returns a snapshot of reload counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
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
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.debounceMap[event.Name] = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("rules watcher error: %v", err)

		case <-ticker.C:
			w.processDebounced()
		}
	}
}

// processDebounced reloads once the file has been quiet long enough.
func (w *Watcher) processDebounced() {
	now := time.Now()

	w.mu.Lock()
	var ready []string
	for path, t := range w.debounceMap {
		if now.Sub(t) >= w.debounceDur {
			ready = append(ready, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	if len(ready) == 0 {
		return
	}
	w.reload()
}

func (w *Watcher) reload() {
	rules, err := LoadRules(w.path)
	if err == nil {
		err = w.rules.Replace(rules)
	}

	w.mu.Lock()
	if err != nil {
		w.stats.ReloadErrors++
	} else {
		w.stats.Reloads++
		w.stats.LastReload = time.Now()
	}
	w.mu.Unlock()

	if err != nil {
		// Old rules stay active so a half-saved file never takes
		// the mock down mid-run.
		w.log.Warn("rule reload failed, keeping %d active rules: %v", w.rules.Len(), err)
		logging.Audit().RuleReload(w.path, w.rules.Len(), false, err.Error())
	} else {
		count := w.rules.Len()
		activeRules.Set(float64(count))
		w.log.Info("reloaded %d rules from %s", count, w.path)
		logging.Audit().RuleReload(w.path, count, true, "")
	}

	if w.onReload != nil {
		w.onReload(w.rules.Len(), err)
	}
}
