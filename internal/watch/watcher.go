// Package watch re-runs a campaign when the target or its tests change.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mutiny/internal/logging"
)

// DefaultDebounce batches the bursts of events editors produce on save.
const DefaultDebounce = 500 * time.Millisecond

// watchedFiles are non-Python files that change how pytest runs.
var watchedFiles = map[string]bool{
	"conftest.py":    true,
	"pytest.ini":     true,
	"pyproject.toml": true,
	"setup.cfg":      true,
	"tox.ini":        true,
}

var ignoredDirs = map[string]bool{
	".git":          true,
	"__pycache__":   true,
	".mutiny":       true,
	".pytest_cache": true,
	".venv":         true,
	"venv":          true,
	"node_modules":  true,
}

// ChangeFunc runs after a quiet period with the changed paths, sorted.
type ChangeFunc func(ctx context.Context, changed []string) error

// Stats tracks watcher activity.
type Stats struct {
	Events        int
	Triggers      int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// Watcher watches source and test paths and calls a ChangeFunc after
// changes settle.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	roots    []string
	ignore   []string
	debounce time.Duration
	onChange ChangeFunc

	pending   map[string]time.Time
	lastEvent time.Time
	stats     Stats
}

// Options configures a Watcher.
type Options struct {
	// Paths are files or directories. Directories are watched recursively.
	Paths []string

	// Ignore holds paths whose events are dropped, e.g. the output directory.
	Ignore []string

	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration
}

// New creates a watcher. It does not start watching until Run.
func New(opts Options, onChange ChangeFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	ignore := make([]string, 0, len(opts.Ignore))
	for _, p := range opts.Ignore {
		ignore = append(ignore, filepath.Clean(p))
	}
	return &Watcher{
		watcher:  fw,
		roots:    opts.Paths,
		ignore:   ignore,
		debounce: debounce,
		onChange: onChange,
		pending:  make(map[string]time.Time),
	}, nil
}

// Run watches until ctx is done. Errors from the ChangeFunc are logged and
// watching continues.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		if err := w.watcher.Close(); err != nil {
			logging.Get(logging.CategoryWatch).Error("Watcher: error closing: %v", err)
		}
	}()

	for _, root := range w.roots {
		if err := w.addTree(root); err != nil {
			return err
		}
	}
	logging.Watch("Watching %d paths (debounce %s)", len(w.watcher.WatchList()), w.debounce)

	ticker := time.NewTicker(w.debounce / 5)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Watch("Watcher stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryWatch).Error("Watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case now := <-ticker.C:
			if changed := w.settled(now); len(changed) > 0 {
				w.trigger(ctx, changed)
			}
		}
	}
}

// addTree watches a directory and its subdirectories, or the directory of
// a file.
func (w *Watcher) addTree(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.watcher.Add(filepath.Dir(root))
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (ignoredDirs[d.Name()] || w.ignored(path)) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) ignored(path string) bool {
	path = filepath.Clean(path)
	for _, p := range w.ignore {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// relevant reports whether a path can change test outcomes.
func (w *Watcher) relevant(path string) bool {
	if w.ignored(path) {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if ignoredDirs[part] {
			return false
		}
	}
	base := filepath.Base(path)
	return strings.HasSuffix(base, ".py") || watchedFiles[base]
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	// New directories under a watched tree are watched too.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !w.ignored(event.Name) && !ignoredDirs[info.Name()] {
			if err := w.addTree(event.Name); err != nil {
				logging.WatchDebug("Watcher: cannot watch %s: %v", event.Name, err)
			}
			return
		}
	}
	if !w.relevant(event.Name) {
		return
	}

	logging.WatchDebug("Watcher: %s %s", event.Op, event.Name)
	w.mu.Lock()
	now := time.Now()
	w.pending[event.Name] = now
	w.lastEvent = now
	w.stats.Events++
	w.stats.LastEventPath = event.Name
	w.stats.LastEventTime = now
	w.mu.Unlock()
}

// settled returns and clears the pending paths once no event has arrived
// for the debounce period.
func (w *Watcher) settled(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 || now.Sub(w.lastEvent) < w.debounce {
		return nil
	}
	changed := make([]string, 0, len(w.pending))
	for p := range w.pending {
		changed = append(changed, p)
	}
	sort.Strings(changed)
	w.pending = make(map[string]time.Time)
	return changed
}

func (w *Watcher) trigger(ctx context.Context, changed []string) {
	w.mu.Lock()
	w.stats.Triggers++
	w.mu.Unlock()

	logging.Watch("Change detected in %d files, re-running", len(changed))
	if err := w.onChange(ctx, changed); err != nil && ctx.Err() == nil {
		logging.Get(logging.CategoryWatch).Warn("Re-run failed: %v", err)
	}
}

// Stats returns a copy of the watcher statistics.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
