// Package watcher reports file changes inside project directories.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"relay/internal/shared/async"
	"relay/internal/shared/logging"
)

const defaultDebounce = 2 * time.Second

// DefaultIgnore lists path elements whose changes are never reported.
var DefaultIgnore = []string{".git", "venv", "__pycache__", "node_modules"}

// Op is the kind of change observed.
type Op string

const (
	OpCreated  Op = "Created"
	OpModified Op = "Modified"
	OpDeleted  Op = "Deleted"
	OpRenamed  Op = "Moved/Renamed"
)

// Change is one file or directory change relative to the project root.
type Change struct {
	Op    Op
	Path  string
	IsDir bool
}

// Config tunes a ProjectWatcher.
type Config struct {
	Debounce time.Duration
	// Ignore holds path elements or base names to skip.
	Ignore []string
}

// ProjectWatcher watches one project tree and delivers batched changes once
// the tree has been quiet for the debounce window.
type ProjectWatcher struct {
	root   string
	cfg    Config
	notify func([]Change)
	logger logging.Logger

	mu       sync.Mutex
	pending  map[string]Change
	timer    *time.Timer
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New builds a watcher for root. notify runs on a background goroutine.
func New(root string, cfg Config, notify func([]Change), logger logging.Logger) (*ProjectWatcher, error) {
	if notify == nil {
		return nil, fmt.Errorf("watcher notify callback required")
	}
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("watch root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.Ignore == nil {
		cfg.Ignore = DefaultIgnore
	}
	return &ProjectWatcher{
		root:    filepath.Clean(abs),
		cfg:     cfg,
		notify:  notify,
		logger:  logging.OrNop(logger),
		pending: make(map[string]Change),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Root returns the watched directory.
func (w *ProjectWatcher) Root() string {
	return w.root
}

// Start watches every non-ignored directory under root. The watcher stops
// when ctx is done or Stop is called.
func (w *ProjectWatcher) Start(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.watcher = fsWatcher
	w.mu.Unlock()

	if err := w.addTree(w.root); err != nil {
		_ = fsWatcher.Close()
		w.mu.Lock()
		w.watcher = nil
		w.mu.Unlock()
		return fmt.Errorf("watch %s: %w", w.root, err)
	}

	async.Go(w.logger, "watcher.loop", w.watchLoop)
	if ctx != nil {
		async.Go(w.logger, "watcher.ctx", func() {
			select {
			case <-ctx.Done():
				w.Stop()
			case <-w.stopCh:
			}
		})
	}
	w.logger.Info("Watching project %s", w.root)
	return nil
}

// Stop ends watching and drops pending changes.
func (w *ProjectWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		fsWatcher := w.watcher
		w.mu.Unlock()
		if fsWatcher != nil {
			_ = fsWatcher.Close()
			<-w.done
		}
		w.logger.Info("Stopped watching project %s", w.root)
	})
}

func (w *ProjectWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Watch %s failed: %v", path, err)
		}
		return nil
	})
}

func (w *ProjectWatcher) watchLoop() {
	defer close(w.done)
	for {
		select {
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
			w.logger.Warn("Project watcher error for %s: %v", w.root, err)
		}
	}
}

func (w *ProjectWatcher) handleEvent(event fsnotify.Event) {
	if event.Name == "" || w.ignored(event.Name) {
		return
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}

	var op Op
	isDir := false
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreated
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			isDir = true
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("Watch new directory %s failed: %v", event.Name, err)
			}
		}
	case event.Has(fsnotify.Write):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			return
		}
		op = OpModified
	case event.Has(fsnotify.Remove):
		op = OpDeleted
	case event.Has(fsnotify.Rename):
		op = OpRenamed
	default:
		return
	}
	w.record(Change{Op: op, Path: rel, IsDir: isDir})
}

func (w *ProjectWatcher) record(change Change) {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.stopCh:
		return
	default:
	}
	// A file created inside the window stays "created" however often it is
	// written afterwards.
	if prev, ok := w.pending[change.Path]; ok && prev.Op == OpCreated && change.Op == OpModified {
		change = prev
	}
	w.pending[change.Path] = change
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.cfg.Debounce, w.flush)
}

func (w *ProjectWatcher) flush() {
	w.mu.Lock()
	select {
	case <-w.stopCh:
		w.mu.Unlock()
		return
	default:
	}
	changes := make([]Change, 0, len(w.pending))
	for _, change := range w.pending {
		changes = append(changes, change)
	}
	w.pending = make(map[string]Change)
	w.timer = nil
	w.mu.Unlock()

	if len(changes) == 0 {
		return
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	defer async.Recover(w.logger, "watcher.notify")
	w.notify(changes)
}

func (w *ProjectWatcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = path
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		for _, pattern := range w.cfg.Ignore {
			if part == pattern {
				return true
			}
		}
	}
	return false
}

// Summary renders changes as one chat notice.
func Summary(changes []Change) string {
	var b strings.Builder
	b.WriteString("ℹ️ *Project Update*")
	for _, change := range changes {
		kind := "file"
		if change.IsDir {
			kind = "directory"
		}
		fmt.Fprintf(&b, "\n_%s_ %s: `%s`", change.Op, kind, filepath.ToSlash(change.Path))
	}
	return b.String()
}
