package watcher

import (
	"context"
	"sync"

	"relay/internal/shared/logging"
)

// Manager keeps at most one ProjectWatcher per key, typically a chat
// context.
type Manager struct {
	cfg    Config
	notify func(key string, changes []Change)
	logger logging.Logger

	mu       sync.Mutex
	watchers map[string]*ProjectWatcher
}

// NewManager returns a Manager that forwards each watcher's batches with its key.
func NewManager(cfg Config, notify func(key string, changes []Change), logger logging.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		notify:   notify,
		logger:   logging.OrNop(logger),
		watchers: make(map[string]*ProjectWatcher),
	}
}

// Watch replaces key's watcher with one on dir. Watching the same dir again
// is a no-op.
func (m *Manager) Watch(ctx context.Context, key, dir string) error {
	w, err := New(dir, m.cfg, func(changes []Change) { m.notify(key, changes) }, m.logger)
	if err != nil {
		return err
	}
	if current, ok := m.Watching(key); ok && current == w.Root() {
		return nil
	}
	m.Unwatch(key)
	if err := w.Start(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	prev := m.watchers[key]
	m.watchers[key] = w
	m.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
	return nil
}

// Unwatch stops key's watcher.
func (m *Manager) Unwatch(key string) {
	m.mu.Lock()
	w := m.watchers[key]
	delete(m.watchers, key)
	m.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

// Watching returns the directory watched for key.
func (m *Manager) Watching(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watchers[key]
	if !ok {
		return "", false
	}
	return w.Root(), true
}

// Close stops every watcher.
func (m *Manager) Close() {
	m.mu.Lock()
	watchers := m.watchers
	m.watchers = make(map[string]*ProjectWatcher)
	m.mu.Unlock()
	for _, w := range watchers {
		w.Stop()
	}
}
