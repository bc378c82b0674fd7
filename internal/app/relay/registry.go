package relay

import (
	"sort"
	"sync"

	"relay/internal/domain/run"
)

// Registry tracks at most one running AgentRun per chat context.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*AgentRun
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*AgentRun)}
}

// Insert registers r unless its chat already has a running run. A terminal
// entry left for the same chat is replaced.
func (reg *Registry) Insert(r *AgentRun) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	key := r.Chat.Key()
	if existing, ok := reg.runs[key]; ok && existing.IsRunning() {
		return run.ErrRunInProgress
	}
	reg.runs[key] = r
	return nil
}

// Remove drops r if it is still the registered run for its chat.
func (reg *Registry) Remove(r *AgentRun) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	key := r.Chat.Key()
	if reg.runs[key] == r {
		delete(reg.runs, key)
	}
}

// Get returns the run registered for chat.
func (reg *Registry) Get(chat run.ChatContext) (*AgentRun, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.runs[chat.Key()]
	return r, ok
}

// IsRunning reports whether chat has a running run.
func (reg *Registry) IsRunning(chat run.ChatContext) bool {
	r, ok := reg.Get(chat)
	return ok && r.IsRunning()
}

// Snapshot returns every registered run ordered by start time.
func (reg *Registry) Snapshot() []*AgentRun {
	reg.mu.Lock()
	runs := make([]*AgentRun, 0, len(reg.runs))
	for _, r := range reg.runs {
		runs = append(runs, r)
	}
	reg.mu.Unlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt().Before(runs[j].StartedAt())
	})
	return runs
}

// Len returns the number of registered runs.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.runs)
}
