package projects

import (
	"fmt"
	"strings"
	"sync"

	"relay/internal/domain/run"
	"relay/internal/infra/filestore"
	jsonx "relay/internal/shared/json"
	"relay/internal/shared/logging"
)

// AwaitingKind names the free-text reply a chat owes the bot.
type AwaitingKind string

const (
	AwaitingProjectName AwaitingKind = "new_project_name"

	awaitingExecParamsPrefix = "exec_params:"
)

// AwaitingExecParams is the pending reply carrying parameters for file.
func AwaitingExecParams(file string) AwaitingKind {
	return AwaitingKind(awaitingExecParamsPrefix + file)
}

// ExecFile returns the file whose parameters k waits for.
func (k AwaitingKind) ExecFile() (string, bool) {
	file, ok := strings.CutPrefix(string(k), awaitingExecParamsPrefix)
	return file, ok && file != ""
}

// ReviewDraft is a requirements rewrite waiting for the user's decision.
type ReviewDraft struct {
	State        string `json:"state"`
	ProposedText string `json:"proposed_text"`
}

// ReviewAwaitingDecision is the only state a stored draft can be in.
const ReviewAwaitingDecision = "awaiting_decision"

// State is the persisted bot state.
type State struct {
	Contexts       map[string]string       `json:"contexts"`
	LastUpdateID   int                     `json:"last_update_id"`
	AwaitingInput  map[string]AwaitingKind `json:"awaiting_input"`
	PromptCounters map[string]int          `json:"prompt_counters"`
	Reviews        map[string]ReviewDraft  `json:"context_workflows"`
}

func emptyState() State {
	var s State
	s.fillMaps()
	return s
}

func (s *State) fillMaps() {
	if s.Contexts == nil {
		s.Contexts = make(map[string]string)
	}
	if s.AwaitingInput == nil {
		s.AwaitingInput = make(map[string]AwaitingKind)
	}
	if s.PromptCounters == nil {
		s.PromptCounters = make(map[string]int)
	}
	if s.Reviews == nil {
		s.Reviews = make(map[string]ReviewDraft)
	}
}

// StateStore keeps State in memory and writes it through to a JSON file on
// every change.
type StateStore struct {
	path   string
	logger logging.Logger

	mu    sync.Mutex
	state State
}

// OpenStateStore loads path. A missing file starts empty; an unreadable or
// corrupt one is logged and replaced on the next write.
func OpenStateStore(path string, logger logging.Logger) (*StateStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state file path is empty")
	}
	s := &StateStore{path: path, logger: logging.OrNop(logger), state: emptyState()}
	data, err := filestore.ReadFileOrEmpty(path)
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}
	if data == nil {
		s.logger.Info("State file %s not found, starting fresh", path)
		return s, nil
	}
	var loaded State
	if err := jsonx.Unmarshal(data, &loaded); err != nil {
		s.logger.Error("Could not parse state file %s, starting fresh: %v", path, err)
		return s, nil
	}
	loaded.fillMaps()
	s.state = loaded
	return s, nil
}

// Path returns the backing file.
func (s *StateStore) Path() string {
	return s.path
}

// Project returns the project directory selected for chat.
func (s *StateStore) Project(chat run.ChatContext) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir, ok := s.state.Contexts[chat.Key()]
	return dir, ok && dir != ""
}

// SetProject selects dir for chat.
func (s *StateStore) SetProject(chat run.ChatContext, dir string) error {
	return s.update(func(state *State) {
		state.Contexts[chat.Key()] = dir
	})
}

// Contexts returns a copy of every chat's selection.
func (s *StateStore) Contexts() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.state.Contexts))
	for k, v := range s.state.Contexts {
		out[k] = v
	}
	return out
}

// LastUpdateID returns the last processed transport update.
func (s *StateStore) LastUpdateID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LastUpdateID
}

// SetLastUpdateID records id when it advances the stored one.
func (s *StateStore) SetLastUpdateID(id int) error {
	s.mu.Lock()
	if id <= s.state.LastUpdateID {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.update(func(state *State) {
		if id > state.LastUpdateID {
			state.LastUpdateID = id
		}
	})
}

// Awaiting returns what free-text reply chat owes, if any.
func (s *StateStore) Awaiting(chat run.ChatContext) (AwaitingKind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind, ok := s.state.AwaitingInput[chat.Key()]
	return kind, ok
}

// SetAwaiting records that chat's next message answers kind.
func (s *StateStore) SetAwaiting(chat run.ChatContext, kind AwaitingKind) error {
	return s.update(func(state *State) {
		state.AwaitingInput[chat.Key()] = kind
	})
}

// ConsumeAwaiting clears and returns chat's pending reply kind.
func (s *StateStore) ConsumeAwaiting(chat run.ChatContext) (AwaitingKind, bool, error) {
	kind, ok := s.Awaiting(chat)
	if !ok {
		return "", false, nil
	}
	err := s.update(func(state *State) {
		delete(state.AwaitingInput, chat.Key())
	})
	return kind, true, err
}

// CountPrompt records one more prompt sent to the project in dir and
// returns the new total.
func (s *StateStore) CountPrompt(dir string) (int, error) {
	var count int
	err := s.update(func(state *State) {
		state.PromptCounters[dir]++
		count = state.PromptCounters[dir]
	})
	return count, err
}

// Review returns the draft chat is deciding on.
func (s *StateStore) Review(chat run.ChatContext) (ReviewDraft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft, ok := s.state.Reviews[chat.Key()]
	return draft, ok
}

// SetReview stores proposal as the draft chat decides on next.
func (s *StateStore) SetReview(chat run.ChatContext, proposal string) error {
	return s.update(func(state *State) {
		state.Reviews[chat.Key()] = ReviewDraft{State: ReviewAwaitingDecision, ProposedText: proposal}
	})
}

// ClearReview ends chat's review.
func (s *StateStore) ClearReview(chat run.ChatContext) error {
	if _, ok := s.Review(chat); !ok {
		return nil
	}
	return s.update(func(state *State) {
		delete(state.Reviews, chat.Key())
	})
}

func (s *StateStore) update(fn func(state *State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	data, err := filestore.MarshalJSONIndent(s.state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := filestore.AtomicWrite(s.path, data, 0o600); err != nil {
		s.logger.Error("Could not write state file %s: %v", s.path, err)
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}
