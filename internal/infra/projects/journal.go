package projects

import (
	"fmt"
	"path/filepath"
	"strings"

	"relay/internal/infra/filestore"
)

// AppendRequest records a user request in the conversation log and the
// requirements document.
func (w *Workspace) AppendRequest(dir, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := filestore.AppendFile(w.logPath(dir), fmt.Sprintf("\n--- USER REQUEST ---\n%s\n", text), 0o644); err != nil {
		return err
	}
	if err := w.ensureRequirements(dir); err != nil {
		return err
	}
	return filestore.AppendFile(w.requirementsPath(dir), fmt.Sprintf("\n---\n\n### User Requirement\n\n> %s\n", text), 0o644)
}

// AppendDecision records the agent's raw output in the conversation log.
func (w *Workspace) AppendDecision(dir, raw, stderr string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	entry := raw
	if strings.TrimSpace(stderr) != "" {
		entry += "\n\n--- STDERR ---\n" + stderr
	}
	return filestore.AppendFile(w.logPath(dir), fmt.Sprintf("\n--- AGENT DECISION ---\n%s\n", entry), 0o644)
}

// AppendAcceptedResponse records an accepted agent answer in the
// requirements document.
func (w *Workspace) AppendAcceptedResponse(dir, response string) error {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureRequirements(dir); err != nil {
		return err
	}
	return filestore.AppendFile(w.requirementsPath(dir), fmt.Sprintf("\n### Accepted Agent Suggestion\n\n```text\n%s\n```\n", response), 0o644)
}

func (w *Workspace) logPath(dir string) string {
	return filepath.Join(dir, w.cfg.ConversationLog)
}

func (w *Workspace) requirementsPath(dir string) string {
	return filepath.Join(dir, w.cfg.RequirementsFile)
}
