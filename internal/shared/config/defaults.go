package config

import (
	"path/filepath"
	"time"
)

// defaultValues lists every key with its default in dotted form. Keys absent
// here are invisible to env binding.
func defaultValues(home string) map[string]any {
	return map[string]any{
		"telegram.token":               "",
		"telegram.authorized_chat_ids": []int64{},
		"telegram.poll_timeout":        30 * time.Second,
		"telegram.debug":               false,

		"projects.root":              filepath.Join(home, "relay-projects"),
		"projects.state_file":        "",
		"projects.conversation_log":  "project_conversation.log",
		"projects.requirements_file": "GEMINI.md",
		"projects.watch":             true,
		"projects.watch_ignore":      []string{".git", "venv", "__pycache__", "node_modules"},
		"projects.watch_debounce":    2 * time.Second,

		"agent.binary":             "gemini",
		"agent.args":               []string{"--yolo"},
		"agent.resume_args":        []string{"--resume", "latest"},
		"agent.prompt_flag":        "--prompt",
		"agent.list_sessions_args": []string{"--list-sessions"},
		"agent.session_pattern":    `\[[^\]\s]+\]`,
		"agent.probe_timeout":      15 * time.Second,
		"agent.env":                []string{},

		"streaming.mode":                "partial",
		"streaming.min_update_interval": 1500 * time.Millisecond,
		"streaming.block_min":           200,
		"streaming.block_max":           800,
		"streaming.visible_tail":        3800,
		"streaming.cursor":              "▌",
		"streaming.read_size":           512,
		"streaming.queue_size":          256,
		"streaming.poll_interval":       100 * time.Millisecond,
		"streaming.max_message_size":    4096,

		"supervisor.timeout":       5 * time.Minute,
		"supervisor.grace_period":  5 * time.Second,
		"supervisor.reap_interval": time.Second,
		"supervisor.drain_grace":   10 * time.Second,

		"server.enabled":         false,
		"server.addr":            "127.0.0.1:9464",
		"server.allowed_origins": []string{},

		"tracing.enabled":     false,
		"tracing.exporter":    "otlp",
		"tracing.endpoint":    "",
		"tracing.sample_rate": 1.0,

		"workbench.exec_timeout":   2 * time.Minute,
		"workbench.review_timeout": 5 * time.Minute,
		"workbench.results_file":   "results.txt",
		"workbench.python":         "python3",
		"workbench.reminder_every": 5,
	}
}
