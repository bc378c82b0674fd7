package config

import (
	"strings"

	"gopkg.in/yaml.v3"
)

const redacted = "********"

// Marshal renders cfg as YAML with secrets masked.
func Marshal(cfg RuntimeConfig) ([]byte, error) {
	if cfg.Telegram.Token != "" {
		cfg.Telegram.Token = redacted
	}
	if len(cfg.Agent.Env) > 0 {
		env := make([]string, len(cfg.Agent.Env))
		for i, pair := range cfg.Agent.Env {
			key, _, _ := strings.Cut(pair, "=")
			env[i] = key + "=" + redacted
		}
		cfg.Agent.Env = env
	}
	return yaml.Marshal(cfg)
}
