package config

import (
	"fmt"
	"strings"
)

// EnvMap parses Env into a map. Later duplicates win.
func (c AgentConfig) EnvMap() (map[string]string, error) {
	out := make(map[string]string, len(c.Env))
	for _, pair := range c.Env {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("agent env entry %q is not KEY=VALUE", pair)
		}
		out[key] = value
	}
	return out, nil
}

// EnvName returns the environment variable bound to a dotted key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
