package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveConfigPath returns the config file path and a label naming where it
// came from. Priority order:
//  1. An explicit path (--config).
//  2. RELAY_CONFIG.
//  3. ./relay.yaml when it exists.
//  4. $HOME/.relay/relay.yaml when it exists.
//
// An empty path means defaults and environment only.
func ResolveConfigPath(explicit string, envLookup EnvLookup, homeDir func() (string, error)) (string, string) {
	if trimmed := strings.TrimSpace(explicit); trimmed != "" {
		return trimmed, "flag"
	}
	if envLookup == nil {
		envLookup = os.LookupEnv
	}
	if value, ok := envLookup(EnvPrefix + "_CONFIG"); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed, EnvPrefix + "_CONFIG"
		}
	}
	if fileExists(DefaultConfigName) {
		return DefaultConfigName, "working directory"
	}
	if homeDir != nil {
		if home, err := homeDir(); err == nil && strings.TrimSpace(home) != "" {
			candidate := filepath.Join(home, defaultConfigDir, DefaultConfigName)
			if fileExists(candidate) {
				return candidate, "home"
			}
		}
	}
	return "", "none"
}

func expandHome(path, home string) string {
	switch {
	case path == "~":
		return home
	case strings.HasPrefix(path, "~/"):
		return filepath.Join(home, path[2:])
	}
	return path
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
