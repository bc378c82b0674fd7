package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Option customizes Load.
type Option func(*loadOptions)

type loadOptions struct {
	configFile string
	envLookup  EnvLookup
	homeDir    func() (string, error)
	overrides  map[string]any
	now        func() time.Time
}

// WithConfigFile reads path instead of the resolved default location.
func WithConfigFile(path string) Option {
	return func(o *loadOptions) { o.configFile = path }
}

// WithEnv replaces the environment lookup.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		if lookup != nil {
			o.envLookup = lookup
		}
	}
}

// WithHomeDir replaces the home directory resolver.
func WithHomeDir(fn func() (string, error)) Option {
	return func(o *loadOptions) {
		if fn != nil {
			o.homeDir = fn
		}
	}
}

// WithOverride sets a dotted key above every other source.
func WithOverride(key string, value any) Option {
	return func(o *loadOptions) {
		if o.overrides == nil {
			o.overrides = map[string]any{}
		}
		o.overrides[strings.ToLower(strings.TrimSpace(key))] = value
	}
}

// Load resolves configuration from defaults, the config file, RELAY_*
// environment variables and explicit overrides, in that order.
func Load(opts ...Option) (RuntimeConfig, Metadata, error) {
	options := loadOptions{
		envLookup: os.LookupEnv,
		homeDir:   os.UserHomeDir,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}

	home, err := options.homeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		home = "."
	}

	v := viper.New()

	defaults := defaultValues(home)
	keys := make([]string, 0, len(defaults))
	for key, value := range defaults {
		v.SetDefault(key, value)
		keys = append(keys, key)
	}
	sort.Strings(keys)

	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: options.now()}
	setSource := func(key string, source ValueSource) {
		meta.sources[key] = source
		section, _, _ := strings.Cut(key, ".")
		if rank(source) > rank(meta.sources[section]) {
			meta.sources[section] = source
		}
	}

	path, _ := ResolveConfigPath(options.configFile, options.envLookup, options.homeDir)
	if path != "" {
		v.SetConfigFile(path)
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return RuntimeConfig{}, Metadata{}, fmt.Errorf("read config %s: %w", path, err)
		}
		meta.path = path
		for _, key := range keys {
			if v.InConfig(key) {
				setSource(key, SourceFile)
			}
		}
		for _, key := range v.AllKeys() {
			if _, known := defaults[key]; !known {
				return RuntimeConfig{}, Metadata{}, fmt.Errorf("config %s: unknown key %q", path, key)
			}
		}
	}

	for _, key := range keys {
		value, ok := options.envLookup(EnvName(key))
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		v.Set(key, strings.TrimSpace(value))
		setSource(key, SourceEnv)
	}

	overrideKeys := make([]string, 0, len(options.overrides))
	for key := range options.overrides {
		overrideKeys = append(overrideKeys, key)
	}
	sort.Strings(overrideKeys)
	for _, key := range overrideKeys {
		if _, known := defaults[key]; !known {
			return RuntimeConfig{}, Metadata{}, fmt.Errorf("override: unknown key %q", key)
		}
		v.Set(key, options.overrides[key])
		setSource(key, SourceOverride)
	}

	var cfg RuntimeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return RuntimeConfig{}, Metadata{}, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg, home)
	return cfg, meta, nil
}

func normalize(cfg *RuntimeConfig, home string) {
	cfg.Telegram.Token = strings.TrimSpace(cfg.Telegram.Token)
	cfg.Projects.Root = expandHome(strings.TrimSpace(cfg.Projects.Root), home)
	if strings.TrimSpace(cfg.Projects.StateFile) == "" {
		cfg.Projects.StateFile = filepath.Join(cfg.Projects.Root, defaultStateName)
	} else {
		cfg.Projects.StateFile = expandHome(strings.TrimSpace(cfg.Projects.StateFile), home)
	}
	cfg.Streaming.Mode = strings.ToLower(strings.TrimSpace(cfg.Streaming.Mode))
	cfg.Tracing.Exporter = strings.ToLower(strings.TrimSpace(cfg.Tracing.Exporter))
}

func rank(source ValueSource) int {
	switch source {
	case SourceFile:
		return 1
	case SourceEnv:
		return 2
	case SourceOverride:
		return 3
	}
	return 0
}
