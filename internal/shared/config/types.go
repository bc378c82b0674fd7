package config

import (
	"time"
)

// ValueSource describes where a configuration value originated from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

const (
	EnvPrefix         = "RELAY"
	DefaultConfigName = "relay.yaml"
	defaultConfigDir  = ".relay"
	defaultStateName  = ".relay_state.json"
)

// RuntimeConfig is the resolved relay configuration.
type RuntimeConfig struct {
	Telegram   TelegramConfig   `mapstructure:"telegram" yaml:"telegram"`
	Projects   ProjectsConfig   `mapstructure:"projects" yaml:"projects"`
	Agent      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	Streaming  StreamingConfig  `mapstructure:"streaming" yaml:"streaming"`
	Supervisor SupervisorConfig `mapstructure:"supervisor" yaml:"supervisor"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Tracing    TracingConfig    `mapstructure:"tracing" yaml:"tracing"`
	Workbench  WorkbenchConfig  `mapstructure:"workbench" yaml:"workbench"`
}

type TelegramConfig struct {
	Token             string        `mapstructure:"token" yaml:"token"`
	AuthorizedChatIDs []int64       `mapstructure:"authorized_chat_ids" yaml:"authorized_chat_ids"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	Debug             bool          `mapstructure:"debug" yaml:"debug"`
}

type ProjectsConfig struct {
	Root             string        `mapstructure:"root" yaml:"root"`
	StateFile        string        `mapstructure:"state_file" yaml:"state_file"`
	ConversationLog  string        `mapstructure:"conversation_log" yaml:"conversation_log"`
	RequirementsFile string        `mapstructure:"requirements_file" yaml:"requirements_file"`
	Watch            bool          `mapstructure:"watch" yaml:"watch"`
	WatchIgnore      []string      `mapstructure:"watch_ignore" yaml:"watch_ignore"`
	WatchDebounce    time.Duration `mapstructure:"watch_debounce" yaml:"watch_debounce"`
}

// AgentConfig describes how the external agent CLI is invoked.
type AgentConfig struct {
	Binary           string            `mapstructure:"binary" yaml:"binary"`
	Args             []string          `mapstructure:"args" yaml:"args"`
	ResumeArgs       []string          `mapstructure:"resume_args" yaml:"resume_args"`
	PromptFlag       string            `mapstructure:"prompt_flag" yaml:"prompt_flag"`
	ListSessionsArgs []string          `mapstructure:"list_sessions_args" yaml:"list_sessions_args"`
	SessionPattern   string            `mapstructure:"session_pattern" yaml:"session_pattern"`
	ProbeTimeout     time.Duration     `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	// Env holds KEY=VALUE pairs. A list keeps variable names case-intact.
	Env []string `mapstructure:"env" yaml:"env"`
}

type StreamingConfig struct {
	Mode              string        `mapstructure:"mode" yaml:"mode"`
	MinUpdateInterval time.Duration `mapstructure:"min_update_interval" yaml:"min_update_interval"`
	BlockMin          int           `mapstructure:"block_min" yaml:"block_min"`
	BlockMax          int           `mapstructure:"block_max" yaml:"block_max"`
	VisibleTail       int           `mapstructure:"visible_tail" yaml:"visible_tail"`
	Cursor            string        `mapstructure:"cursor" yaml:"cursor"`
	ReadSize          int           `mapstructure:"read_size" yaml:"read_size"`
	QueueSize         int           `mapstructure:"queue_size" yaml:"queue_size"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxMessageSize    int           `mapstructure:"max_message_size" yaml:"max_message_size"`
}

type SupervisorConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	GracePeriod  time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	ReapInterval time.Duration `mapstructure:"reap_interval" yaml:"reap_interval"`
	DrainGrace   time.Duration `mapstructure:"drain_grace" yaml:"drain_grace"`
}

type ServerConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	Addr           string   `mapstructure:"addr" yaml:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// WorkbenchConfig tunes the chat tools around the agent: file execution,
// requirements review and the prompt reminder.
type WorkbenchConfig struct {
	ExecTimeout   time.Duration `mapstructure:"exec_timeout" yaml:"exec_timeout"`
	ReviewTimeout time.Duration `mapstructure:"review_timeout" yaml:"review_timeout"`
	ResultsFile   string        `mapstructure:"results_file" yaml:"results_file"`
	Python        string        `mapstructure:"python" yaml:"python"`
	ReminderEvery int           `mapstructure:"reminder_every" yaml:"reminder_every"`
}

type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter   string  `mapstructure:"exporter" yaml:"exporter"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// Metadata contains provenance details for loaded configuration.
type Metadata struct {
	sources  map[string]ValueSource
	path     string
	loadedAt time.Time
}

// Sources returns a copy of the provenance map. Keys are both sections
// ("streaming") and dotted leaves ("streaming.mode").
func (m Metadata) Sources() map[string]ValueSource {
	out := make(map[string]ValueSource, len(m.sources))
	for key, value := range m.sources {
		out[key] = value
	}
	return out
}

// Source returns the origin of a section or key, SourceDefault when unknown.
func (m Metadata) Source(field string) ValueSource {
	if src, ok := m.sources[field]; ok {
		return src
	}
	return SourceDefault
}

// Path returns the config file that was read, if any.
func (m Metadata) Path() string {
	return m.path
}

// LoadedAt returns the timestamp when the configuration was constructed.
func (m Metadata) LoadedAt() time.Time {
	return m.loadedAt
}

// EnvLookup resolves the value for an environment variable.
type EnvLookup func(string) (string, bool)
