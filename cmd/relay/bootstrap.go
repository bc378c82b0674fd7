package main

import (
	"context"
	"fmt"
	"slices"

	"relay/internal/app/relay"
	"relay/internal/app/workbench"
	"relay/internal/delivery/channels/telegram"
	"relay/internal/domain/run"
	"relay/internal/infra/external/agentcli"
	"relay/internal/infra/external/subprocess"
	"relay/internal/infra/observability"
	"relay/internal/infra/projects"
	"relay/internal/infra/watcher"
	"relay/internal/shared/config"
	"relay/internal/shared/logging"
)

// loadConfig resolves and validates the runtime configuration.
func loadConfig(flags *globalFlags, requireToken bool, opts ...config.Option) (config.RuntimeConfig, config.Metadata, error) {
	if flags.configFile != "" {
		opts = append([]config.Option{config.WithConfigFile(flags.configFile)}, opts...)
	}
	cfg, meta, err := config.Load(opts...)
	if err != nil {
		return config.RuntimeConfig{}, config.Metadata{}, err
	}
	report := config.Validate(cfg, requireToken)
	for _, warning := range report.Warnings {
		logging.NewComponentLogger("Config").Warn("%s", warning.Error())
	}
	if report.HasErrors() {
		return config.RuntimeConfig{}, config.Metadata{}, fmt.Errorf("invalid configuration: %w", report.Err())
	}
	return cfg, meta, nil
}

func settingsFromConfig(cfg config.RuntimeConfig) relay.Settings {
	s := cfg.Streaming
	return relay.Settings{
		Mode:              run.DisplayMode(s.Mode),
		MinUpdateInterval: s.MinUpdateInterval,
		BlockMin:          s.BlockMin,
		BlockMax:          s.BlockMax,
		VisibleTail:       s.VisibleTail,
		Cursor:            s.Cursor,
		ReadSize:          s.ReadSize,
		QueueSize:         s.QueueSize,
		PollInterval:      s.PollInterval,
		MaxMessageSize:    s.MaxMessageSize,
		Timeout:           cfg.Supervisor.Timeout,
		GracePeriod:       cfg.Supervisor.GracePeriod,
		DrainGrace:        cfg.Supervisor.DrainGrace,
		ReapEvery:         cfg.Supervisor.ReapInterval,
	}
}

func agentConfigFromConfig(cfg config.RuntimeConfig) (agentcli.Config, error) {
	env, err := cfg.Agent.EnvMap()
	if err != nil {
		return agentcli.Config{}, err
	}
	a := cfg.Agent
	return agentcli.Config{
		Binary:           a.Binary,
		Args:             slices.Clone(a.Args),
		ResumeArgs:       slices.Clone(a.ResumeArgs),
		PromptFlag:       a.PromptFlag,
		ListSessionsArgs: slices.Clone(a.ListSessionsArgs),
		SessionPattern:   a.SessionPattern,
		ProbeTimeout:     a.ProbeTimeout,
		Env:              env,
	}, nil
}

func projectsConfigFromConfig(cfg config.RuntimeConfig) projects.Config {
	return projects.Config{
		Root:             cfg.Projects.Root,
		ConversationLog:  cfg.Projects.ConversationLog,
		RequirementsFile: cfg.Projects.RequirementsFile,
	}
}

// watcherConfigFromConfig ignores the bookkeeping files the relay itself
// writes, so a run never reports its own journal as a change.
func watcherConfigFromConfig(cfg config.RuntimeConfig) watcher.Config {
	ignore := slices.Clone(cfg.Projects.WatchIgnore)
	for _, name := range []string{cfg.Projects.ConversationLog, cfg.Projects.RequirementsFile} {
		if name != "" && !slices.Contains(ignore, name) {
			ignore = append(ignore, name)
		}
	}
	return watcher.Config{Debounce: cfg.Projects.WatchDebounce, Ignore: ignore}
}

func tracingConfigFromConfig(cfg config.RuntimeConfig) observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		ServiceName:    "relay",
		ServiceVersion: appVersion(),
	}
}

func gatewayConfigFromConfig(cfg config.RuntimeConfig) telegram.Config {
	return telegram.Config{
		AuthorizedChatIDs: slices.Clone(cfg.Telegram.AuthorizedChatIDs),
		PollTimeout:       cfg.Telegram.PollTimeout,
		MaxMessageSize:    cfg.Streaming.MaxMessageSize,
		ReminderEvery:     cfg.Workbench.ReminderEvery,
		Watch:             cfg.Projects.Watch,
		WatchConfig:       watcherConfigFromConfig(cfg),
	}
}

// engineParts are the pieces shared by serve and run.
type engineParts struct {
	engine    *relay.Engine
	workspace *projects.Workspace
	executor  *workbench.Executor
	reviewer  *workbench.Reviewer
	tracing   *observability.TracerProvider
}

func (p *engineParts) close(ctx context.Context, logger logging.Logger) {
	if p.tracing == nil {
		return
	}
	if err := p.tracing.Shutdown(ctx); err != nil {
		logging.OrNop(logger).Warn("Tracer shutdown: %v", err)
	}
}

func buildEngine(cfg config.RuntimeConfig, projectsCfg projects.Config, messenger run.Messenger, events relay.EventSink, logger logging.Logger) (*engineParts, error) {
	agentCfg, err := agentConfigFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	agent, err := agentcli.New(agentCfg, logging.NewComponentLogger("Agent"))
	if err != nil {
		return nil, err
	}
	workspace, err := projects.NewWorkspace(projectsCfg, logging.NewComponentLogger("Projects"))
	if err != nil {
		return nil, err
	}
	supervisor := subprocess.NewSupervisor(logging.NewComponentLogger("Supervisor"))
	executor := workbench.NewExecutor(workbench.ExecConfig{
		Timeout:     cfg.Workbench.ExecTimeout,
		Grace:       cfg.Supervisor.GracePeriod,
		ResultsFile: cfg.Workbench.ResultsFile,
		Python:      cfg.Workbench.Python,
	}, supervisor, logging.NewComponentLogger("Exec"))
	reviewer, err := workbench.NewReviewer(workbench.ReviewConfig{
		Timeout: cfg.Workbench.ReviewTimeout,
		Grace:   cfg.Supervisor.GracePeriod,
	}, agent, supervisor, logging.NewComponentLogger("Review"))
	if err != nil {
		return nil, err
	}
	tracing, err := observability.NewTracerProvider(tracingConfigFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	engine, err := relay.NewEngine(settingsFromConfig(cfg), relay.Dependencies{
		Agent:     agent,
		Spawner:   supervisor,
		Messenger: messenger,
		Journal:   workspace,
		Logger:    logger,
		Metrics:   observability.DefaultMetrics(),
		Tracer:    tracing.Tracer(),
		Events:    events,
	})
	if err != nil {
		_ = tracing.Shutdown(context.Background())
		return nil, err
	}
	return &engineParts{
		engine:    engine,
		workspace: workspace,
		executor:  executor,
		reviewer:  reviewer,
		tracing:   tracing,
	}, nil
}
