package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"relay/internal/app/relay"
	"relay/internal/delivery/channels/telegram"
	"relay/internal/delivery/server"
	"relay/internal/infra/projects"
	"relay/internal/shared/async"
	"relay/internal/shared/logging"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var adminAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll Telegram and relay prompts to the agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, flags, adminAddr)
		},
	}
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "", "enable the admin server on this address")
	return cmd
}

func serve(ctx context.Context, flags *globalFlags, adminAddr string) error {
	logger := logging.NewComponentLogger("Serve")

	cfg, meta, err := loadConfig(flags, true)
	if err != nil {
		return err
	}
	if adminAddr != "" {
		cfg.Server.Enabled = true
		cfg.Server.Addr = adminAddr
	}
	logger.Info("Starting relay %s (config: %s)", appVersion(), describeConfigPath(meta.Path()))

	api, err := telegram.NewBotAPI(cfg.Telegram.Token, cfg.Telegram.Debug)
	if err != nil {
		return err
	}
	messenger := telegram.NewMessenger(api, logging.NewComponentLogger("Telegram"))

	var events relay.EventSink
	var hub *server.Hub
	if cfg.Server.Enabled {
		hub = server.NewHub(logging.NewComponentLogger("AdminHub"))
		events = hub
	}

	parts, err := buildEngine(cfg, projectsConfigFromConfig(cfg), messenger, events, logging.NewComponentLogger("Relay"))
	if err != nil {
		return err
	}
	defer parts.close(context.Background(), logger)

	state, err := projects.OpenStateStore(cfg.Projects.StateFile, logging.NewComponentLogger("State"))
	if err != nil {
		return err
	}
	gateway, err := telegram.NewGateway(gatewayConfigFromConfig(cfg), telegram.Dependencies{
		API:       api,
		Messenger: messenger,
		Runner:    parts.engine,
		Files:     parts.engine.Files(),
		Workspace: parts.workspace,
		State:     state,
		Executor:  parts.executor,
		Reviewer:  parts.reviewer,
		Logger:    logging.NewComponentLogger("Gateway"),
	})
	if err != nil {
		return err
	}

	var admin *server.Server
	if cfg.Server.Enabled {
		admin, err = server.New(server.Config{
			Addr:           cfg.Server.Addr,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Version:        appVersion(),
		}, parts.engine, hub, nil, logging.NewComponentLogger("Admin"))
		if err != nil {
			return err
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	async.Go(logger, "relay.reaper", func() {
		parts.engine.RunReaper(groupCtx)
	})
	group.Go(func() error {
		return gateway.Run(groupCtx)
	})
	if admin != nil {
		group.Go(func() error {
			return admin.Serve(groupCtx)
		})
	}

	runErr := group.Wait()
	if runErr != nil {
		logger.Error("Relay stopped with error: %v", runErr)
	}
	logger.Info("Shutting down, waiting up to %s for running agents", cfg.Supervisor.DrainGrace+cfg.Supervisor.GracePeriod)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Supervisor.DrainGrace+cfg.Supervisor.GracePeriod)
	defer cancel()
	if err := parts.engine.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Engine shutdown: %v", err)
	}
	if runErr != nil {
		return fmt.Errorf("relay serve: %w", runErr)
	}
	return nil
}

func describeConfigPath(path string) string {
	if path == "" {
		return "defaults and environment"
	}
	return path
}
