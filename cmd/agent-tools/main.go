// Command agent-tools serves the kernel's agent tools over MCP on stdio for a
// single configured agent type.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/JaimeStill/steward/internal/agenttools"
	"github.com/JaimeStill/steward/internal/api"
	"github.com/JaimeStill/steward/internal/config"
	"github.com/JaimeStill/steward/internal/infrastructure"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "agent-tools: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	// stdout carries the protocol
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	infra, err := infrastructure.NewWithLogger(cfg, logger)
	if err != nil {
		return fmt.Errorf("infrastructure init failed: %w", err)
	}

	if err := infra.Start(); err != nil {
		return fmt.Errorf("infrastructure start failed: %w", err)
	}
	defer infra.Lifecycle.Shutdown(cfg.ShutdownTimeoutDuration())
	infra.Lifecycle.WaitForStartup()

	runtime, err := api.NewRuntime(cfg, infra)
	if err != nil {
		return err
	}
	domain := api.NewDomain(runtime)

	agenttools.Version = cfg.Version

	srv := agenttools.NewServer(agenttools.Deps{
		Exceptions: domain.Exceptions,
		Policies:   domain.Policies,
		Decisions:  domain.Decisions,
		Signals:    domain.Signals,
		Approvals:  domain.Approvals,
		Traces:     domain.Traces,
	}, cfg.Agent.AgentType(), logger)

	logger.Info(
		"agent tools started on stdio",
		"agent", cfg.Agent.Type,
		"version", cfg.Version,
	)

	return srv.Serve()
}
