package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wordflowlab/arbiter/pkg/appconfig"
	"github.com/wordflowlab/arbiter/pkg/dispatch"
	"github.com/wordflowlab/arbiter/pkg/logging"
	"github.com/wordflowlab/arbiter/pkg/provider"
	"github.com/wordflowlab/arbiter/pkg/runlog"
	"github.com/wordflowlab/arbiter/pkg/runtime"
	"github.com/wordflowlab/arbiter/pkg/tools"
	"github.com/wordflowlab/arbiter/pkg/trigger"
	"github.com/wordflowlab/arbiter/pkg/types"
	"github.com/wordflowlab/arbiter/pkg/workflow"
	"github.com/wordflowlab/arbiter/server"
)

// runServe wires the whole engine together from a YAML config:
// provider -> runtime -> agents -> trigger backends -> dispatcher
// -> executor -> HTTP adapter, then blocks until SIGINT/SIGTERM.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "arbiter.yaml", "path to the YAML config file")
	addr := fs.String("addr", "", "listen address override (host:port)")
	mode := fs.String("mode", "debug", "server mode: debug or production")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// .env is optional
	_ = godotenv.Load()

	cfg, err := appconfig.Load(*configPath)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	ctx := context.Background()

	factory := provider.NewFactory([]provider.Config{{
		Name:         cfg.Provider.Name,
		BaseURL:      cfg.Provider.BaseURL,
		APIKey:       cfg.Provider.APIKey(),
		DefaultModel: cfg.Provider.Model,
	}})
	prov, err := factory.Create(cfg.Provider.Name)
	if err != nil {
		return err
	}
	defer prov.Close()

	sink := runlog.NewLogSink(logger)
	rt := runtime.New(prov, sink)
	tools.RegisterBuiltins(rt.GlobalTools())

	for _, agentCfg := range cfg.Agents {
		if _, err := rt.CreateAgent(agentCfg); err != nil {
			return fmt.Errorf("create agent %s: %w", agentCfg.ID, err)
		}
	}

	// Agents referenced in another agent's tool list become agent tools.
	// Registration is retroactive, so creation order does not matter.
	registerAgentTools(rt, cfg.Agents)

	webhookBackend := trigger.NewWebhookBackend(logger)
	cronBackend := trigger.NewCronBackend(logger)
	fileWatchBackend := trigger.NewFileWatchBackend(logger)
	manualBackend := trigger.NewManualBackend(logger)

	dispatcher := dispatch.New(logger, sink,
		webhookBackend, cronBackend, fileWatchBackend, manualBackend)

	executor := workflow.NewExecutor(rt, logger)
	dispatcher.SetProcessor(executor.Process)

	for _, wf := range cfg.Workflows {
		if err := executor.RegisterDefinition(workflow.Definition{
			ID:            wf.ID,
			Name:          wf.Name,
			Agents:        wf.Agents,
			MaxIterations: wf.MaxIterations,
		}); err != nil {
			return fmt.Errorf("register workflow %s: %w", wf.ID, err)
		}
		if err := dispatcher.RegisterWorkflow(dispatch.WorkflowRegistration{
			WorkflowID: wf.ID,
			Trigger:    wf.Trigger,
			Condition:  wf.Condition,
		}); err != nil {
			return fmt.Errorf("register workflow %s: %w", wf.ID, err)
		}
	}

	if err := dispatcher.Start(); err != nil {
		return err
	}

	listenAddr := cfg.Server.Addr()
	if *addr != "" {
		listenAddr = *addr
	}

	srv, err := server.New(&server.Config{
		Addr:         listenAddr,
		Mode:         *mode,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}, &server.Dependencies{
		Dispatcher: dispatcher,
		Executor:   executor,
		Runtime:    rt,
		Webhook:    webhookBackend,
		Manual:     manualBackend,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "server listening", map[string]interface{}{"addr": listenAddr})
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		_ = dispatcher.Stop()
		return err
	case sig := <-sigCh:
		logger.Info(ctx, "shutting down", map[string]interface{}{"signal": sig.String()})
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error(ctx, "server shutdown error", map[string]interface{}{"error": err.Error()})
	}
	if err := dispatcher.Stop(); err != nil {
		logger.Error(ctx, "dispatcher stop error", map[string]interface{}{"error": err.Error()})
	}
	logger.Flush(ctx)
	return nil
}

// buildLogger assembles the logger from config: stdout always,
// plus a file transport when a path is set
func buildLogger(cfg appconfig.LoggingConfig) (*logging.Logger, error) {
	level := logging.LevelInfo
	switch cfg.Level {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}

	logger := logging.NewLogger(level, logging.NewStdoutTransport())
	if cfg.File != "" {
		ft, err := logging.NewFileTransport(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logger.AddTransport(ft)
	}
	return logger, nil
}

// registerAgentTools exposes agents named in other agents' tool lists
// as callable agent tools
func registerAgentTools(rt *runtime.Runtime, agents []types.AgentConfig) {
	byID := make(map[string]types.AgentConfig, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}

	registered := make(map[string]bool)
	for _, a := range agents {
		for _, name := range a.AvailableTools {
			target, ok := byID[name]
			if !ok || target.ID == a.ID || registered[target.ID] {
				continue
			}
			rt.RegisterGlobalTool(rt.CreateAgentTool(target))
			registered[target.ID] = true
		}
	}
}
