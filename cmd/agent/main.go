// agent tails Kubernetes pod log files on a node and ships every line to
// Loki. Its own logs go to stderr and to Loki through the same handler.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	lokihandler "github.com/xente/loki-logger-handler"
	"github.com/xente/loki-logger-handler/internal/config"
	"github.com/xente/loki-logger-handler/internal/daemon"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := pflag.NewFlagSet("agent", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", os.Getenv("AGENT_CONFIG"), "path to a .yaml or .jsonc config file")
	lokiURL := flagSet.String("loki-url", "", "Loki push endpoint (overrides config and LOKI_URL)")
	logPath := flagSet.String("log-path", "", "root directory of pod logs (overrides config and LOG_PATH)")
	nodeName := flagSet.String("node-name", "", "node name attached to every line (overrides config and NODE_NAME)")
	workers := flagSet.Int("workers", 0, "number of files tailed at once (overrides config and WORKERS)")
	logLevel := flagSet.String("log-level", "", "level of the agent's own logs")

	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("loki-url") {
		cfg.Loki.URL = *lokiURL
	}
	if flagSet.Changed("log-path") {
		cfg.Agent.LogPath = *logPath
	}
	if flagSet.Changed("node-name") {
		cfg.Agent.NodeName = *nodeName
	}
	if flagSet.Changed("workers") {
		cfg.Agent.Workers = *workers
	}
	if flagSet.Changed("log-level") {
		cfg.Agent.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := zapcore.ParseLevel(cfg.Agent.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	console := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig()),
		zapcore.Lock(os.Stderr),
		level,
	)

	handlerConfig := cfg.HandlerConfig()
	if handlerConfig.Metadata == nil {
		handlerConfig.Metadata = make(map[string]any, 1)
	}
	handlerConfig.Metadata["instance_id"] = uuid.New().String()
	// handler failures must not loop back into the handler
	handlerConfig.DiagnosticLogger = zap.New(console)

	handler, err := lokihandler.New(handlerConfig)
	if err != nil {
		return err
	}

	logger := zap.New(zapcore.NewTee(console, lokihandler.NewZapCore(handler, level)), zap.AddCaller()).
		Named("agent").
		With(zap.String("node", cfg.Agent.NodeName))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service := daemon.NewLogDaemonService(ctx, cfg.DaemonConfig(), handler, logger)
	service.Start()

	logger.Info("Agent started", zap.String("loki_url", cfg.Loki.URL), zap.String("log_path", cfg.Agent.LogPath))

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	service.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := handler.Close(shutdownCtx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	if handler.HadError() {
		logger.Warn("Some log lines could not be delivered")
	}
	return nil
}
