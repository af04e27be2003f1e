// Package main implements the flowerpower-mqtt daemon: it subscribes to
// configured MQTT topic filters and routes matching messages into named
// pipelines, synchronously or through a background job queue.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/legout/flowerpower-mqtt/config"
	"github.com/legout/flowerpower-mqtt/health"
	"github.com/legout/flowerpower-mqtt/metric"
	"github.com/legout/flowerpower-mqtt/pipeline"
	"github.com/legout/flowerpower-mqtt/plugin"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "flowerpower-mqtt"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting flowerpower-mqtt",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := config.LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	metricsRegistry := metric.NewMetricsRegistry()
	healthMonitor := health.NewMonitor()

	var metricsServer *metric.Server
	if cliCfg.MetricsPort > 0 {
		metricsServer = metric.NewServer(cliCfg.MetricsPort, "/metrics", metricsRegistry)
		metricsServer.SetHealthHandler(health.Handler(healthMonitor, appName))
		go func() {
			if err := metricsServer.Start(); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() { _ = metricsServer.Stop() }()
		slog.Info("Metrics server started", "address", metricsServer.Address())
	}

	engine := pipeline.NewFuncEngine()
	registerBuiltinPipelines(engine, logger)

	p, err := plugin.New(cfg, engine,
		plugin.WithLogger(logger),
		plugin.WithMetricsRegistry(metricsRegistry),
		plugin.WithHealthMonitor(healthMonitor),
	)
	if err != nil {
		return fmt.Errorf("create plugin: %w", err)
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	connectCtx, connectCancel := context.WithTimeout(signalCtx, cfg.MQTT.ConnectTimeout)
	err = p.Connect(connectCtx)
	connectCancel()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	// Foreground listener blocks until the shutdown signal, then drains
	// in-flight dispatches within the configured timeout.
	if err := p.StartListener(signalCtx, false); err != nil {
		slog.Warn("Listener stopped with error", "error", err)
	}

	disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer disconnectCancel()
	if err := p.Disconnect(disconnectCtx); err != nil {
		slog.Warn("Disconnect error", "error", err)
	}

	final := p.GetStatistics()
	slog.Info("flowerpower-mqtt shutdown complete",
		"messages", final.MessageCount,
		"pipelines", final.PipelineCount,
		"errors", final.ErrorCount,
		"runtime_seconds", final.RuntimeSeconds)
	return nil
}

// registerBuiltinPipelines installs the pipelines available out of the
// box. Applications embedding the plugin package register their own.
func registerBuiltinPipelines(engine *pipeline.FuncEngine, logger *slog.Logger) {
	// "log" writes every routed message to the structured log. Useful
	// for verifying topic filters before wiring real pipelines.
	_ = engine.Register("log", func(_ context.Context, inputs pipeline.Inputs) (pipeline.Outputs, error) {
		logger.Info("pipeline message",
			"topic", inputs["topic"],
			"qos", inputs["qos"],
			"payload", inputs["payload"])
		return pipeline.Outputs{"logged": true}, nil
	})

	// "discard" accepts and drops messages, for load testing the
	// dispatch path.
	_ = engine.Register("discard", func(context.Context, pipeline.Inputs) (pipeline.Outputs, error) {
		return nil, nil
	})
}
