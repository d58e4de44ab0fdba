// Package main implements the entry point for the synapse-relay UDP
// signal relay node.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nohuiam/synapse-relay/config"
	"github.com/nohuiam/synapse-relay/engine"
	"github.com/nohuiam/synapse-relay/eventbus"
	"github.com/nohuiam/synapse-relay/metric"
	"github.com/nohuiam/synapse-relay/natsclient"
	"github.com/nohuiam/synapse-relay/storage"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "relayd"
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
		slog.Error("relayd: startup failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cliCfg.Validate {
		slog.Info("relayd: configuration is valid")
		return nil
	}

	metricsRegistry := metric.NewMetricsRegistry()
	bus := buildEventBus(logger)

	relayEngine, err := engine.New(storage.NewMemStore(), cfg, bus, metricsRegistry, logger)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	if cliCfg.HealthPort > 0 {
		startMetricsServer(cliCfg.HealthPort, metricsRegistry, relayEngine, logger)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	relayEngine.Start(ctx)
	logger.Info("relayd: started", "version", Version, "port", cfg.Port)

	<-ctx.Done()
	logger.Info("relayd: shutdown signal received")

	if err := relayEngine.Stop(cliCfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("relayd: shutdown complete")
	return nil
}

// buildEventBus returns a NATS-backed bus when RELAYD_NATS_URL is set, and
// an in-process bus otherwise.
func buildEventBus(logger *slog.Logger) eventbus.Bus {
	url := os.Getenv("RELAYD_NATS_URL")
	if url == "" {
		return eventbus.NewLocal()
	}

	client, err := natsclient.NewClient(url)
	if err != nil {
		logger.Warn("relayd: failed to create nats client, falling back to local event bus", "error", err)
		return eventbus.NewLocal()
	}
	if err := client.Connect(context.Background()); err != nil {
		logger.Warn("relayd: failed to connect to nats, falling back to local event bus", "error", err, "url", url)
		return eventbus.NewLocal()
	}
	return eventbus.NewNATSBus(client)
}

func startMetricsServer(port int, registry *metric.MetricsRegistry, relayEngine *engine.Engine, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry.PrometheusRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := relayEngine.Health()
		w.Header().Set("Content-Type", "application/json")
		if !status.IsHealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})

	go func() {
		addr := fmt.Sprintf(":%d", port)
		logger.Info("relayd: metrics server listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("relayd: metrics server stopped", "error", err)
		}
	}()
}

func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)
	logger.Info("relayd: starting", "version", Version, "build_time", BuildTime, "config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// loadConfig loads configuration from path, falling back to defaults when
// the file is absent.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(true)
	if _, err := os.Stat(path); err == nil {
		loader.AddLayer(path)
	}
	return loader.Load()
}
