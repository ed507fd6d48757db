// Package main is the entry point for the environment simulator server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/corvid-labs/envsim/internal/api"
	"github.com/corvid-labs/envsim/internal/buildinfo"
	"github.com/corvid-labs/envsim/internal/config"
	"github.com/corvid-labs/envsim/internal/engine"
	"github.com/corvid-labs/envsim/internal/events"
	"github.com/corvid-labs/envsim/internal/modality"
	"github.com/corvid-labs/envsim/internal/modality/calendar"
	"github.com/corvid-labs/envsim/internal/modality/chat"
	"github.com/corvid-labs/envsim/internal/modality/email"
	"github.com/corvid-labs/envsim/internal/modality/location"
	"github.com/corvid-labs/envsim/internal/modality/sms"
	"github.com/corvid-labs/envsim/internal/modality/timeprefs"
	"github.com/corvid-labs/envsim/internal/modality/weather"
	"github.com/corvid-labs/envsim/internal/mqtt"
	"github.com/corvid-labs/envsim/internal/snapshot"
	"github.com/corvid-labs/envsim/internal/stream"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath)
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
		return
	}

	fmt.Println("envsim - deterministic multi-modality environment simulator")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the API server")
	fmt.Println("  version  Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func runServe(logger *slog.Logger, configPath string) {
	logger.Info("starting envsim", "version", buildinfo.Version, "commit", buildinfo.GitCommit)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Warn("no config file found, using defaults", "error", err)
	}

	var cfg *config.Config
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			logger.Error("failed to load config", "path", cfgPath, "error", err)
			os.Exit(1)
		}
	} else {
		cfg = config.Default()
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "weather_mode", cfg.Weather.Mode)

	if cfg.Weather.Real() && cfg.Weather.APIKey != "" {
		os.Setenv("OPENWEATHER_API_KEY", cfg.Weather.APIKey)
	}

	startTime, err := cfg.StartTime()
	if err != nil {
		logger.Error("invalid clock.start_time in config", "error", err)
		os.Exit(1)
	}

	registry := modality.NewRegistry(
		email.New(),
		sms.New(),
		chat.New(),
		calendar.New(),
		location.New(),
		weather.New(),
		timeprefs.New(),
	)

	bus := events.New()
	eng := engine.New(startTime, registry, engine.WithLogger(logger), engine.WithBus(bus), engine.WithUndoMaxSize(cfg.Undo.MaxSize))

	hub := stream.NewHub(logger)
	hubStop := make(chan struct{})
	go hub.Run(hubStop)
	go hub.Forward(bus, hubStop)

	var snapshotStore *snapshot.Store
	if cfg.Snapshot.Enabled() {
		snapshotStore, err = snapshot.Open(cfg.Snapshot.Path)
		if err != nil {
			logger.Error("failed to open snapshot store", "path", cfg.Snapshot.Path, "error", err)
			os.Exit(1)
		}
		defer snapshotStore.Close()
		logger.Info("snapshot persistence enabled", "path", cfg.Snapshot.Path)
	}

	var publisher *mqtt.Publisher
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.MQTT.Enabled() {
		publisher = mqtt.New(cfg.MQTT, bus, logger)
		if err := publisher.Start(ctx); err != nil {
			logger.Error("mqtt publisher failed to start", "error", err)
		} else {
			logger.Info("mqtt publisher started", "broker", cfg.MQTT.Broker, "topic", cfg.MQTT.Topic)
		}
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, eng, hub, snapshotStore, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
		close(hubStop)
		eng.Stop()
		if publisher != nil {
			_ = publisher.Stop(context.Background())
		}
		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("envsim stopped")
}
