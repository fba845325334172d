package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/coachd/internal/api"
	"github.com/nugget/coachd/internal/buildinfo"
	"github.com/nugget/coachd/internal/mqtt"
)

// shutdownGrace bounds draining of HTTP streams and background work.
const shutdownGrace = 30 * time.Second

// runServe starts the API server and blocks until SIGINT or SIGTERM.
// Shutdown drains in-flight streams, waits for memory consolidation,
// then closes the database.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting coachd", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger = configuredLogger(stdout, cfg)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"data_dir", cfg.DataDir,
		"default_model", cfg.Models.Default,
		"users", len(cfg.Auth.Tokens),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a.janitor.Start()

	var publisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		instanceID, err := mqtt.InstanceID(cfg.DataDir)
		if err != nil {
			return err
		}
		publisher = mqtt.New(cfg.MQTT, instanceID, a.stats, logger)
		go func() {
			if err := publisher.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt telemetry enabled", "broker", cfg.MQTT.Broker, "instance_id", instanceID)
	}

	server := api.New(api.Config{
		Address:        cfg.Listen.Address,
		Port:           cfg.Listen.Port,
		Tokens:         cfg.Auth.Tokens,
		DefaultCoachID: cfg.Pipeline.DefaultCoachID,
	}, api.Deps{
		Pipeline:   a.pipeline,
		Tools:      a.executor,
		Registry:   a.registry,
		Router:     a.router,
		Limiter:    a.limiter,
		Plans:      a.context,
		Metrics:    a.metrics,
		Usage:      a.usage,
		Background: a.runner,
		Health:     a.health,
		Bus:        a.bus,
	}, logger)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(ctx)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			a.close(shutdownCtx)
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown incomplete", "error", err)
	}
	if publisher != nil {
		if err := publisher.Stop(shutdownCtx); err != nil {
			logger.Warn("mqtt publisher stop failed", "error", err)
		}
	}
	a.close(shutdownCtx)

	logger.Info("coachd stopped")
	return nil
}
