package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pulsecast/relay/internal/admission"
	"github.com/pulsecast/relay/internal/archive"
	"github.com/pulsecast/relay/internal/config"
	"github.com/pulsecast/relay/internal/database"
	"github.com/pulsecast/relay/internal/hub"
	"github.com/pulsecast/relay/internal/lifecycle"
	"github.com/pulsecast/relay/internal/metrics"
	"github.com/pulsecast/relay/internal/transport"
	"github.com/pulsecast/relay/internal/upstream"
	"github.com/pulsecast/relay/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/relay.local.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"config", *configPath,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Global upstream connection gauge, shared by every lifecycle manager
	// and reported by the hub's statistic broadcasts.
	gauge := lifecycle.NewGauge()

	h := hub.New(hub.Config{
		StatInterval: cfg.Hub.StatInterval,
		SendBuffer:   cfg.Hub.SendBuffer,
	}, gauge, logger.With("component", "hub"))

	gate := admission.NewController(admission.Config{
		MaxConnectionsPerIP: cfg.Admission.MaxConnectionsPerIP,
		MaxRequestsPerIP:    cfg.Admission.MaxRequestsPerIP,
		RequestWindow:       cfg.Admission.RequestWindow,
	}, h, logger.With("component", "admission"))
	gate.Start(ctx)

	// Optional event archiver
	var archiver *archive.Writer
	if cfg.Archive.Enabled {
		logger.Info("connecting to archive database",
			"host", cfg.Archive.Database.Host,
			"port", cfg.Archive.Database.Port,
			"database", cfg.Archive.Database.Name,
		)

		pool, err := database.Connect(ctx, cfg.Archive.Database)
		if err != nil {
			logger.Error("failed to connect to archive database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		archiver = archive.NewWriter(archive.Config{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
			BufferSize:    cfg.Archive.BufferSize,
		}, pool, logger.With("component", "archive"))

		if err := archiver.Start(ctx); err != nil {
			logger.Error("failed to start archive writer", "error", err)
			os.Exit(1)
		}
		h.SetRecorder(archiver)
	}

	sessions := upstream.NewFactory(upstream.SessionConfig{
		WSURL:            cfg.Upstream.WSURL,
		Origin:           cfg.Upstream.Origin,
		HandshakeTimeout: cfg.Upstream.HandshakeTimeout,
		WriteTimeout:     cfg.Upstream.WriteTimeout,
		PingTimeout:      cfg.Upstream.PingTimeout,
		BufferSize:       cfg.Upstream.BufferSize,
	}, logger.With("component", "upstream"))

	server := transport.NewServer(
		transport.Config{
			Addr:         cfg.Server.Addr,
			StaticDir:    cfg.Server.StaticDir,
			WriteTimeout: cfg.Hub.WriteTimeout,
			PingInterval: cfg.Hub.PingInterval,
		},
		h, gate, sessions,
		lifecycle.Config{
			MaxReconnectAttempts: cfg.Reconnect.MaxAttempts,
			ReconnectBaseWait:    cfg.Reconnect.BaseWait,
			ReconnectMaxWait:     cfg.Reconnect.MaxWait,
		},
		gauge,
		logger,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(gctx)
	})

	g.Go(func() error {
		h.Run(gctx)
		return nil
	})

	if cfg.Metrics.Port > 0 {
		g.Go(func() error {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			return metrics.Serve(gctx, addr, cfg.Metrics.Path, logger.With("component", "metrics"))
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("relay terminated", "error", err)
		cancel()
		stopArchiver(archiver, logger)
		os.Exit(1)
	}

	stopArchiver(archiver, logger)
	logger.Info("relay stopped")
}

func stopArchiver(archiver *archive.Writer, logger *slog.Logger) {
	if archiver == nil {
		return
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := archiver.Stop(stopCtx); err != nil {
		logger.Warn("archive writer stop failed", "error", err)
	}
}

// newLogger builds the process logger from config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
