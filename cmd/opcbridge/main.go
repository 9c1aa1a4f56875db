package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opcbridge/opcbridge/internal/api"
	"github.com/opcbridge/opcbridge/internal/auth"
	"github.com/opcbridge/opcbridge/internal/config"
	"github.com/opcbridge/opcbridge/internal/dispatch"
	"github.com/opcbridge/opcbridge/internal/hub"
	"github.com/opcbridge/opcbridge/internal/methods"
	"github.com/opcbridge/opcbridge/internal/publisher"
	"github.com/opcbridge/opcbridge/internal/uaclient"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logger
	logger := initLogger(cfg.Logging)
	logger.Info("Starting OPC Bridge",
		"version", "1.0.0",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	// Initialize authentication service and credential cipher
	authService, err := auth.NewService(
		cfg.Auth.JWTSecret,
		cfg.Auth.AdminUsername,
		cfg.Auth.AdminPassword,
		cfg.Auth.GetJWTExpiry(),
	)
	if err != nil {
		log.Fatalf("Failed to initialize auth service: %v", err)
	}
	cipher, err := auth.NewCipher(cfg.Auth.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize credential cipher: %v", err)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the hub
	hubClient := hub.NewMQTTClient(cfg.Hub, logger)
	if err := hubClient.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect to hub: %v", err)
	}

	// Initialize the dispatch pipeline
	dispatchRouter := dispatch.NewRouter(hubClient, cfg.Hub, logger)
	prometheus.MustRegister(dispatch.NewCollector(dispatchRouter))
	go dispatchRouter.Run(ctx)

	// Initialize publishing settings and the node configuration registry
	settings, err := publisher.NewSettings(cfg.Publisher, cfg.Telemetry)
	if err != nil {
		log.Fatalf("Invalid publisher settings: %v", err)
	}
	registry := publisher.NewNodeConfiguration(
		cfg.Publisher.NodeConfigFile,
		settings,
		dispatchRouter,
		cipher,
		logger,
	)

	// Initialize the OPC UA session manager before loading the configuration
	// so sessions created during the load get their connect loops.
	manager := uaclient.NewManager(cfg.Session, cipher, registry, logger)

	if err := registry.Init(ctx); err != nil {
		log.Fatalf("Failed to load node configuration: %v", err)
	}

	go func() {
		if err := manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Session manager error", "error", err)
		}
	}()

	// Register the hub method surface
	methodHandlers := methods.NewHandlers(
		ctx,
		registry,
		cipher,
		cfg.Publisher.MaxResponsePayloadBytes,
		logger,
	)
	methodHandlers.Register(hubClient)

	// Report connection state as a reported property
	hubClient.SetConnectionStatusCallback(func(connected bool) {
		if !connected {
			return
		}
		reportCtx, reportCancel := context.WithTimeout(ctx, 10*time.Second)
		defer reportCancel()
		if err := hubClient.UpdateReportedProperties(reportCtx, map[string]any{
			"connected": true,
			"startedAt": time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			logger.Warn("Failed to update reported properties", "error", err)
		}
	})

	// Create API router and HTTP server
	router := api.NewRouter(authService, methodHandlers, logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Stop accepting work, then let the pipeline drain what it has queued.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Error("Registry shutdown failed", "error", err)
	}
	dispatchRouter.Drain(15 * time.Second)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	if err := hubClient.Disconnect(shutdownCtx); err != nil {
		logger.Error("Hub disconnect failed", "error", err)
	}

	logger.Info("Stopped gracefully")
}

func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	// Set log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	// Set format
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
