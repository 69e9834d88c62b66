package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zombar/matchscheduler"
	"github.com/zombar/matchscheduler/api"
	"github.com/zombar/matchscheduler/config"
	"github.com/zombar/matchscheduler/db"
	"github.com/zombar/matchscheduler/pkg/logging"
	"github.com/zombar/matchscheduler/pkg/tracing"
)

func main() {
	// Command-line flags (override config file and environment)
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to YAML config file")
	port := flag.String("port", "", "Server port")
	engineURL := flag.String("engine-url", "", "Extraction engine base URL")
	disableCORS := flag.Bool("disable-cors", false, "Disable CORS")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Addr = ":" + *port
	}
	if *engineURL != "" {
		cfg.Engine.URL = *engineURL
	}
	if *disableCORS {
		cfg.CORSEnabled = false
	}

	// Setup structured logging with JSON output
	logger := logging.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("match scheduler initializing", "version", "1.0.0")

	// Initialize tracing
	tp, err := tracing.InitTracer("matchscheduler")
	if err != nil {
		logger.Warn("failed to initialize tracer, continuing without tracing", "error", err)
	} else {
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Error("error shutting down tracer", "error", err)
			}
		}()
		logger.Info("tracing initialized successfully")
	}

	// Create server configuration
	serverConfig := api.Config{
		Addr: cfg.Addr,
		DBConfig: db.Config{
			Driver: cfg.Database.Driver,
			DSN:    cfg.Database.DSN,
		},
		HistoryPath:   cfg.HistoryPath,
		EngineURL:     cfg.Engine.URL,
		EngineTimeout: cfg.Engine.Timeout,
		SchedulerConfig: scheduler.Config{
			PollSpec: cfg.Scheduler.PollSpec,
		},
		RateLimitRPS:   cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst: cfg.RateLimit.Burst,
		CORSEnabled:    cfg.CORSEnabled,
		Defaults:       cfg.Defaults,
	}

	// Create server
	server, err := api.NewServer(serverConfig)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Start server in a goroutine
	go func() {
		logger.Info("match scheduler starting",
			"addr", cfg.Addr,
			"db_driver", cfg.Database.Driver,
			"engine_url", cfg.Engine.URL,
			"poll", cfg.Scheduler.PollSpec,
		)

		if err := server.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	logger.Info("shutting down gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
