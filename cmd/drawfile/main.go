// Command drawfile serves Excalidraw drawing files over HTTP: load, metadata
// probe, save with atomic writes and a rotating backup ring.
//
// Usage:
//
//	drawfile -config drawfile.yaml         # run with config file
//	drawfile -data ./drawings              # run with defaults
//	drawfile -data ./drawings -listen :8080
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/hazyhaar/drawfile"
)

func main() {
	// Best-effort: a missing .env is not an error.
	godotenv.Load()

	configPath := flag.String("config", os.Getenv("DRAWFILE_CONFIG"), "path to drawfile.yaml config file")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	dataRoot := flag.String("data", "", "directory served files are confined to (overrides config)")
	obsDB := flag.String("observability-db", "", "SQLite path for event logs (overrides config)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	cfg, err := drawfile.LoadConfig(*configPath)
	if err != nil {
		slog.Error("drawfile: config", "error", err)
		os.Exit(1)
	}
	applyOverrides(cfg, *listen, *dataRoot, *obsDB, *logLevel)
	if err := cfg.Validate(); err != nil {
		slog.Error("drawfile: config", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := drawfile.NewService(cfg, logger)
	if err != nil {
		logger.Error("drawfile: init", "error", err)
		os.Exit(1)
	}

	if err := svc.Run(ctx); err != nil {
		logger.Error("drawfile: fatal", "error", err)
		os.Exit(1)
	}
	logger.Info("drawfile: stopped")
}

// applyOverrides layers flags and environment over the file config.
// Precedence: flag > env > config file > default.
func applyOverrides(cfg *drawfile.Config, listen, dataRoot, obsDB, logLevel string) {
	if v := os.Getenv("DRAWFILE_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("DRAWFILE_DATA_ROOT"); v != "" {
		cfg.DataRoot = v
	}
	if v := os.Getenv("DRAWFILE_OBSERVABILITY_DB"); v != "" {
		cfg.ObservabilityDB = v
	}
	if v := os.Getenv("DRAWFILE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if dataRoot != "" {
		cfg.DataRoot = dataRoot
	}
	if obsDB != "" {
		cfg.ObservabilityDB = obsDB
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
}
