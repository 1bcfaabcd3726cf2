package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"visitorlog/internal/app"
	"visitorlog/internal/audit"
	"visitorlog/internal/config"
	"visitorlog/internal/logging"
)

// Worker drains the audit queue into the audit_log table.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel)

	if cfg.QueueBackend == "memory" {
		logger.Error("the worker needs QUEUE_BACKEND=redis; with the in-memory queue the api persists audit events itself")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open backends", "error", err)
		os.Exit(1)
	}
	defer res.Close()

	worker := audit.NewWorker(res.Backend, res.Queue, logger.With("component", "audit"))
	if err := worker.Run(ctx); err != nil {
		logger.Error("worker terminated", "error", err)
		os.Exit(1)
	}
}
