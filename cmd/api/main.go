package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"

	"visitorlog/internal/app"
	"visitorlog/internal/config"
	"visitorlog/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open backends", "error", err)
		os.Exit(1)
	}
	defer res.Close()

	api, err := app.NewAPI(cfg, res, prometheus.DefaultRegisterer, logger)
	if err != nil {
		logger.Error("failed to build api", "error", err)
		os.Exit(1)
	}
	if err := api.Run(ctx); err != nil {
		logger.Error("server terminated", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited")
}
