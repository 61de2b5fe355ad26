package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/smukkama/leak-server/internal/observability"
	"github.com/smukkama/leak-server/internal/simulator"
	"github.com/smukkama/leak-server/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.InitLogger(cfg.Log)

	fleet, err := simulator.LoadFleet(cfg.Simulator.FleetFile)
	if err != nil {
		log.Fatalf("Failed to load fleet: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim := simulator.New(
		cfg.Simulator.TargetURL,
		cfg.Simulator.Interval,
		fleet,
		simulator.NewGenerator(cfg.Simulator.Seed, cfg.Simulator.LeakRate),
		logger,
	)

	logger.Info("starting sensor simulation",
		slog.Int("sensors", len(fleet.Sensors)),
		slog.String("target", cfg.Simulator.TargetURL),
		slog.Duration("interval", cfg.Simulator.Interval),
		slog.Float64("leak_rate", cfg.Simulator.LeakRate),
	)

	_ = sim.Run(ctx)
	logger.Info("simulation stopped")
}
