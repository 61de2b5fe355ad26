package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/smukkama/leak-server/internal/aggregation"
	"github.com/smukkama/leak-server/internal/database"
	"github.com/smukkama/leak-server/internal/observability"
	"github.com/smukkama/leak-server/internal/timer"
	"github.com/smukkama/leak-server/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.InitLogger(cfg.Log)
	logger.Info("starting aggregation service")

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	timers := timer.NewManager(2)
	timers.Start()
	defer timers.Stop()

	scheduler := aggregation.NewScheduler(ctx, timers,
		aggregation.NewHourlyAggregator(db, logger),
		aggregation.NewDailyAggregator(db, logger),
		logger,
	)

	if err := scheduler.ScheduleHourly(cfg.Aggregation.HourlyDelay); err != nil {
		log.Fatalf("Failed to schedule hourly aggregation: %v", err)
	}
	if err := scheduler.ScheduleDaily(cfg.Aggregation.DailyTime); err != nil {
		log.Fatalf("Failed to schedule daily aggregation: %v", err)
	}

	logger.Info("aggregation service running")

	<-ctx.Done()
	logger.Info("shutting down gracefully", "pending_tasks", timers.Stats().ScheduledTasks)
}
