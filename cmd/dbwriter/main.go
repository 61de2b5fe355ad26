package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/smukkama/leak-server/internal/database"
	"github.com/smukkama/leak-server/internal/observability"
	"github.com/smukkama/leak-server/internal/queue"
	"github.com/smukkama/leak-server/pkg/config"
)

const (
	batchSize     = 100
	flushInterval = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.InitLogger(cfg.Log)
	logger.Info("starting database writer service")

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations("migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("connected to database, migrations applied")

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPredictions, "dbwriter-group")
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	batchWriter := queue.NewBatchWriter(consumer, db, batchSize, flushInterval, logger)
	batchWriter.Start(ctx)
	logger.Info("batch writer started",
		slog.Int("batch_size", batchSize), slog.Duration("flush_interval", flushInterval))

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := consumer.Stats()
				logger.Info("consumer stats",
					slog.Int64("messages", stats.Messages),
					slog.Int64("bytes", stats.Bytes),
					slog.Int64("errors", stats.Errors))
			}
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down gracefully")
	batchWriter.Stop()
	logger.Info("database writer stopped")
}
