package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/smukkama/leak-server/internal/alarming"
	"github.com/smukkama/leak-server/internal/database"
	"github.com/smukkama/leak-server/internal/observability"
	"github.com/smukkama/leak-server/internal/protocol"
	"github.com/smukkama/leak-server/internal/queue"
	"github.com/smukkama/leak-server/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.InitLogger(cfg.Log)
	logger.Info("starting alarming service")

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicAlarms, 1, 1); err != nil {
		logger.Info("topic creation skipped (may already exist)", "topic", cfg.Kafka.TopicAlarms, "error", err)
	}

	alarmProducer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlarms)
	defer alarmProducer.Close()

	stateManager := alarming.NewStateManager(redisClient)
	evaluator := alarming.NewEvaluator(db, stateManager, alarmProducer, cfg.Alarm, logger)

	// Announce alarms that were raised but not published before the last exit
	if states, err := stateManager.GetAllStates(ctx); err != nil {
		logger.Warn("failed to load alarm states", "error", err)
	} else if summary, err := evaluator.Recover(ctx, states); err != nil {
		logger.Warn("failed to recover alarm notifications", "error", err)
	} else {
		logger.Info("alarm states loaded",
			"pending", summary.Pending, "active", summary.Active, "renotified", summary.Renotified)
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPredictions, "alarming-group")
	defer consumer.Close()

	logger.Info("alarming service running", "topic", cfg.Kafka.TopicPredictions)

	err = queue.Dispatch(ctx, consumer, func(ctx context.Context, msg kafka.Message) error {
		ev, err := protocol.DecodePredictionEvent(msg.Value)
		if err != nil {
			return fmt.Errorf("%w: %v", queue.ErrDiscard, err)
		}
		return evaluator.EvaluatePrediction(ctx, ev)
	}, logger)

	logger.Info("alarming service stopped", "reason", err)
}
