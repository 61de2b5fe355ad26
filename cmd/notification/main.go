package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"
	"github.com/smukkama/leak-server/internal/notification"
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
	logger.Info("starting notification service")

	notifier := notification.NewEmailNotifier(&cfg.SMTP, logger)

	// Optional: without SMTP the notifications are only logged
	if err := notifier.TestConnection(); err != nil {
		logger.Info("email delivery disabled, notifications will be logged only", "reason", err)
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlarms, "notification-group")
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("notification service running", "topic", cfg.Kafka.TopicAlarms)

	err = queue.Dispatch(ctx, consumer, func(_ context.Context, msg kafka.Message) error {
		alarm, err := protocol.DecodeAlarmNotification(msg.Value)
		if err != nil {
			return fmt.Errorf("%w: %v", queue.ErrDiscard, err)
		}
		// Send failures are retried by Dispatch before the next alarm is read
		return notifier.SendAlarmNotification(alarm)
	}, logger)

	logger.Info("notification service stopped", "reason", err)
}
