package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/smukkama/leak-server/internal/api"
	"github.com/smukkama/leak-server/internal/model"
	"github.com/smukkama/leak-server/internal/observability"
	"github.com/smukkama/leak-server/internal/predict"
	"github.com/smukkama/leak-server/internal/queue"
	"github.com/smukkama/leak-server/internal/sensorstate"
	"github.com/smukkama/leak-server/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.InitLogger(cfg.Log)
	logger.Info("starting leak detection server", slog.String("backend", cfg.Model.Backend))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Artifact store is only needed when the model is fetched from S3
	var store model.ArtifactFetcher
	if cfg.Model.ArtifactKey != "" {
		s, err := model.NewArtifactStore(cfg.S3)
		if err != nil {
			log.Fatalf("Failed to create artifact store: %v", err)
		}
		store = s
	}

	backend, err := model.NewBackend(ctx, cfg.Model, store, logger)
	if err != nil {
		log.Fatalf("Failed to load model backend: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Predictions are still served; the sensor cache is best effort
		logger.Warn("redis unreachable, sensor state cache degraded", "error", err)
	}
	states := sensorstate.NewStore(redisClient)

	for _, topic := range []string{cfg.Kafka.TopicPredictions, cfg.Kafka.TopicRetrain} {
		if err := queue.CreateTopic(cfg.Kafka.Brokers, topic, cfg.Kafka.NumPartitions, 1); err != nil {
			logger.Info("topic creation skipped (may already exist)", "topic", topic, "error", err)
		}
	}

	predictions := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPredictions)
	defer predictions.Close()
	retrain := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicRetrain)
	defer retrain.Close()

	metrics := observability.NewMetrics()

	svc := predict.NewService(backend.Classifier, backend.Schema, cfg.Model.Threshold, logger,
		predict.WithStateStore(states),
		predict.WithPublisher(predictions),
		predict.WithRecorder(metrics),
	)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Deps{
		Service:      svc,
		Backend:      backend.Name,
		Artifact:     backend.Artifact,
		Sensors:      states,
		RetrainQueue: retrain,
		Metrics:      metrics,
		Logger:       logger,
		CORSOrigins:  cfg.HTTP.CORSOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
