package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/smukkama/leak-server/internal/database"
	"github.com/smukkama/leak-server/internal/protocol"
)

// PredictionStore is the persistence the batch writer needs.
type PredictionStore interface {
	UpsertSensor(ctx context.Context, s *database.Sensor) error
	InsertPrediction(ctx context.Context, p *database.Prediction) error
}

// BatchWriter consumes prediction events from Kafka and batch-writes them to the database
type BatchWriter struct {
	source        MessageSource
	store         PredictionStore
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration
	backoff       Backoff
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(source MessageSource, store PredictionStore, batchSize int, flushInterval time.Duration, logger *slog.Logger, opts ...Option) *BatchWriter {
	if batchSize < 1 {
		batchSize = 1
	}
	o := buildOptions(opts)
	return &BatchWriter{
		source:        source,
		store:         store,
		logger:        logger,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		backoff:       o.backoff,
		stopCh:        make(chan struct{}),
	}
}

// Start begins consuming and writing to database
func (bw *BatchWriter) Start(ctx context.Context) {
	bw.wg.Add(1)
	go bw.run(ctx)
}

// Stop flushes the pending batch and waits for the writer to exit
func (bw *BatchWriter) Stop() {
	close(bw.stopCh)
	bw.wg.Wait()
}

func (bw *BatchWriter) run(ctx context.Context) {
	defer bw.wg.Done()

	// runCtx also ends on Stop so a flush stuck retrying a failed write returns.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-bw.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	var batch []kafka.Message
	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	msgChan := make(chan kafka.Message, bw.batchSize)
	go func() {
		defer close(msgChan)
		for {
			msg, err := bw.source.Consume(runCtx)
			if err != nil {
				if runCtx.Err() != nil {
					return
				}
				bw.logger.Error("consumer error", "error", err)
				time.Sleep(time.Second)
				continue
			}
			select {
			case msgChan <- msg:
			case <-runCtx.Done():
				return
			}
		}
	}()

	// The pending batch is flushed with a fresh context on shutdown so
	// cancellation does not drop it.
	drain := func() {
		if len(batch) > 0 {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
			bw.flush(flushCtx, batch)
			flushCancel()
			batch = nil
		}
	}

	for {
		select {
		case <-runCtx.Done():
			drain()
			return

		case <-ticker.C:
			if len(batch) > 0 {
				bw.logger.Debug("flush interval reached", "messages", len(batch))
				if !bw.flush(runCtx, batch) {
					return
				}
				batch = nil
			}

		case msg, ok := <-msgChan:
			if !ok {
				drain()
				return
			}
			batch = append(batch, msg)

			if len(batch) >= bw.batchSize {
				if !bw.flush(runCtx, batch) {
					return
				}
				batch = nil
			}
		}
	}
}

// flush writes the batch in offset order. A failing write is retried until it
// succeeds or ctx is done. In the latter case flush reports false and nothing
// from that message on is committed, so the group resumes at the failed event.
func (bw *BatchWriter) flush(ctx context.Context, batch []kafka.Message) bool {
	successCount := 0
	for i, msg := range batch {
		err := retryMessage(ctx, bw.backoff, bw.logger, msg, func() error { return bw.processMessage(ctx, msg) })
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, ErrDiscard):
			bw.logger.Error("discarding prediction event",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
		default:
			bw.logger.Error("stopped flushing prediction batch",
				"offset", msg.Offset, "unwritten", len(batch)-i, "error", err)
			return false
		}

		if err := bw.source.Commit(ctx, msg); err != nil {
			bw.logger.Error("failed to commit offset", "offset", msg.Offset, "error", err)
		}
	}

	bw.logger.Info("flushed prediction batch", "written", successCount, "batch", len(batch))
	return true
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "failed to decode message: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// Is lets undecodable events follow the ErrDiscard commit policy.
func (e *decodeError) Is(target error) bool { return target == ErrDiscard }

func (bw *BatchWriter) processMessage(ctx context.Context, msg kafka.Message) error {
	ev, err := protocol.DecodePredictionEvent(msg.Value)
	if err != nil {
		return &decodeError{err: err}
	}
	if ev.SensorID == "" || ev.PredictionID == "" {
		return &decodeError{err: fmt.Errorf("event missing sensor_id or prediction_id")}
	}

	// Events without coordinates keep the stored ones
	sensor := &database.Sensor{SensorID: ev.SensorID, Lat: ev.Lat, Lng: ev.Lng}
	if err := bw.store.UpsertSensor(ctx, sensor); err != nil {
		return fmt.Errorf("failed to upsert sensor: %w", err)
	}

	if err := bw.store.InsertPrediction(ctx, PredictionFromEvent(ev)); err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}

	return nil
}

// PredictionFromEvent maps a published prediction event to its database row.
func PredictionFromEvent(ev *protocol.PredictionEvent) *database.Prediction {
	return &database.Prediction{
		PredictionID:      ev.PredictionID,
		SensorID:          ev.SensorID,
		ObservedAt:        ev.ObservedAt,
		ReceivedAt:        ev.ReceivedAt,
		Pressure:          ev.Pressure,
		Flow:              ev.Flow,
		Temperature:       ev.Temperature,
		LeakProbability:   ev.LeakProbability,
		Prediction:        ev.Prediction,
		Confidence:        ev.Confidence,
		ThresholdExceeded: ev.ThresholdExceeded,
		Threshold:         ev.Threshold,
		ModelID:           ev.ModelID,
	}
}
