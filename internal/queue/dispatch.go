package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrDiscard marks a message that can never be handled, such as one that does
// not decode. Dispatch commits it instead of retrying.
var ErrDiscard = errors.New("discard message")

// HandlerFunc processes one consumed message
type HandlerFunc func(ctx context.Context, msg kafka.Message) error

// Dispatch feeds messages from src to handle until ctx is cancelled. A failing
// message is retried with backoff before the next one is consumed, so the
// offset is only committed once handle succeeds or returns an error wrapping
// ErrDiscard.
func Dispatch(ctx context.Context, src MessageSource, handle HandlerFunc, logger *slog.Logger, opts ...Option) error {
	o := buildOptions(opts)

	for {
		msg, err := src.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("failed to consume message", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		err = retryMessage(ctx, o.backoff, logger, msg, func() error { return handle(ctx, msg) })
		if err != nil {
			if !errors.Is(err, ErrDiscard) {
				// ctx is done; leave the offset for the next consumer.
				return err
			}
			logger.Error("discarding message",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
		}

		if err := src.Commit(ctx, msg); err != nil {
			logger.Error("failed to commit offset", "offset", msg.Offset, "error", err)
		}
	}
}
