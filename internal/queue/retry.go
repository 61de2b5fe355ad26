package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Backoff bounds the delay between attempts at a failing message. The delay
// starts at Initial and doubles up to Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff is used when no WithBackoff option is given.
var DefaultBackoff = Backoff{Initial: 200 * time.Millisecond, Max: 30 * time.Second}

type options struct {
	backoff Backoff
}

// Option configures Dispatch and BatchWriter.
type Option func(*options)

// WithBackoff sets the retry delay bounds for failed messages.
func WithBackoff(b Backoff) Option {
	return func(o *options) {
		if b.Initial > 0 {
			o.backoff.Initial = b.Initial
		}
		if b.Max >= o.backoff.Initial {
			o.backoff.Max = b.Max
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{backoff: DefaultBackoff}
	for _, opt := range opts {
		opt(&o)
	}
	if o.backoff.Max < o.backoff.Initial {
		o.backoff.Max = o.backoff.Initial
	}
	return o
}

// retryMessage runs fn until it succeeds, returns an error wrapping ErrDiscard,
// or ctx is done. A consumer group only tracks the highest committed offset, so
// moving on to the next message would lose this one once that is committed.
func retryMessage(ctx context.Context, b Backoff, logger *slog.Logger, msg kafka.Message, fn func() error) error {
	delay := b.Initial
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || errors.Is(err, ErrDiscard) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Warn("failed to handle message, retrying",
			"partition", msg.Partition, "offset", msg.Offset,
			"attempt", attempt, "retry_in", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, b.Max)
	}
}
