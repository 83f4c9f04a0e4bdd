package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const (
	DefaultInterval  = 500 * time.Millisecond
	DefaultBatchSize = 100
)

type Relay struct {
	store     Store
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

type RelayOption func(*Relay)

func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func NewRelay(store Store, publisher Publisher, logger *zap.Logger, opts ...RelayOption) *Relay {
	r := &Relay{
		store:     store,
		publisher: publisher,
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
		logger:    logger.Named("outbox-relay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls the store until ctx is done. Failed batches are retried on an
// exponentially growing delay that resets after the next successful pass.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("relay started",
		zap.Duration("interval", r.interval),
		zap.Int("batch_size", r.batchSize))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.interval
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	delay := r.interval
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-timer.C:
		}

		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			delay = b.NextBackOff()
			r.logger.Warn("relay pass failed", zap.Error(err), zap.Duration("retry_in", delay))
		} else {
			b.Reset()
			delay = r.interval
		}
		timer.Reset(delay)
	}
}

// Flush publishes pending records until the outbox is drained or a publish fails.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.store.RelayBatch(ctx, r.batchSize, r.publish)
		total += n
		if err != nil {
			if errors.Is(err, ErrNothingToRelay) {
				return total, nil
			}
			return total, err
		}
		if n < r.batchSize {
			return total, nil
		}
	}
}

func (r *Relay) publish(ctx context.Context, rec Record) error {
	// Publish under the trace that produced the record, not the relay's own context.
	pctx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(rec.Headers))
	if err := r.publisher.Publish(pctx, rec.Topic, rec.Key, rec.Payload, rec.Headers); err != nil {
		return err
	}
	r.logger.Debug("relayed record",
		zap.String("outbox_id", rec.ID),
		zap.String("topic", rec.Topic),
		zap.String("key", rec.Key))
	return nil
}
