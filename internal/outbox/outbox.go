// Package outbox carries facts from a service's own database to the event channel.
//
// A producer writes its state change and an outbox Record in one transaction. A Relay
// later publishes pending records and marks them sent, so a fact is never lost between
// the commit and the publish. Publishing is at-least-once; consumers deduplicate.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/example/ec-order-saga/internal/events"
)

var ErrNothingToRelay = errors.New("no pending outbox records")

type Record struct {
	ID        string
	Topic     string
	Key       string
	Payload   []byte
	Headers   map[string]string
	CreatedAt time.Time
}

// NewRecord encodes p into a pending record addressed to p's queue. The trace context
// carried by ctx is stored with the record so the relay can continue the same trace.
func NewRecord(ctx context.Context, p events.Payload) (Record, error) {
	env, data, err := events.Encode(p)
	if err != nil {
		return Record{}, err
	}

	headers := propagation.MapCarrier{
		"event-id":   env.ID,
		"event-kind": env.Kind,
	}
	otel.GetTextMapPropagator().Inject(ctx, headers)

	return Record{
		ID:        uuid.New().String(),
		Topic:     p.Queue(),
		Key:       p.Key(),
		Payload:   data,
		Headers:   headers,
		CreatedAt: env.OccurredAt,
	}, nil
}

// PublishFunc publishes a single record. A non-nil error stops the current batch.
type PublishFunc func(ctx context.Context, rec Record) error

// Store is implemented by every database that owns an outbox table.
type Store interface {
	// RelayBatch claims up to limit unsent records in creation order, calls publish for
	// each and marks the successfully published ones sent. Records claimed by another
	// relay instance are skipped. It returns how many records were marked sent.
	RelayBatch(ctx context.Context, limit int, publish PublishFunc) (int, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}
