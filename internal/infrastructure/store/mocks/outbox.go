package mocks

import (
	"context"

	"github.com/example/ec-order-saga/internal/outbox"
)

// memOutbox is an outbox table held in memory. Callers hold the owning store's lock.
type memOutbox struct {
	records []outbox.Record
	sent    map[string]bool
}

func newMemOutbox() memOutbox {
	return memOutbox{sent: make(map[string]bool)}
}

func (o *memOutbox) add(rec outbox.Record) {
	o.records = append(o.records, rec)
}

func (o *memOutbox) relay(ctx context.Context, limit int, publish outbox.PublishFunc) (int, error) {
	n := 0
	for _, rec := range o.records {
		if n == limit {
			break
		}
		if o.sent[rec.ID] {
			continue
		}
		if err := publish(ctx, rec); err != nil {
			return n, err
		}
		o.sent[rec.ID] = true
		n++
	}
	if n == 0 {
		return 0, outbox.ErrNothingToRelay
	}
	return n, nil
}

func (o *memOutbox) all() []outbox.Record {
	return append([]outbox.Record(nil), o.records...)
}

func (o *memOutbox) pending() []outbox.Record {
	var out []outbox.Record
	for _, rec := range o.records {
		if !o.sent[rec.ID] {
			out = append(out, rec)
		}
	}
	return out
}
