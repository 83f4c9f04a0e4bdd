// Package redis guards order submissions against client retries.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	submissionKeyPrefix = "submission:"
	inFlight            = "-"
	DefaultKeyTTL       = 24 * time.Hour
	InFlightTTL         = 2 * time.Minute
)

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// SubmissionKeys maps a caller's idempotency key to the order it created.
type SubmissionKeys struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewSubmissionKeys(client redis.Cmdable, ttl time.Duration) *SubmissionKeys {
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	return &SubmissionKeys{client: client, ttl: ttl}
}

func submissionKey(key string) string {
	return submissionKeyPrefix + key
}

// Claim tries to take key for a new submission. When the key is already held,
// claimed is false and orderID is the order created under it, or empty while
// that submission is still in flight. The in-flight marker expires after
// InFlightTTL so a crashed submission frees its key.
func (s *SubmissionKeys) Claim(ctx context.Context, key string) (claimed bool, orderID string, err error) {
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, submissionKey(key), inFlight, s.inFlightTTL()).Result()
		if err != nil {
			return false, "", err
		}
		if ok {
			return true, "", nil
		}

		val, err := s.client.Get(ctx, submissionKey(key)).Result()
		if errors.Is(err, redis.Nil) {
			// Expired or released between the two calls.
			continue
		}
		if err != nil {
			return false, "", err
		}
		if val == inFlight {
			return false, "", nil
		}
		return false, val, nil
	}
	return false, "", nil
}

func (s *SubmissionKeys) inFlightTTL() time.Duration {
	if s.ttl < InFlightTTL {
		return s.ttl
	}
	return InFlightTTL
}

// Complete records the order created under key.
func (s *SubmissionKeys) Complete(ctx context.Context, key, orderID string) error {
	return s.client.Set(ctx, submissionKey(key), orderID, s.ttl).Err()
}

// Release frees key after a failed submission so the caller can retry it.
func (s *SubmissionKeys) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, submissionKey(key)).Err()
}
