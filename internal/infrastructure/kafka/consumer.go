package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Outcome tells the consumer what to do with a delivery after the handler ran.
type Outcome int

const (
	// Processed acknowledges the delivery.
	Processed Outcome = iota
	// Retryable redelivers to the handler after a backoff, up to the attempt limit.
	Retryable
	// Fatal dead-letters the delivery without retrying.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Processed:
		return "processed"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type MessageHandler func(ctx context.Context, key, value []byte) (Outcome, error)

// Reader is the subset of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type DeadLetterPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}

const (
	HeaderError         = "x-error"
	HeaderAttempts      = "x-attempts"
	HeaderOriginalTopic = "x-original-topic"
)

const (
	DefaultMaxAttempts     = 5
	DefaultInitialInterval = 200 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
)

func DeadLetterTopic(topic string) string {
	return topic + ".dead-letter"
}

type Consumer struct {
	reader          Reader
	topic           string
	deadLetter      DeadLetterPublisher
	maxAttempts     int
	initialInterval time.Duration
	tracer          trace.Tracer
	logger          *zap.Logger
}

type ConsumerOption func(*Consumer)

func WithMaxAttempts(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithInitialInterval(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.initialInterval = d
		}
	}
}

// NewConsumer joins groupID on topic. Every instance of one logical role shares a
// group id, so each delivery reaches exactly one of them.
func NewConsumer(brokers []string, topic, groupID string, deadLetter DeadLetterPublisher, logger *zap.Logger, opts ...ConsumerOption) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})
	return NewConsumerWithReader(reader, topic, deadLetter, logger, opts...)
}

func NewConsumerWithReader(reader Reader, topic string, deadLetter DeadLetterPublisher, logger *zap.Logger, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		reader:          reader,
		topic:           topic,
		deadLetter:      deadLetter,
		maxAttempts:     DefaultMaxAttempts,
		initialInterval: DefaultInitialInterval,
		tracer:          otel.Tracer("github.com/example/ec-order-saga/internal/infrastructure/kafka"),
		logger:          logger.Named("consumer").With(zap.String("topic", topic)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Consume processes deliveries one at a time until ctx is done or the reader is
// closed. A delivery is committed only once it was processed or dead-lettered.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("consumer started", zap.Int("max_attempts", c.maxAttempts))
	fetchBackoff := c.newBackOff()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				c.logger.Info("reader closed")
				return nil
			}
			wait := fetchBackoff.NextBackOff()
			c.logger.Error("fetch failed", zap.Duration("retry_in", wait), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		fetchBackoff.Reset()

		if err := c.process(ctx, msg, handler); err != nil {
			return err
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message, handler MessageHandler) error {
	topic := msg.Topic
	if topic == "" {
		topic = c.topic
	}
	log := c.logger.With(
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.ByteString("key", msg.Key))

	hctx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(fromHeaders(msg.Headers)))
	hctx, span := c.tracer.Start(hctx, topic+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", topic),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		))
	defer span.End()

	attempts := 0
	operation := func() error {
		attempts++
		outcome, err := invoke(hctx, handler, msg)
		switch outcome {
		case Processed:
			if err != nil {
				log.Warn("handler reported error with processed outcome", zap.Error(err))
			}
			return nil
		case Fatal:
			if err == nil {
				err = errors.New("fatal outcome")
			}
			return backoff.Permanent(err)
		default:
			if err == nil {
				err = errors.New("retryable outcome")
			}
			return err
		}
	}

	b := c.newBackOff()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, next time.Duration) {
		log.Warn("handler failed, retrying",
			zap.Int("attempt", attempts),
			zap.Duration("retry_in", next),
			zap.Error(err))
	})
	if err != nil {
		if ctx.Err() != nil {
			// Uncommitted; the group redelivers it after restart.
			return ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("dead-lettering delivery", zap.Int("attempt", attempts), zap.Error(err))
		if dlqErr := c.sendToDeadLetter(ctx, topic, msg, err, attempts); dlqErr != nil {
			return dlqErr
		}
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Redelivery is harmless: every handler is idempotent.
		log.Error("commit failed", zap.Error(err))
	}
	return nil
}

// invoke turns a handler panic into a fatal outcome instead of killing the worker.
func invoke(ctx context.Context, handler MessageHandler, msg kafka.Message) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = Fatal, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg.Key, msg.Value)
}

// sendToDeadLetter retries until the dead-letter write succeeds or ctx is done;
// the delivery must not be committed before it is parked somewhere durable.
func (c *Consumer) sendToDeadLetter(ctx context.Context, topic string, msg kafka.Message, cause error, attempts int) error {
	headers := fromHeaders(msg.Headers)
	headers[HeaderError] = cause.Error()
	headers[HeaderAttempts] = strconv.Itoa(attempts)
	headers[HeaderOriginalTopic] = topic

	b := c.newBackOff()

	dlq := DeadLetterTopic(topic)
	return backoff.RetryNotify(func() error {
		return c.deadLetter.Publish(ctx, dlq, string(msg.Key), msg.Value, headers)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		c.logger.Error("dead-letter publish failed",
			zap.String("dead_letter_topic", dlq),
			zap.Duration("retry_in", next),
			zap.Error(err))
	})
}

func (c *Consumer) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxInterval = defaultMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
