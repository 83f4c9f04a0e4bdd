package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/example/ec-order-saga/internal/config"
	"github.com/example/ec-order-saga/internal/events"
	"github.com/example/ec-order-saga/internal/infrastructure/kafka"
	"github.com/example/ec-order-saga/internal/infrastructure/store"
	"github.com/example/ec-order-saga/internal/observability"
	"github.com/example/ec-order-saga/internal/outbox"
	"github.com/example/ec-order-saga/internal/reservation"
)

const serviceName = "reservation-worker"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, err := observability.NewLogger(serviceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	shutdownTracing, err := observability.SetupTracing(ctx, serviceName, config.ServiceVersion, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}

	groupID := cfg.GroupID(serviceName)
	logger.Info("========================================")
	logger.Info("EC Shop - Inventory Reservation Worker")
	logger.Info("========================================")
	logger.Info("configuration",
		zap.Strings("kafka", cfg.KafkaBrokers),
		zap.String("topic", events.QueueOrderCreated),
		zap.String("group", groupID),
		zap.Int("max_attempts", cfg.ConsumerMaxAttempts))

	pool, err := store.ConnectPool(ctx, cfg.InventoryDatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pool.Close()

	inventory := store.NewPostgresInventoryStore(pool)
	if err := inventory.Migrate(ctx); err != nil {
		logger.Fatal("failed to migrate inventory store", zap.Error(err))
	}
	logger.Info("connected to PostgreSQL (inventory store)")

	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	handler := reservation.NewHandler(inventory, logger)
	consumer := kafka.NewConsumer(cfg.KafkaBrokers, events.QueueOrderCreated, groupID, producer, logger,
		kafka.WithMaxAttempts(cfg.ConsumerMaxAttempts),
		kafka.WithInitialInterval(cfg.ConsumerRetryInitialInterval))
	defer consumer.Close()

	relay := outbox.NewRelay(inventory, producer, logger,
		outbox.WithInterval(cfg.RelayInterval),
		outbox.WithBatchSize(cfg.RelayBatchSize))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		logger.Info("starting outbox relay")
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox relay stopped", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		logger.Info("starting consumer", zap.String("topic", events.QueueOrderCreated))
		if err := consumer.Consume(ctx, handler.HandleOrderCreated); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("consumer stopped", zap.Error(err))
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if n, err := relay.Flush(shutdownCtx); err != nil {
		logger.Warn("final outbox flush failed", zap.Int("published", n), zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", zap.Error(err))
	}
}
