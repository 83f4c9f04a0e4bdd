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
	"github.com/example/ec-order-saga/internal/reconciler"
)

const serviceName = "reconciler"

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

	logger.Info("========================================")
	logger.Info("EC Shop - Order Status Reconciler")
	logger.Info("========================================")
	logger.Info("configuration",
		zap.Strings("kafka", cfg.KafkaBrokers),
		zap.Strings("topics", []string{events.QueueStockUpdated, events.QueueOrderRejected}))

	db, err := store.ConnectPostgres(cfg.OrdersDatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
	}
	defer db.Close()

	orders := store.NewPostgresOrderStore(db)
	if err := orders.Migrate(ctx); err != nil {
		logger.Fatal("failed to migrate order store", zap.Error(err))
	}
	logger.Info("connected to PostgreSQL (order store)")

	// Only dead letters are published from here.
	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	r := reconciler.NewReconciler(orders, logger)
	roles := []struct {
		topic   string
		role    string
		handler kafka.MessageHandler
	}{
		{events.QueueStockUpdated, "order-confirmer", r.HandleStockUpdated},
		{events.QueueOrderRejected, "order-rejecter", r.HandleOrderRejected},
	}

	var wg sync.WaitGroup
	for _, role := range roles {
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, role.topic, cfg.GroupID(role.role), producer, logger,
			kafka.WithMaxAttempts(cfg.ConsumerMaxAttempts),
			kafka.WithInitialInterval(cfg.ConsumerRetryInitialInterval))
		defer consumer.Close()

		wg.Add(1)
		go func(topic string, handler kafka.MessageHandler) {
			defer wg.Done()
			logger.Info("starting consumer", zap.String("topic", topic))
			if err := consumer.Consume(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("consumer stopped", zap.String("topic", topic), zap.Error(err))
				cancel()
			}
		}(role.topic, role.handler)
	}

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
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", zap.Error(err))
	}
}
