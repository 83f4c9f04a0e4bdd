package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/example/ec-order-saga/internal/api"
	"github.com/example/ec-order-saga/internal/auth"
	"github.com/example/ec-order-saga/internal/command"
	"github.com/example/ec-order-saga/internal/config"
	"github.com/example/ec-order-saga/internal/infrastructure/kafka"
	"github.com/example/ec-order-saga/internal/infrastructure/redis"
	"github.com/example/ec-order-saga/internal/infrastructure/store"
	"github.com/example/ec-order-saga/internal/observability"
	"github.com/example/ec-order-saga/internal/outbox"
	"github.com/example/ec-order-saga/internal/query"
	"github.com/example/ec-order-saga/internal/stockclient"
)

const serviceName = "sales-api"

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
	if err := cfg.RequireJWT(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	shutdownTracing, err := observability.SetupTracing(ctx, serviceName, config.ServiceVersion, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}

	logger.Info("========================================")
	logger.Info("EC Shop - Sales API")
	logger.Info("========================================")
	logger.Info("configuration",
		zap.Strings("kafka", cfg.KafkaBrokers),
		zap.String("stock_service", cfg.StockServiceURL),
		zap.Bool("idempotency_keys", cfg.RedisURL != ""),
		zap.Bool("otlp_export", cfg.OTLPEndpoint != ""))

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

	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	var guard command.SubmissionGuard
	if cfg.RedisURL != "" {
		rdb, err := redis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer rdb.Close()
		guard = redis.NewSubmissionKeys(rdb, cfg.SubmissionKeyTTL)
		logger.Info("connected to Redis (submission keys)")
	}

	stock := stockclient.New(cfg.StockServiceURL, stockclient.WithTimeout(cfg.StockRequestTimeout))
	queries := query.NewHandler(orders, stock, logger)
	gateway := command.NewHandler(stock, orders, guard, queries, logger)
	tokens := auth.NewTokenService(cfg.JWTSecret, 15*time.Minute)

	relay := outbox.NewRelay(orders, producer, logger,
		outbox.WithInterval(cfg.RelayInterval),
		outbox.WithBatchSize(cfg.RelayBatchSize))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting outbox relay")
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox relay stopped", zap.Error(err))
		}
	}()

	router := api.NewSalesRouter(api.NewSalesHandlers(gateway, queries, logger), tokens, logger)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server started", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}

	cancel()
	wg.Wait()

	// Publish what the last requests committed.
	if n, err := relay.Flush(shutdownCtx); err != nil {
		logger.Warn("final outbox flush failed", zap.Int("published", n), zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", zap.Error(err))
	}
}
