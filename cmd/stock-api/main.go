package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/example/ec-order-saga/internal/api"
	"github.com/example/ec-order-saga/internal/auth"
	"github.com/example/ec-order-saga/internal/command"
	"github.com/example/ec-order-saga/internal/config"
	"github.com/example/ec-order-saga/internal/infrastructure/store"
	"github.com/example/ec-order-saga/internal/observability"
	"github.com/example/ec-order-saga/internal/query"
)

const serviceName = "stock-api"

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
	logger.Info("EC Shop - Stock API")
	logger.Info("========================================")

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

	handlers := api.NewStockHandlers(
		query.NewProductHandler(inventory),
		command.NewProductHandler(inventory, logger),
		logger)
	tokens := auth.NewTokenService(cfg.JWTSecret, 15*time.Minute)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewStockRouter(handlers, tokens, logger),
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
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", zap.Error(err))
	}
}
