package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"payrecon/internal/api"
	"payrecon/internal/chain"
	"payrecon/internal/config"
	"payrecon/internal/publisher"
	"payrecon/internal/rates"
	"payrecon/internal/reconciler"
	"payrecon/internal/repository"
	"payrecon/internal/tokens"
)

func main() {
	// Initialize zap logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	// Load configuration from environment variables
	cfg := config.NewConfig()

	logger.Info("Starting payment reconciliation service",
		zap.String("rpc_url", cfg.RpcURL),
		zap.String("ws_url", cfg.WsURL),
		zap.String("kafka_broker", cfg.KafkaBroker),
		zap.String("kafka_topic", cfg.KafkaTopic),
		zap.String("payment_contract", cfg.PaymentContract),
		zap.Uint64("confirmations", cfg.Confirmations),
		zap.Uint64("chunk_size", cfg.ChunkSize),
		zap.Int("api_port", cfg.APIPort),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := sql.Open("postgres", cfg.DbURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize database tables
	if err := repository.InitMigration(db); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	watermarkRepository := repository.NewWatermarkRepository(db, logger)
	orderRepository := repository.NewOrderRepository(db, logger)
	outboxRepository := repository.NewOutboxRepository(db, logger)

	registry := tokens.NewRegistry()

	// Exchange rate cache with periodic refresh
	var rateSource rates.Source
	if cfg.RateSourceURL != "" {
		rateSource = rates.NewHTTPSource(cfg.RateSourceURL, registry.Symbols())
	} else {
		logger.Warn("RATE_SOURCE_URL not set, using static seed rates")
		rateSource = rates.NewSeedSource()
	}
	rateCache := rates.NewCache(rateSource, cfg.RefreshInterval, logger)
	go rateCache.Start(ctx)

	// Verifier uses a long-lived HTTP RPC connection
	verifierClient, err := ethclient.DialContext(ctx, cfg.RpcURL)
	if err != nil {
		logger.Fatal("Failed to connect to Ethereum client", zap.Error(err))
	}
	defer verifierClient.Close()

	contract := common.HexToAddress(cfg.PaymentContract)
	verifier := chain.NewVerifier(verifierClient, contract, cfg.Confirmations, logger)

	rec := reconciler.NewReconciler(orderRepository, verifier, registry, cfg.AmountToleranceBP, logger)

	// Chain listener dials its own websocket connection so reconnects get a
	// fresh transport
	listener := chain.NewListener(
		func(ctx context.Context) (chain.Client, error) {
			return ethclient.DialContext(ctx, cfg.WsURL)
		},
		contract,
		rec,
		watermarkRepository,
		cfg.Confirmations,
		cfg.ChunkSize,
		cfg.IdleTimeout,
		logger,
	)
	go func() {
		if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Chain listener stopped", zap.Error(err))
		}
	}()

	// Outbox publisher ships status events to Kafka
	statusPublisher, err := publisher.NewPublisher(cfg.KafkaBroker, cfg.KafkaTopic, logger, outboxRepository)
	if err != nil {
		logger.Fatal("Failed to create Kafka publisher", zap.Error(err))
	}
	defer statusPublisher.Close()
	go statusPublisher.Start(ctx)

	// Create and start API server
	apiServer := api.NewServer(
		cfg.APIPort,
		api.NewBlockchainHandler(rec, verifier, orderRepository, logger),
		api.NewRatesHandler(rateCache, logger),
		api.NewIntentHandler(orderRepository, rateCache, registry, logger),
		logger,
	)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	<-sigChan
	logger.Info("Received shutdown signal, starting graceful shutdown...")

	// Stop background work, then drain the API server
	cancel()
	listener.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error shutting down API server", zap.Error(err))
	}

	logger.Info("Application shutdown complete")
}
