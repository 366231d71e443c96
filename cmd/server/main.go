// Package main provides the API server entry point for the vault rebalancer service.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vault-rebalancer/internal/ability"
	"github.com/vault-rebalancer/internal/api"
	"github.com/vault-rebalancer/internal/chain"
	"github.com/vault-rebalancer/internal/config"
	"github.com/vault-rebalancer/internal/logging"
	"github.com/vault-rebalancer/internal/market"
	"github.com/vault-rebalancer/internal/rebalance"
	"github.com/vault-rebalancer/internal/scheduler"
	"github.com/vault-rebalancer/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouseDB, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouseDB.Close()

	if err := clickhouseDB.EnsureSchema(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to ensure ClickHouse schema")
	}

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Initialize repositories and cache
	jobRepo := storage.NewJobRepository(postgres)
	swapRepo := storage.NewSwapRepository(clickhouseDB)
	cacheService := storage.NewCacheService(redis, cfg.Cache.TTL)

	// Initialize external clients
	logger.Info("Initializing clients...")

	marketClient := market.NewClient(&cfg.Market, cfg.Rebalance.MinimumVaultTotalAssetsUSD)
	abilityClient := ability.NewClient(&cfg.Ability)

	chainClient, err := chain.NewClient(context.Background(), &cfg.Chain)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to chain RPC")
	}
	defer chainClient.Close()

	// Initialize the rebalance handler and scheduler
	handler := rebalance.NewHandler(marketClient, abilityClient, chainClient, swapRepo, &cfg.Chain, &cfg.Rebalance)
	manager := scheduler.NewManager(jobRepo, handler, &cfg.Chain, &cfg.Ability, cfg.Scheduler.DefaultInterval)
	runner := scheduler.NewRunner(jobRepo, handler, &cfg.Chain, &cfg.Ability, &cfg.Scheduler, logger)

	runnerCtx, cancelRunner := context.WithCancel(context.Background())
	defer cancelRunner()
	runner.Start(runnerCtx)

	logger.WithField("pollInterval", cfg.Scheduler.PollInterval.String()).Info("Scheduler started")

	// Create server configuration
	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		ChainID:           cfg.Chain.ChainID,
		AssetSymbol:       cfg.Market.AssetSymbol,
	}

	server := api.NewServer(serverConfig, manager, swapRepo, marketClient, cacheService, logger)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop claiming jobs before closing the API surface
	cancelRunner()
	runner.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
