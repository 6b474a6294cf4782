package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"kiwoom-trade-bot-go/internal/config"
	"kiwoom-trade-bot-go/internal/database"
	"kiwoom-trade-bot-go/internal/journal"
	"kiwoom-trade-bot-go/internal/kiwoom"
	"kiwoom-trade-bot-go/internal/logger"
	"kiwoom-trade-bot-go/internal/signal"
	"kiwoom-trade-bot-go/internal/trader"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format, cfg.Logger.File)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Initialize Kiwoom REST client and verify the credentials work
	restClient := kiwoom.NewRestClient(&cfg.Kiwoom, log)
	authCtx, authCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := restClient.EnsureToken(authCtx); err != nil {
		authCancel()
		log.Fatal("Failed to authenticate with Kiwoom API", zap.Error(err))
	}
	authCancel()
	log.Info("Successfully authenticated with Kiwoom API.")

	// Realtime price feed, signal source, and audit journal
	feed := kiwoom.NewWSClient(&cfg.Kiwoom, restClient.EnsureToken, log)
	source := signal.NewTelegramSource(&cfg.Telegram, log)
	jw, err := journal.NewWriter(cfg.Storage.ResultsDir, log)
	if err != nil {
		log.Fatal("Failed to prepare the results directory", zap.Error(err))
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		ossignal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Initialize and run the trading engine
	tradeEngine := trader.NewEngine(trader.TradingContext{
		Logger:  log,
		Cfg:     &cfg,
		Gateway: restClient,
	}, db, jw, source, feed, source)

	apiServer := trader.NewAPIServer(tradeEngine, &cfg.Server, log)
	apiServer.Start()

	if err := tradeEngine.Run(ctx); err != nil {
		log.Error("Trading engine exited with an error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Bot has been shut down.")
}
