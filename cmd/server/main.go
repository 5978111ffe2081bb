// Package main is the entry point for the roulette Mini App backend.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"telegram-roulette/internal/config"
	"telegram-roulette/internal/pkg/db"
	"telegram-roulette/internal/server"
	"telegram-roulette/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := db.Migrate(ctx, dbPool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize services
	accountService := service.NewAccountService(dbPool.Pool, cfg.Game.InitialBalance)
	stakeService := service.NewStakeService(dbPool.Pool)
	settlementService := service.NewSettlementService(
		dbPool.Pool,
		service.NewRand(),
		cfg.Game.RoundDuration,
		cfg.Game.CommissionBps,
	)
	queryService := service.NewRoundQueryService(dbPool.Pool)

	// Open the first round if none exists yet
	if err := settlementService.EnsureOpenRound(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to bootstrap initial round")
	}

	// Start the background sweep; settlement is serialized at the store
	// layer, so additional instances may run their own sweepers.
	sweeper := service.NewSweeper(settlementService, cfg.Game.SweepInterval)
	go sweeper.Run(ctx)

	// Initialize HTTP server
	srv := server.New(cfg, accountService, stakeService, settlementService, queryService, dbPool)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server is starting...")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	// Graceful shutdown
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("Server stopped gracefully")
}
