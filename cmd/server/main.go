// Package main is the entry point for the papertrade simulator: an
// A-share paper trading service with real-quote matchmaking, account
// settlement and dividend processing.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashare/papertrade/internal/config"
	"github.com/ashare/papertrade/internal/di"
	"github.com/ashare/papertrade/internal/server"
	"github.com/ashare/papertrade/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})

	log.Info().
		Str("market", cfg.MarketName).
		Bool("dev_mode", cfg.DevMode).
		Msg("Starting papertrade")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	// Startup replays today's open orders and, inside the session,
	// starts matchmaking immediately.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := container.MainEngine.Startup(startupCtx); err != nil {
		startupCancel()
		log.Fatal().Err(err).Msg("Failed to start trading engine")
	}
	startupCancel()

	if container.Streamer != nil {
		container.Streamer.Start()
		log.Info().Msg("Quote stream started")
	}

	if err := container.StartScheduler(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	srv := server.New(server.Config{
		Log:        log,
		Config:     cfg,
		DB:         container.DB,
		Engine:     container.MainEngine,
		UserEngine: container.UserEngine,
		Quotes:     container.Quotes,
		Users:      container.Users,
		Orders:     container.Orders,
		Positions:  container.Positions,
		Statements: container.Statements,
		UserCache:  container.UserCache,
		PosCache:   container.PositionCache,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// container.Close stops the scheduler, the quote stream and the
	// engines, then closes the stores.
	log.Info().Msg("Server stopped")
}
