package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tokenfolio/restager/internal/config"
	"github.com/tokenfolio/restager/internal/database"
	"github.com/tokenfolio/restager/internal/engine"
	"github.com/tokenfolio/restager/internal/modules/simulation"
	"github.com/tokenfolio/restager/internal/scheduler"
	"github.com/tokenfolio/restager/internal/server"
	"github.com/tokenfolio/restager/pkg/logger"
)

func main() {
	// Load configuration first so the log level is honored
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting restager")

	// Initialize database (engine-call audit log)
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Allocation engine client and simulator service
	engineClient := engine.NewClient(cfg.EngineURL, log)
	audit := database.NewAuditRepository(db, log)
	ttl := time.Duration(cfg.SessionTTLMinutes) * time.Minute
	simService := simulation.NewService(engineClient, audit, ttl, log)

	// Background session expiry
	sched := scheduler.New(log)
	if err := sched.AddJob("@every 10m", simulation.NewPruneJob(simService)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register prune job")
	}
	sched.Start()
	defer sched.Stop()

	// HTTP server
	srv := server.New(server.Config{
		Port:       cfg.Port,
		Log:        log,
		Simulation: simulation.NewHandler(simService, log),
		DevMode:    cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
