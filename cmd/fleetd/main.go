package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	log "github.com/sirupsen/logrus"

	"classifier-fleet-backend/config"
	"classifier-fleet-backend/internal/api"
	"classifier-fleet-backend/internal/artifact"
	"classifier-fleet-backend/internal/assignment"
	"classifier-fleet-backend/internal/db"
	"classifier-fleet-backend/internal/liveness"
	"classifier-fleet-backend/internal/logger"
	"classifier-fleet-backend/internal/notification"
	"classifier-fleet-backend/internal/store"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Init(cfg.Log)
	log.Infof("configuration loaded successfully from %s", configPath)

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	log.Info("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	log.Info("data store initialized")

	artifacts, err := artifact.NewMinioManager(ctx, &cfg.Storage)
	if err != nil {
		log.Fatalf("failed to initialize artifact storage: %v", err)
	}
	log.Info("artifact storage initialized")

	resolver := assignment.NewResolver(appStore)

	// Push notifications are optional; without VAPID keys the liveness
	// sweeper still marks devices offline, it just tells nobody.
	var workerPool *notification.WorkerPool
	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		workerPool = notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions)
		workerPool.Start(ctx)
	} else {
		log.Warn("VAPID keys are not configured; device-offline push notifications are disabled")
	}

	sweeper := liveness.NewSweeper(&cfg.Liveness, appStore, workerPool)
	go sweeper.Run(ctx)

	// Initialize router
	router := api.NewRouter(cfg, appStore, resolver, artifacts, webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		log.Infof("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	log.Info("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("HTTP server Shutdown: %v", err)
	}

	log.Info("Server gracefully stopped")
}
