package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"parking-lot-backend/config"
	"parking-lot-backend/internal/api"
	"parking-lot-backend/internal/db"
	"parking-lot-backend/internal/engine"
	"parking-lot-backend/internal/monitor"
	"parking-lot-backend/internal/notification"
	"parking-lot-backend/internal/pool"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "parkd ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database, cfg.Lot.TotalSpots)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	// The handle pool is constructed here once and passed by reference
	// to everything that persists; there is no global.
	handlePool := pool.New(gormDB, cfg.Pool.Size, cfg.Pool.AcquireTimeout)
	logger.Printf("handle pool initialized with %d handles", cfg.Pool.Size)

	policy := engine.PolicyFromConfig(cfg.Lot)
	eng := engine.NewEngine(handlePool, policy)
	dispatcher := engine.NewDispatcher(eng)

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Notification workers for monitor-initiated transitions
	workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions)
	workerPool.Start(ctx)

	// Background consistency monitor
	monitorSvc := monitor.NewService(&cfg.Monitor, handlePool, policy, workerPool)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitorSvc.Run(ctx)
	}()

	// Initialize router
	router := api.NewRouter(dispatcher, gormDB, &cfg.Server, &webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	// Drain HTTP first so no new work reaches the engine.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP server Shutdown: %v", err)
	}

	// Stop the monitor and wait for any in-flight sweep to finish or
	// roll back before the pool goes away.
	cancel()
	select {
	case <-monitorDone:
	case <-time.After(cfg.Monitor.StatementTimeout):
		logger.Println("timed out waiting for monitor to stop")
	}

	handlePool.Close()
	logger.Println("Server gracefully stopped")
}
