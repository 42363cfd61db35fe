// Command server exposes feed sessions over HTTP and WebSocket.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"postsync/internal/bootstrap"
	"postsync/internal/config"
	"postsync/internal/observability"
	"postsync/internal/server"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialise: %v", err)
	}

	var opts []server.Option
	for name, check := range app.HealthChecks() {
		opts = append(opts, server.WithHealthCheck(name, check))
	}
	srv := server.NewServer(cfg, app.Registry(), opts...)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		observability.Logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			observability.Logger.Error("Server shutdown error", "error", err)
		}
		if err := app.Close(shutdownCtx); err != nil {
			observability.Logger.Error("Resource shutdown error", "error", err)
		}
	}()

	if err := srv.Start(); err != nil {
		observability.Logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
	<-done
}
