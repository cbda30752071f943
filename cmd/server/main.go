package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/app"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/config"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/logger"
)

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf("⚠️ Could not load .env file: %v", err)
	}
	logger.InitializeAndConfigure()

	settings, err := config.Load()
	if err != nil {
		logger.Fatalf("❌ Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := app.New(ctx, settings)
	if err != nil {
		logger.Fatalf("❌ Failed to assemble server: %v", err)
	}
	if err := srv.Start(ctx); err != nil {
		logger.Fatalf("❌ Failed to start server: %v", err)
	}

	ln, err := net.Listen("tcp", ":"+settings.Port)
	if err != nil {
		logger.Fatalf("❌ Failed to listen on port %s: %v", settings.Port, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("🌐 API listening on %s", ln.Addr())
		serveErr <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		logger.Info("🛑 Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Errorf("❌ API server stopped: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("❌ Shutdown incomplete: %v", err)
		os.Exit(1)
	}
	logger.Info("👋 Server stopped")
}
