package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/darshannathani/pp-sub001/internal/app"
	"github.com/darshannathani/pp-sub001/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	if cfg.UsingDefaultSecret() {
		logger.Warn("JWT_SECRET not set; using the development default")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start ledger", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	handler, err := newRouter(a)
	if err != nil {
		logger.Error("Failed to build router", "error", err)
		os.Exit(1)
	}

	stopBackground, err := a.StartBackground(ctx)
	if err != nil {
		logger.Error("Failed to start withdrawal reconciliation", "error", err)
		os.Exit(1)
	}
	defer stopBackground()

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown", "error", err)
		}
	}()

	logger.Info("Starting HTTP server", "addr", srv.Addr, "driver", a.Driver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}
