package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pricewise/api/internal/config"
	"github.com/pricewise/api/internal/database"
	"github.com/pricewise/api/internal/gst"
	apihandlers "github.com/pricewise/api/internal/handlers/api"
	"github.com/pricewise/api/internal/middleware"
	"github.com/pricewise/api/internal/services/history"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.LoadDev()

	// Connect to database
	pool, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	slog.Info("database connected")

	// Run migrations
	if err := database.Migrate(cfg.DatabaseURL); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	slog.Info("migrations complete")

	// GST rate catalog, refreshed from the database in the background
	rateCache := gst.NewRateCache()
	catalog := gst.NewCatalog(pool, rateCache, logger)
	scheduler := gst.NewScheduler(catalog, cfg.GST.RefreshInterval, logger)

	historySvc := history.NewService(pool, logger)
	calculatorHandler := apihandlers.NewCalculatorHandler(
		historySvc, catalog, cfg.History.DefaultLimit, cfg.History.MaxLimit, logger,
	)

	mux := http.NewServeMux()
	calculatorHandler.RegisterRoutes(mux)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	defer limiter.Stop()

	// CORS for the browser frontend, rate limiting, logging, recovery
	var chain http.Handler = mux
	chain = middleware.SecurityHeaders(chain)
	chain = middleware.CORS(cfg.BaseURL)(chain)
	chain = limiter.Handler(chain)
	chain = middleware.Recover(logger)(chain)
	chain = middleware.RequestLogger(logger)(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      chain,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.GST.RefreshEnabled {
		scheduler.Start(context.Background())
	} else {
		result := catalog.Refresh(context.Background())
		slog.Info("gst rates loaded", "source", result.Source, "rates", result.RatesLoaded)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		slog.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	scheduler.Stop()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("api server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
