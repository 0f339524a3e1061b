package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/app"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/config"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/health"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/httpapi"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/tracing"
)

func main() {
	// .env.local wins over .env; neither is required.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing initialization failed", zap.Error(err))
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build services", zap.Error(err))
	}
	defer a.Close()

	// Markets hot reload
	if cfg.MarketsPath != "" {
		watcher, err := config.NewMarketWatcher(cfg.MarketsPath, a.Markets, logger)
		if err != nil {
			logger.Warn("Markets watcher disabled", zap.Error(err))
		} else {
			watcher.OnReload(func(m *config.Markets) {
				logger.Info("Regulatory markets reloaded", zap.Strings("authorities", m.Codes()))
			})
			if err := watcher.Start(ctx); err != nil {
				logger.Warn("Markets watcher failed to start", zap.Error(err))
			} else {
				defer watcher.Stop()
			}
		}
	}

	// Admin server: health and metrics
	adminMux := http.NewServeMux()
	health.NewHTTPHandler(a.Health, logger).RegisterRoutes(adminMux)
	adminMux.Handle("GET /metrics", promhttp.Handler())
	a.Health.Start(ctx)
	defer a.Health.Stop()

	admin := &http.Server{
		Addr:         cfg.Server.AdminAddr,
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Admin HTTP server listening", zap.String("addr", cfg.Server.AdminAddr))
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()

	// Public API and progress streams
	api := httpapi.NewAPIHandler(a.Orchestrator, a.Agent, a.Usage, a.Stream, httpapi.APIConfig{
		ResearchTimeout: cfg.Server.ResearchTimeout,
		ResultTTL:       cfg.Server.ResultTTL,
	}, logger)
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	httpapi.NewStreamingHandler(a.Stream, logger).RegisterRoutes(mux)
	go api.SweepLoop(ctx, time.Minute)

	// No write timeout: SSE and WebSocket responses are long-lived.
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		logger.Info("API server listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("strategy", a.Orchestrator.Strategy()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown", zap.Error(err))
	}
	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Research runs did not finish", zap.Error(err))
	}
	if err := admin.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin server shutdown", zap.Error(err))
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Tracing shutdown", zap.Error(err))
		}
	}
}
