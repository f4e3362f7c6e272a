// Command api serves the score portal REST API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/score-portal/score-portal/config"
	"github.com/score-portal/score-portal/internal/app"
	httpserver "github.com/score-portal/score-portal/internal/interface/http"
	"github.com/score-portal/score-portal/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. Configuration and logging
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.App.LogLevel)
	opts.Format = logger.ParseFormat(cfg.App.LogFormat)
	log := logger.New(opts).With(
		logger.String("app", cfg.App.Name),
		logger.String("version", cfg.App.Version),
	)
	log.Info("starting score portal API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("driver", cfg.Database.Driver),
		logger.Bool("redis", cfg.Redis.Enabled),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Storage, Redis and use cases
	// ─────────────────────────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		log.Info("closing storage...")
		if err := a.Close(); err != nil {
			log.Warn("close failed", logger.Err(err))
		}
	}()

	health := httpserver.NewHealthChecker(cfg.HTTP.RequestTimeout)
	health.AddCheck("store", a.Backend.Ping)
	if a.Cache != nil {
		health.AddCheck("redis", a.Cache.Ping)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. HTTP server
	// ─────────────────────────────────────────────────────────────────────────
	server := httpserver.NewServer(httpserver.Config{
		Host:           cfg.HTTP.Host,
		Port:           cfg.HTTP.Port,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, httpserver.Dependencies{
		ListTests:      a.ListTests,
		TestRanking:    a.TestRanking,
		TestStats:      a.TestStats,
		TotalRanking:   a.TotalRanking,
		StudentReport:  a.StudentReport,
		Predict:        a.Predict,
		ImportResults:  a.ImportResults,
		ImportStudents: a.ImportStudents,
		DeleteTest:     a.DeleteTest,
		AddScore:       a.AddScore,
		Health:         health,
		Logger:         log,
	})

	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Graceful shutdown
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
