package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fotocopias/backend/internal/cache"
	"fotocopias/backend/internal/config"
	"fotocopias/backend/internal/httpapi"
	"fotocopias/backend/internal/observability"
	"fotocopias/backend/internal/service"
	"fotocopias/backend/internal/store"
	"fotocopias/backend/internal/store/memory"
	pgstore "fotocopias/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogFormat)
	slog.SetDefault(logger)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Error("invalid security configuration", "error", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("close error", "error", err)
			}
		}
	}()

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres", "atomic_checkout", cfg.CheckoutAtomic)
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory", "atomic_checkout", cfg.CheckoutAtomic)
	}

	readCache := cache.Store(cache.NewMemory())
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, read models cached per process", "error", err)
			_ = redisCache.Close()
		} else {
			readCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis", "addr", cfg.RedisAddr)
		}
	} else {
		logger.Info("cache: in-process")
	}

	metrics := observability.NewMetrics()
	svc := service.New(repo, service.Options{
		Cache:          readCache,
		CacheTTL:       cfg.ReadModelTTL,
		Tariff:         cfg.Tariff(),
		Header:         cfg.Header(),
		Logger:         logger,
		Metrics:        metrics,
		AtomicCheckout: cfg.CheckoutAtomic,
	})
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	if cfg.SeedAdminPassword != "" {
		created, err := auth.EnsureAdmin(ctx, cfg.SeedAdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if created {
			logger.Info("admin account created")
		}
	}
	api := httpapi.New(svc, auth, httpapi.Config{
		AllowedOrigin: cfg.AllowedOrigin,
		Production:    cfg.IsProduction(),
		LoginAttempts: cfg.LoginAttempts,
	}, logger, metrics)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fotocopias backend listening", "addr", cfg.Address(), "env", cfg.AppEnv)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-sig:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

func newLogger(format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.IsProduction() && cfg.AllowedOrigin == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN cannot be * in production")
	}
	if cfg.IsProduction() && cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in production")
	}
	return nil
}
