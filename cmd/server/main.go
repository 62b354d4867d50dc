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

	"urldater/internal/browser"
	"urldater/internal/cache"
	"urldater/internal/collect"
	"urldater/internal/collect/certificate"
	"urldater/internal/collect/headers"
	"urldater/internal/collect/registration"
	"urldater/internal/orchestrator"
	"urldater/internal/platform/config"
	"urldater/internal/platform/httpserver"
	"urldater/internal/platform/logger"
	"urldater/internal/platform/metrics"
	"urldater/internal/platform/redis"
	httptransport "urldater/internal/transport/http"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	responseCache, redisClient := buildCache(ctx, cfg, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	pool := browser.NewPool(browser.Config{
		MaxSessions: cfg.BrowserSessions,
		ChromePath:  cfg.ChromePath,
		UserAgent:   cfg.UserAgent,
	})
	defer pool.Close()

	collectors := []collect.Collector{
		registration.New(cfg.RegistrationTimeout, log),
		certificate.New(certificate.Config{
			Timeout:    cfg.CertificateTimeout,
			RetryWait:  cfg.CertificateRetryWait,
			MaxEntries: cfg.CertificateMaxEntries,
			RatePerSec: cfg.CertificateRatePerSec,
		}, log),
		headers.New(headers.PoolSource{Pool: pool}, headers.Config{
			NavigateTimeout: cfg.NavigateTimeout,
			FetchTimeout:    cfg.ResourceFetchTimeout,
			HarvestDeadline: cfg.HarvestDeadline,
			Parallelism:     cfg.FetchParallelism,
		}, log, headers.WithMetrics(m)),
	}

	orch, err := orchestrator.New(collectors, orchestrator.Config{
		MasterDeadline: cfg.MasterDeadline,
	}, log, m)
	if err != nil {
		log.Error("orchestrator setup failed", "error", err)
		os.Exit(1)
	}

	handler := httptransport.New(orch, responseCache, httptransport.Config{
		RequestTimeout: cfg.MasterDeadline + 30*time.Second,
		CacheTTL:       cfg.CacheTTL,
	}, log, m)

	srv := httpserver.New(cfg.Addr, handler.Router())

	go func() {
		log.Info("starting urldater", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

// buildCache prefers Redis when configured, otherwise process-local memory.
// A broken Redis is a startup warning, not a fatal error.
func buildCache(ctx context.Context, cfg config.Config, log *slog.Logger) (cache.Cache, *redis.Client) {
	client, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Warn("redis unavailable, using in-memory cache", "error", err)
		return cache.NewMemory(), nil
	}
	if client == nil {
		return cache.NewMemory(), nil
	}
	redisCache, err := cache.NewRedis(client)
	if err != nil {
		log.Warn("redis cache setup failed, using in-memory cache", "error", err)
		return cache.NewMemory(), nil
	}
	log.Info("using redis response cache")
	return redisCache, client
}
