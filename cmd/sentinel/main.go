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

	"github.com/hibiken/asynq"

	"github.com/sentinel-authz/sentinel/internal/app"
	"github.com/sentinel-authz/sentinel/internal/attrcache"
	"github.com/sentinel-authz/sentinel/internal/directory"
	"github.com/sentinel-authz/sentinel/internal/gateway"
	"github.com/sentinel-authz/sentinel/internal/manifest"
	"github.com/sentinel-authz/sentinel/internal/observability"
	"github.com/sentinel-authz/sentinel/internal/platform/cache"
	"github.com/sentinel-authz/sentinel/internal/platform/db"
	"github.com/sentinel-authz/sentinel/internal/policy"
	"github.com/sentinel-authz/sentinel/internal/resolver"
	"github.com/sentinel-authz/sentinel/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if err := db.Migrate(cfg.MigrateDSN); err != nil {
		logger.Error("apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	store := directory.NewRepository(pool)
	resolverService := resolver.NewService(store, logger)
	attrCache := attrcache.New(redisClient, logger)
	loader := attrcache.NewLoader(attrCache, resolverService, store, logger)
	loader.Start(ctx)

	jobsClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	grants := directory.NewGrants(store, attrCache, logger)
	registrar := manifest.NewRegistrar(store, jobsClient, logger)

	registry := policy.NewRegistry(logger)
	registry.Register(cfg.AdminPolicy, policy.RequireRole("sentinel_admin"))

	gw := gateway.New(gateway.Config{
		Secret:      []byte(cfg.AuthJWTSecret),
		CookieName:  cfg.AuthCookieName,
		Service:     cfg.ServiceName,
		LoadTimeout: cfg.AuthLoadTimeout,
	}, loader, store, logger)

	metrics := observability.NewMetrics()
	registry.SetRecorder(metrics)
	loader.SetRecorder(metrics)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Gateway:          gw,
		Registry:         registry,
		ManifestHandler:  manifest.NewHandler(logger, registrar),
		PrincipalHandler: directory.NewHandler(logger, grants, resolverService),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("sentinel listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
	}
}
