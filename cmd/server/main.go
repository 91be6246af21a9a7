package main

import (
	"context"
	"flag"
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/northpine/sitemedia/internal/auth"
	"github.com/northpine/sitemedia/internal/config"
	"github.com/northpine/sitemedia/internal/database"
	"github.com/northpine/sitemedia/internal/observability"
	"github.com/northpine/sitemedia/internal/server"
	"github.com/northpine/sitemedia/internal/signer"
)

func main() {
	configPath := flag.String("config", "", "path to the yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := observability.InitLogger(cfg.Dev)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	metrics, err := observability.InitMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("init metrics", zap.Error(err))
	}
	observability.StartMetricsServer(strconv.Itoa(cfg.Server.MetricsPort), logger)

	ctx := context.Background()
	tp, err := observability.InitTracerProvider(ctx, logger)
	if err != nil {
		logger.Fatal("init tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		observability.ShutdownTracerProvider(shutdownCtx, tp, logger)
	}()

	store, err := database.NewPostgresStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	defer store.Close()

	if err := store.RunMigrations(ctx); err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}

	srv := server.New(server.Config{
		Store:       store,
		Issuer:      signer.New(cfg.Storage, cfg.Upload.CredentialTTL),
		Tokens:      auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Metrics:     metrics,
		Logger:      logger,
		CORSOrigins: cfg.Server.CORSOrigins,
		Dev:         cfg.Dev,
	})

	if err := srv.Run(cfg.ListenAddr()); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
