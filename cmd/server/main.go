package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"blocksentinel/internal/config"
	"blocksentinel/internal/contentstore"
	"blocksentinel/internal/database"
	"blocksentinel/internal/events"
	"blocksentinel/internal/ledger"
	"blocksentinel/internal/metrics"
	"blocksentinel/internal/repository"
	"blocksentinel/internal/server"
	"blocksentinel/internal/verify"
)

func main() {
	logger := initLogger()
	defer logger.Sync()

	logger.Info("Starting BlockSentinel complaint ledger")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Environment),
		zap.String("storage_backend", cfg.Ledger.StorageBackend),
		zap.String("content_store", cfg.ContentStore.Provider))

	var db *database.Database
	var store repository.Store
	switch cfg.Ledger.StorageBackend {
	case "postgres":
		db, err = database.New(&cfg.Database, logger)
		if err != nil {
			logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		if err := db.RunMigrations(); err != nil {
			logger.Fatal("Failed to run database migrations", zap.Error(err))
		}
		store = repository.NewPostgresStore(db, logger)
	case "memory":
		store = repository.NewMemoryStore()
	}

	content, err := newContentStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize content store", zap.Error(err))
	}

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	var publisher *events.Publisher
	var ledgerPublisher ledger.EventPublisher
	if cfg.Kafka.Enabled() {
		publisher = events.NewPublisher(cfg.Kafka, logger)
		ledgerPublisher = publisher
		logger.Info("Kafka event publishing enabled", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	var redisClient *redis.Client
	var cache verify.ReportCache
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.Database,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		cache = verify.NewRedisCache(redisClient, cfg.Redis.CacheTTL, logger)
		logger.Info("Verification cache enabled", zap.String("address", cfg.Redis.Address))
	}

	ledgerSvc := ledger.New(store, content, ledgerPublisher, collector, cfg, logger)
	verifySvc := verify.New(store, content, cache, collector, logger)

	srv := server.New(cfg, logger, db, ledgerSvc, verifySvc)
	if publisher != nil {
		srv.OnShutdown(publisher.Close)
	}
	if redisClient != nil {
		srv.OnShutdown(redisClient.Close)
	}
	if err := srv.Initialize(); err != nil {
		logger.Fatal("Failed to initialize server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
	}

	logger.Info("BlockSentinel complaint ledger stopped")
}

func newContentStore(cfg *config.Config, logger *zap.Logger) (contentstore.Store, error) {
	switch cfg.ContentStore.Provider {
	case "memory":
		return contentstore.NewMemoryStore(), nil
	case "local":
		return contentstore.NewLocalStore(cfg.ContentStore.LocalPath)
	case "s3":
		return contentstore.NewMinioStore(context.Background(), contentstore.MinioOptions{
			Endpoint:  cfg.ContentStore.S3.Endpoint,
			AccessKey: cfg.ContentStore.S3.AccessKey,
			SecretKey: cfg.ContentStore.S3.SecretKey,
			Bucket:    cfg.ContentStore.S3.Bucket,
			UseSSL:    cfg.ContentStore.S3.UseSSL,
		}, logger)
	}
	return nil, os.ErrInvalid
}

func initLogger() *zap.Logger {
	var config zap.Config

	env := os.Getenv("ENVIRONMENT")
	if env == "production" {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.DisableCaller = false
	config.DisableStacktrace = false

	logger, err := config.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	return logger
}
