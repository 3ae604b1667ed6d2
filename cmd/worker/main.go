package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/gatherspace/backend/config"
	"github.com/gatherspace/backend/internal/messages"
	"github.com/gatherspace/backend/internal/worker"
	"github.com/gatherspace/backend/pkg/database"
	"github.com/gatherspace/backend/pkg/queue"
	redisclient "github.com/gatherspace/backend/pkg/redis"
	"github.com/gatherspace/backend/pkg/storage"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redisclient.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}

	var s3 *storage.S3
	if cfg.Archive.Bucket != "" {
		s3, err = storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.Archive.Region,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
			ArchiveBucket:   cfg.Archive.Bucket,
		}, logger)
		if err != nil {
			logger.Fatal("failed to create s3 client", zap.Error(err))
		}
	} else {
		logger.Warn("no archive bucket configured, jobs will delete without snapshot")
	}

	q := queue.NewQueue(rdb, logger)
	msgRepo := messages.NewRepository(pool)

	worker.NewArchiver(q, msgRepo, s3, logger).Run(ctx)
}
