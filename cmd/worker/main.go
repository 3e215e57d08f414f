package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"seminarhub/internal/audit"
	"seminarhub/internal/bootstrap"
	"seminarhub/internal/config"
	"seminarhub/internal/logging"
	"seminarhub/internal/queue"
	"seminarhub/internal/store"
)

// Worker drains the Redis audit queue into the api_logs table.
func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("component", "audit-worker"))

	if cfg.RedisAddr == "" {
		logger.Fatal("REDIS_ADDR is required; the in-memory queue is drained by the API process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handle, closeStore, err := bootstrap.Store(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store connect failed", zap.Error(err))
	}
	defer closeStore()
	st, err := handle.Get()
	if err != nil {
		logger.Fatal("store not configured", zap.Error(err))
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable yet, consumer will retry", zap.String("addr", cfg.RedisAddr))
	}

	logger.Info("worker started, waiting for messages")
	err = audit.NewRecorder(st, logger).Run(ctx, queue.NewRedisQueue(redisClient.Client, ""))
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", zap.Error(err))
		return
	}
	logger.Info("worker stopped")
}
