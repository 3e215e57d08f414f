package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"seminarhub/internal/api"
	"seminarhub/internal/attendance"
	"seminarhub/internal/audit"
	"seminarhub/internal/auth"
	"seminarhub/internal/bootstrap"
	"seminarhub/internal/cloudinary"
	"seminarhub/internal/config"
	"seminarhub/internal/httpmiddleware"
	"seminarhub/internal/logging"
	"seminarhub/internal/queue"
	"seminarhub/internal/store"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handle, closeStore, err := bootstrap.Store(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	if cfg.StoreBackend == config.BackendPostgREST && cfg.SupabaseKey != "" {
		inspectKey(cfg.SupabaseKey, logger)
	}

	deps := api.Deps{
		Config:  cfg,
		Log:     logger,
		Store:   handle,
		Limiter: httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin),
	}

	if cfg.RedisAddr != "" {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
		if !redisClient.Healthy(ctx) {
			logger.Warn("redis not reachable", zap.String("addr", cfg.RedisAddr))
		}
		deps.Redis = redisClient
		deps.Locks = attendance.NewRedisLocker(redisClient.Client, cfg.LockTTL)
		deps.Limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin)
	}
	if cfg.RateLimitPerMin <= 0 {
		deps.Limiter = nil
	}

	if cfg.AuditEnabled {
		switch cfg.QueueBackend {
		case "redis":
			deps.Audit = queue.NewRedisQueue(deps.Redis.Client, "")
		default:
			st, err := handle.Get()
			if err != nil {
				logger.Warn("audit log disabled, store not configured")
				break
			}
			q := queue.NewInMemory(256)
			deps.Audit = q
			go func() {
				if err := audit.NewRecorder(st, logger).Run(ctx, q); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("audit recorder stopped", zap.Error(err))
				}
			}()
		}
	}

	if cfg.CloudinaryConfigured() {
		deps.Cloudinary = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		logger.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		logger.Info("cloudinary not configured, certificate template uploads disabled")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreBackend), zap.Bool("store_ready", handle.Ready()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}

// inspectKey warns about service keys that will be rejected upstream.
func inspectKey(key string, logger *zap.Logger) {
	info, err := auth.InspectServiceKey(key, time.Now())
	if err != nil {
		logger.Warn("supabase key is not a readable JWT", zap.Error(err))
		return
	}
	for _, w := range info.Warnings {
		logger.Warn("supabase key", zap.String("warning", w), zap.String("role", info.Role))
	}
}
