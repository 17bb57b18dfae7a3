package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/dunamismax/pixelprompt/internal/api"
	"github.com/dunamismax/pixelprompt/internal/codec"
	"github.com/dunamismax/pixelprompt/internal/config"
	"github.com/dunamismax/pixelprompt/internal/intent"
	"github.com/dunamismax/pixelprompt/internal/logging"
	"github.com/dunamismax/pixelprompt/internal/pipeline"
	"github.com/dunamismax/pixelprompt/internal/queue"
	"github.com/dunamismax/pixelprompt/internal/ratelimit"
	"github.com/dunamismax/pixelprompt/internal/storage"
	"github.com/dunamismax/pixelprompt/internal/store"
	"github.com/dunamismax/pixelprompt/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout).WithField("component", "api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  telemetry.ServiceAPI,
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("tracing setup failed")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	if err := codec.Startup(); err != nil {
		logger.WithError(err).Fatal("image codec startup failed")
	}
	defer codec.Shutdown()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.WithError(err).Warn("queue client close error")
		}
	}()

	jobStore, closeStore := openJobStore(ctx, cfg, logger)
	defer closeStore()

	opts := []api.Option{
		api.WithUsageStore(jobStore),
		api.WithPresignTTL(cfg.API.ResultURLTTL),
		api.WithMaxUploadBytes(cfg.API.MaxUploadBytes),
		api.WithTracer(otel.Tracer("pixelprompt/api")),
	}

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
		Region:   cfg.Storage.Region,
	})
	if err != nil {
		logger.WithError(err).Warn("object storage disabled")
	} else {
		if err := storageClient.EnsureBucket(ctx); err != nil {
			logger.WithError(err).Warn("ensure bucket failed")
		}
		opts = append(opts, api.WithStorage(storageClient))
	}

	decoder, err := intent.NewOllamaDecoder(intent.OllamaConfig{
		BaseURL: cfg.Intent.OllamaURL,
		Model:   cfg.Intent.Model,
		Timeout: cfg.Intent.Timeout,
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("completion backend disabled, edits will leave images unchanged")
	}
	opts = append(opts, api.WithEditor(pipeline.NewLocalProcessor(
		cfg.Worker.LocalOutputDir,
		decoder,
		pipeline.WithLogger(logger),
		pipeline.WithMaxPixels(cfg.API.MaxPixels),
	)))

	if cfg.RateLimit.Capacity > 0 {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			logger.WithError(err).Fatal("rate limiter setup failed")
		}
		opts = append(opts, api.WithRateLimiter(limiter, cfg.RateLimit.UserHeader))
	}

	app := api.NewServer(logger, queueClient, jobStore, opts...)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.API.Addr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown failed")
	}
}

// openJobStore uses Postgres when a DSN is configured and memory otherwise.
func openJobStore(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (jobAndUsageStore, func()) {
	if cfg.Database.DSN == "" {
		logger.Info("using in-memory job store")
		return store.NewMemoryJobStore(), func() {}
	}

	pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
	if err != nil {
		logger.WithError(err).Fatal("postgres connect failed")
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		logger.WithError(err).Fatal("postgres schema setup failed")
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.WithError(err).Warn("postgres close failed")
		}
	}
}

type jobAndUsageStore interface {
	store.JobStore
	store.UsageStore
}
