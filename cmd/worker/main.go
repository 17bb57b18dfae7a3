package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dunamismax/pixelprompt/internal/codec"
	"github.com/dunamismax/pixelprompt/internal/config"
	"github.com/dunamismax/pixelprompt/internal/intent"
	"github.com/dunamismax/pixelprompt/internal/logging"
	"github.com/dunamismax/pixelprompt/internal/storage"
	"github.com/dunamismax/pixelprompt/internal/store"
	"github.com/dunamismax/pixelprompt/internal/telemetry"
	"github.com/dunamismax/pixelprompt/internal/webhook"
	"github.com/dunamismax/pixelprompt/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout).WithField("component", "worker")

	ctx := context.Background()

	logger.WithFields(logrus.Fields{
		"concurrency":     cfg.Worker.Concurrency,
		"max_active_jobs": cfg.Worker.MaxActiveJobs,
		"queue":           cfg.Queue.Name,
		"redis":           cfg.Queue.RedisAddr,
	}).Info("starting worker")

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  telemetry.ServiceWorker,
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

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
		Region:   cfg.Storage.Region,
	})
	if err != nil {
		logger.WithError(err).Fatal("storage client setup failed")
	}
	if err := storageClient.EnsureBucket(ctx); err != nil {
		logger.WithError(err).Fatal("ensure bucket failed")
	}

	decoder, err := intent.NewOllamaDecoder(intent.OllamaConfig{
		BaseURL: cfg.Intent.OllamaURL,
		Model:   cfg.Intent.Model,
		Timeout: cfg.Intent.Timeout,
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("completion backend disabled, edits will leave images unchanged")
	}

	deps := worker.Deps{
		Planner: decoder,
		Storage: storageClient,
		Webhook: webhook.NewClient(webhook.Config{
			SigningSecret: cfg.Webhook.SigningSecret,
			Timeout:       cfg.Webhook.Timeout,
			MaxAttempts:   cfg.Webhook.MaxAttempts,
		}),
		MaxPixels:      cfg.API.MaxPixels,
		MaxSourceBytes: cfg.API.MaxUploadBytes,
	}

	if cfg.Database.DSN == "" {
		logger.Warn("no database configured, job status updates are skipped")
	} else {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.WithError(err).Fatal("postgres connect failed")
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.WithError(err).Fatal("postgres schema setup failed")
		}
		deps.JobStore = pg
		deps.UsageStore = pg
	}

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, deps)
	if err != nil {
		logger.WithError(err).Fatal("worker setup failed")
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	// Run blocks until SIGINT or SIGTERM and drains active tasks.
	runErr := srv.Run()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("metrics server shutdown failed")
	}
	if runErr != nil {
		logger.WithError(runErr).Fatal("worker failed")
	}
	logger.Info("worker stopped")
}
