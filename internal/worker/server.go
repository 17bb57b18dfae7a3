package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/pixelprompt/internal/codec"
	"github.com/dunamismax/pixelprompt/internal/config"
	"github.com/dunamismax/pixelprompt/internal/domain"
	"github.com/dunamismax/pixelprompt/internal/pipeline"
	"github.com/dunamismax/pixelprompt/internal/queue"
	"github.com/dunamismax/pixelprompt/internal/storage"
	"github.com/dunamismax/pixelprompt/internal/store"
	"github.com/dunamismax/pixelprompt/internal/webhook"
)

type Server struct {
	logger          logrus.FieldLogger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  processor
	objectProcessor processor
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type processor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Deps struct {
	Planner    pipeline.Planner
	Storage    *storage.Client
	Webhook    *webhook.Client
	JobStore   store.JobStore
	UsageStore store.UsageStore
	MaxPixels  int64

	// MaxSourceBytes caps how much of an uploaded source is read.
	MaxSourceBytes int64
}

func NewServer(logger logrus.FieldLogger, queueCfg config.QueueConfig, workerCfg config.WorkerConfig, deps Deps) (*Server, error) {
	if deps.Storage == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if deps.Planner == nil {
		return nil, fmt.Errorf("planner is required")
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMaxPixels(deps.MaxPixels),
	}
	localProcessor := pipeline.NewLocalProcessor(workerCfg.LocalOutputDir, deps.Planner, opts...)
	objectProcessor := pipeline.NewProcessor(
		pipeline.ObjectStoreFetcher{Storage: deps.Storage, MaxBytes: deps.MaxSourceBytes},
		deps.Planner,
		pipeline.ObjectStoreEmitter{Storage: deps.Storage, OutputPrefix: workerCfg.OutputPrefix},
		opts...,
	)

	usageStore := deps.UsageStore
	if usageStore == nil {
		if jobAndUsageStore, ok := deps.JobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.WithError(err).WithFields(logrus.Fields{
						"type":      task.Type(),
						"retry":     retried,
						"max_retry": maxRetry,
					}).Warn("task failed")
				}),
			},
		),
		sem:             make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		jobStore:        deps.JobStore,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("pixelprompt/worker"),
	}
	if deps.Webhook != nil {
		s.webhookClient = deps.Webhook
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeEditImage, s.handleEditImage)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleEditImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseEditImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.edit_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("job.format", payload.Format),
		attribute.Bool("job.chained", payload.History != ""),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		outcome = "cancelled"
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	log := s.logger.WithFields(logrus.Fields{
		"job_id":      payload.JobID,
		"source_type": payload.SourceType,
		"object_key":  payload.ObjectKey,
	})
	log.Info("editing image")

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	request := pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		Prompt:     payload.Prompt,
		History:    payload.History,
		Format:     payload.Format,
	}

	var result pipeline.Result
	switch payload.SourceType {
	case domain.SourceTypeLocalFile:
		result, err = s.localProcessor.Process(ctx, request)
	default:
		result, err = s.objectProcessor.Process(ctx, request)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "edit failed")
		return s.fail(ctx, payload, err)
	}

	log.WithFields(logrus.Fields{
		"applied": len(result.Report.Applied),
		"skipped": len(result.Report.Skipped),
		"output":  result.Location,
	}).Info("edited image")

	s.saveResult(ctx, payload.JobID, domain.JobStatusSucceeded, domain.JobResult{
		Operations: result.Report.Applied,
		OutputKey:  result.Location,
	})
	s.observeOperations(result.Report)
	s.recordUsage(ctx, payload, result, time.Since(startedAt))

	s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, webhook.JobEvent{
		JobID:      payload.JobID,
		Status:     domain.JobStatusSucceeded,
		Operations: result.Report.Applied,
		OutputKey:  result.Location,
		FinishedAt: time.Now().UTC(),
	})

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "edited")
	return nil
}

// fail records a failed attempt. Permanent failures and the last retry
// mark the job failed and notify the webhook; earlier attempts requeue.
func (s *Server) fail(ctx context.Context, payload queue.EditImagePayload, err error) error {
	permanent := isPermanent(err)
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	if !permanent && retried < maxRetry {
		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
		return fmt.Errorf("edit image: %w", err)
	}

	s.saveResult(ctx, payload.JobID, domain.JobStatusFailed, domain.JobResult{Error: err.Error()})
	s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, webhook.JobEvent{
		JobID:      payload.JobID,
		Status:     domain.JobStatusFailed,
		Operations: []domain.OperationRecord{},
		Error:      err.Error(),
		FinishedAt: time.Now().UTC(),
	})

	if permanent {
		return fmt.Errorf("edit image: %v: %w", err, asynq.SkipRetry)
	}
	return fmt.Errorf("edit image: %w", err)
}

// isPermanent reports errors a retry cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, codec.ErrUnsupportedImage) ||
		errors.Is(err, codec.ErrImageTooLarge) ||
		errors.Is(err, storage.ErrObjectTooLarge) ||
		errors.Is(err, pipeline.ErrUnsupportedSourceType)
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{"job_id": jobID, "status": status}).Warn("job status update failed")
	}
}

func (s *Server) saveResult(ctx context.Context, jobID, status string, result domain.JobResult) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.SaveResult(ctx, jobID, status, result); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{"job_id": jobID, "status": status}).Warn("job result save failed")
	}
}

// dispatchWebhook delivers best effort. The edit has already been stored,
// so a failed delivery does not fail the task.
func (s *Server) dispatchWebhook(ctx context.Context, payload queue.EditImagePayload, event string, body webhook.JobEvent) {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailures.WithLabelValues(event).Inc()
		s.logger.WithError(err).WithFields(logrus.Fields{"job_id": payload.JobID, "event": event}).Warn("webhook delivery failed")
	}
}

func (s *Server) observeOperations(report pipeline.Report) {
	for _, op := range report.Applied {
		s.metrics.operationsTotal.WithLabelValues(op.Type, "applied").Inc()
	}
	for _, op := range report.Skipped {
		s.metrics.operationsTotal.WithLabelValues(op.Type, "skipped").Inc()
	}
}

func (s *Server) recordUsage(ctx context.Context, payload queue.EditImagePayload, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		userID = "anonymous"
	}

	pixelsProcessed := int64(result.Width) * int64(result.Height)
	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	usage := domain.UsageLog{
		UserID:            userID,
		JobID:             payload.JobID,
		PixelsProcessed:   pixelsProcessed,
		OperationsApplied: len(result.Report.Applied),
		OperationsSkipped: len(result.Report.Skipped),
		ComputeTimeMS:     computeTimeMS,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.usageStore.RecordUsage(ctx, usage); err != nil {
		s.logger.WithError(err).WithField("job_id", payload.JobID).Warn("usage log write failed")
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(pixelsProcessed))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}
