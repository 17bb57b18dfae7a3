package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"

	"github.com/dunamismax/pixelprompt/internal/codec"
	"github.com/dunamismax/pixelprompt/internal/domain"
	"github.com/dunamismax/pixelprompt/internal/logging"
	"github.com/dunamismax/pixelprompt/internal/pipeline"
	"github.com/dunamismax/pixelprompt/internal/queue"
	"github.com/dunamismax/pixelprompt/internal/store"
	"github.com/dunamismax/pixelprompt/internal/webhook"
)

type fakeProcessor struct {
	result pipeline.Result
	err    error
	calls  int
	last   pipeline.Request
}

func (p *fakeProcessor) Process(_ context.Context, req pipeline.Request) (pipeline.Result, error) {
	p.calls++
	p.last = req
	return p.result, p.err
}

type sentEvent struct {
	endpoint string
	event    string
	payload  webhook.JobEvent
}

type captureWebhook struct {
	events []sentEvent
	err    error
}

func (c *captureWebhook) Send(_ context.Context, endpoint, event string, payload any) error {
	body, _ := payload.(webhook.JobEvent)
	c.events = append(c.events, sentEvent{endpoint: endpoint, event: event, payload: body})
	return c.err
}

type captureUsageStore struct {
	called bool
	log    domain.UsageLog
}

func (c *captureUsageStore) RecordUsage(_ context.Context, usage domain.UsageLog) error {
	c.called = true
	c.log = usage
	return nil
}

func newTestServer(t *testing.T, proc processor, hook webhookSender) (*Server, *store.MemoryJobStore) {
	t.Helper()

	jobStore := store.NewMemoryJobStore()
	if err := jobStore.Create(context.Background(), domain.Job{
		ID:         "job-1",
		UserID:     "user-1",
		Status:     domain.JobStatusQueued,
		SourceType: domain.SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-1/source",
		Prompt:     "flip it",
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	return &Server{
		logger:          logging.Discard(),
		sem:             make(chan struct{}, 1),
		localProcessor:  proc,
		objectProcessor: proc,
		webhookClient:   hook,
		jobStore:        jobStore,
		usageStore:      jobStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("test"),
	}, jobStore
}

func editTask(t *testing.T, webhookURL string) *asynq.Task {
	t.Helper()
	task, err := queue.NewEditImageTask(queue.EditImagePayload{
		JobID:       "job-1",
		UserID:      "user-1",
		SourceType:  domain.SourceTypeS3Presigned,
		ObjectKey:   "uploads/job-1/source",
		Prompt:      "flip it",
		Format:      domain.FormatPNG,
		WebhookURL:  webhookURL,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return task
}

func TestHandleEditImageStoresResult(t *testing.T) {
	proc := &fakeProcessor{result: pipeline.Result{
		Edited: pipeline.Edited{
			Format: domain.FormatPNG,
			Report: pipeline.Report{
				Applied: []domain.OperationRecord{{Type: "flip", Direction: "horizontal"}},
				Skipped: []domain.OperationRecord{{Type: "sparkle"}},
			},
			Width:  40,
			Height: 30,
		},
		Location: "outputs/job-1/edited_image.png",
	}}
	hook := &captureWebhook{}
	s, jobStore := newTestServer(t, proc, hook)

	if err := s.handleEditImage(context.Background(), editTask(t, "https://example.test/hook")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if proc.last.Prompt != "flip it" || proc.last.Format != domain.FormatPNG {
		t.Fatalf("unexpected request: %+v", proc.last)
	}

	job, ok, err := jobStore.Get(context.Background(), "job-1")
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", job.Status)
	}
	if job.OutputKey != "outputs/job-1/edited_image.png" {
		t.Fatalf("unexpected output key %q", job.OutputKey)
	}
	if len(job.Operations) != 1 || job.Operations[0].Type != "flip" {
		t.Fatalf("expected applied flip only, got %+v", job.Operations)
	}

	usage := jobStore.Usage("user-1")
	if len(usage) != 1 {
		t.Fatalf("expected one usage log, got %d", len(usage))
	}
	if usage[0].PixelsProcessed != 1200 || usage[0].OperationsApplied != 1 || usage[0].OperationsSkipped != 1 {
		t.Fatalf("unexpected usage log: %+v", usage[0])
	}

	if len(hook.events) != 1 {
		t.Fatalf("expected one webhook, got %d", len(hook.events))
	}
	if hook.events[0].event != webhook.EventJobCompleted || hook.events[0].payload.OutputKey != job.OutputKey {
		t.Fatalf("unexpected webhook: %+v", hook.events[0])
	}
}

func TestHandleEditImageUnsupportedImageSkipsRetry(t *testing.T) {
	proc := &fakeProcessor{err: fmt.Errorf("load stage: %w", codec.ErrUnsupportedImage)}
	hook := &captureWebhook{}
	s, jobStore := newTestServer(t, proc, hook)

	err := s.handleEditImage(context.Background(), editTask(t, "https://example.test/hook"))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}

	job, _, _ := jobStore.Get(context.Background(), "job-1")
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.Error == "" {
		t.Fatal("expected error message on job")
	}
	if len(hook.events) != 1 || hook.events[0].event != webhook.EventJobFailed {
		t.Fatalf("expected job.failed webhook, got %+v", hook.events)
	}
	if len(jobStore.Usage("user-1")) != 0 {
		t.Fatal("failed jobs must not record usage")
	}
}

func TestHandleEditImageWebhookFailureDoesNotFailTask(t *testing.T) {
	proc := &fakeProcessor{result: pipeline.Result{Location: "outputs/job-1/edited_image.png"}}
	hook := &captureWebhook{err: errors.New("endpoint down")}
	s, jobStore := newTestServer(t, proc, hook)

	if err := s.handleEditImage(context.Background(), editTask(t, "https://example.test/hook")); err != nil {
		t.Fatalf("expected success despite webhook failure, got %v", err)
	}
	job, _, _ := jobStore.Get(context.Background(), "job-1")
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", job.Status)
	}
}

func TestHandleEditImageWithoutWebhookURL(t *testing.T) {
	proc := &fakeProcessor{result: pipeline.Result{Location: "out.png"}}
	hook := &captureWebhook{}
	s, _ := newTestServer(t, proc, hook)

	if err := s.handleEditImage(context.Background(), editTask(t, "")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(hook.events) != 0 {
		t.Fatalf("expected no webhook, got %d", len(hook.events))
	}
}

func TestHandleEditImageRejectsBadPayload(t *testing.T) {
	proc := &fakeProcessor{}
	s, _ := newTestServer(t, proc, nil)

	err := s.handleEditImage(context.Background(), asynq.NewTask(queue.TypeEditImage, []byte("{not json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if proc.calls != 0 {
		t.Fatal("processor must not run for a bad payload")
	}
}

func TestRecordUsageDefaultsAnonymousUser(t *testing.T) {
	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     logging.Discard(),
		usageStore: usageStore,
		metrics:    newMetrics(),
	}

	s.recordUsage(context.Background(), queue.EditImagePayload{JobID: "job-2"}, pipeline.Result{
		Edited: pipeline.Edited{Width: 10, Height: 50},
	}, 250*time.Millisecond)

	if !usageStore.called {
		t.Fatal("expected usage log to be written")
	}
	if usageStore.log.UserID != "anonymous" {
		t.Fatalf("expected anonymous user, got %s", usageStore.log.UserID)
	}
	if usageStore.log.PixelsProcessed != 500 {
		t.Fatalf("expected pixels_processed=500, got %d", usageStore.log.PixelsProcessed)
	}
	if usageStore.log.ComputeTimeMS != 250 {
		t.Fatalf("expected compute_time_ms=250, got %d", usageStore.log.ComputeTimeMS)
	}
}

func TestHandleEditImageGivesUpWaitingForSlotOnCancel(t *testing.T) {
	proc := &fakeProcessor{}
	s, jobStore := newTestServer(t, proc, &captureWebhook{})
	s.sem <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := editTask(t, "")
	done := make(chan error, 1)
	go func() { done <- s.handleEditImage(ctx, task) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler blocked on a full semaphore after cancellation")
	}

	if proc.calls != 0 {
		t.Fatalf("expected processor not to run, got %d calls", proc.calls)
	}
	job, _, _ := jobStore.Get(context.Background(), "job-1")
	if job.Status != domain.JobStatusQueued {
		t.Fatalf("expected job to stay queued, got %s", job.Status)
	}
}

func TestIsPermanent(t *testing.T) {
	cases := map[error]bool{
		fmt.Errorf("load stage: %w", codec.ErrImageTooLarge):              true,
		fmt.Errorf("fetch stage: %w", pipeline.ErrUnsupportedSourceType): true,
		errors.New("connection reset"):                                   false,
	}
	for err, want := range cases {
		if got := isPermanent(err); got != want {
			t.Fatalf("isPermanent(%v) = %v, want %v", err, got, want)
		}
	}
}
