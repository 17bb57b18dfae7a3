package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dunamismax/pixelprompt/internal/domain"
)

func TestMemoryJobStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	now := time.Now().UTC()
	if err := s.Create(ctx, domain.Job{ID: "job-1", Status: domain.JobStatusCreated, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create: %v", err)
	}

	job, err := s.UpdateStatus(ctx, "job-1", domain.JobStatusProcessing)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if job.Status != domain.JobStatusProcessing {
		t.Fatalf("expected processing, got %s", job.Status)
	}

	ops := []domain.OperationRecord{{Type: "flip", Direction: "vertical"}}
	job, err = s.SaveResult(ctx, "job-1", domain.JobStatusSucceeded, domain.JobResult{
		Operations: ops,
		OutputKey:  "outputs/job-1/edited_image.png",
	})
	if err != nil {
		t.Fatalf("save result: %v", err)
	}
	ops[0].Type = "mutated"

	got, ok, err := s.Get(ctx, "job-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Status != domain.JobStatusSucceeded || got.OutputKey != job.OutputKey {
		t.Fatalf("unexpected job %+v", got)
	}
	if got.Operations[0].Type != "flip" {
		t.Fatalf("expected stored operations to be isolated from caller, got %+v", got.Operations)
	}
}

func TestMemoryJobStore_MissingJob(t *testing.T) {
	s := NewMemoryJobStore()

	if _, ok, err := s.Get(context.Background(), "nope"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if _, err := s.UpdateStatus(context.Background(), "nope", domain.JobStatusQueued); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := s.SaveResult(context.Background(), "nope", domain.JobStatusFailed, domain.JobResult{}); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryJobStore_Usage(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()

	_ = s.RecordUsage(ctx, domain.UsageLog{UserID: "alice", JobID: "a1", OperationsApplied: 2})
	_ = s.RecordUsage(ctx, domain.UsageLog{UserID: "bob", JobID: "b1"})
	_ = s.RecordUsage(ctx, domain.UsageLog{UserID: "alice", JobID: "a2", OperationsSkipped: 1})

	usage := s.Usage("alice")
	if len(usage) != 2 || usage[0].JobID != "a1" || usage[1].JobID != "a2" {
		t.Fatalf("unexpected usage %+v", usage)
	}
	if usage[0].CreatedAt.IsZero() {
		t.Fatal("expected created_at to be stamped")
	}
}
