package store

import (
	"context"
	"errors"

	"github.com/dunamismax/pixelprompt/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// SaveResult sets the final status together with the decoded
	// operations, output location and error text.
	SaveResult(ctx context.Context, id, status string, result domain.JobResult) (domain.Job, error)
}

type UsageStore interface {
	RecordUsage(ctx context.Context, usage domain.UsageLog) error
}
