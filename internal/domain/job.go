package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"

	FormatPNG = "png"
	FormatPDF = "pdf"
)

type CreateJobRequest struct {
	SourceType  string `json:"source_type"`
	ObjectKey   string `json:"object_key,omitempty"`
	Prompt      string `json:"prompt"`
	Format      string `json:"format,omitempty"`
	WebhookURL  string `json:"webhook_url,omitempty"`
	ParentJobID string `json:"parent_job_id,omitempty"`
}

// Job is one edit request and, once processed, its outcome.
type Job struct {
	ID          string
	UserID      string
	ParentJobID string
	Status      string
	SourceType  string
	ObjectKey   string
	Prompt      string
	Format      string
	History     string
	WebhookURL  string
	Operations  []OperationRecord
	OutputKey   string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// JobResult is what a finished edit writes back to the job.
type JobResult struct {
	Operations []OperationRecord
	OutputKey  string
	Error      string
}

func (r CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("prompt is required")
	}

	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		if strings.TrimSpace(r.ParentJobID) != "" {
			return nil
		}
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" && strings.TrimSpace(r.ParentJobID) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	return nil
}

// NormalizeFormat maps any requested output format onto the two containers
// the encoder produces: "pdf" when asked for (case-insensitive), else "png".
func NormalizeFormat(format string) string {
	if strings.EqualFold(strings.TrimSpace(format), FormatPDF) {
		return FormatPDF
	}
	return FormatPNG
}
