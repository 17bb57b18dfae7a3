package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
)

const TypeEditImage = "image:edit"

// EditImagePayload carries everything the worker needs without a store
// lookup. History is the JSON list of operations already applied upstream.
type EditImagePayload struct {
	JobID       string    `json:"job_id"`
	UserID      string    `json:"user_id,omitempty"`
	SourceType  string    `json:"source_type"`
	ObjectKey   string    `json:"object_key"`
	Prompt      string    `json:"prompt"`
	History     string    `json:"history,omitempty"`
	Format      string    `json:"format"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	RequestedAt time.Time `json:"requested_at"`

	// TaskID names the asynq task; see TaskID. Empty means JobID.
	TaskID string `json:"-"`
}

// TaskID names the task for one run of a job. A first run uses the job id,
// so two concurrent starts collide. asynq keeps failed tasks archived under
// their id, so a restart after failedAt gets a new id derived from it.
func TaskID(jobID string, failedAt time.Time) string {
	if failedAt.IsZero() {
		return jobID
	}
	return jobID + "-" + strconv.FormatInt(failedAt.UnixNano(), 36)
}

func NewEditImageTask(payload EditImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal edit payload: %w", err)
	}
	return asynq.NewTask(TypeEditImage, body), nil
}

func ParseEditImagePayload(task *asynq.Task) (EditImagePayload, error) {
	var payload EditImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return EditImagePayload{}, fmt.Errorf("unmarshal edit payload: %w", err)
	}
	return payload, nil
}
