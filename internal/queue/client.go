package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

const (
	editMaxRetry = 3
	// editTimeout covers the completion call, which has no timeout of its
	// own by default.
	editTimeout = 5 * time.Minute
)

// EnqueueEditImage schedules an edit. A start that races another start of
// the same run fails with asynq.ErrTaskIDConflict.
func (c *Client) EnqueueEditImage(ctx context.Context, payload EditImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewEditImageTask(payload)
	if err != nil {
		return nil, err
	}

	taskID := payload.TaskID
	if taskID == "" {
		taskID = payload.JobID
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(taskID),
		asynq.MaxRetry(editMaxRetry),
		asynq.Timeout(editTimeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
