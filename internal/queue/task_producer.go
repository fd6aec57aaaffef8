/**
 * Task Producer for downstream workers
 *
 * Enqueues every delivered result as an asynq task so that other services
 * (indexing, translation, archiving) can consume recognized text with
 * retries and backoff handled by the queue.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/screenocr-worker/internal/ocr"
)

// TaskTypeResult is the asynq task type carrying one ocr.Event
const TaskTypeResult = "ocr:result"

// TaskProducer is a result sink that enqueues asynq tasks
type TaskProducer struct {
	client *asynq.Client
	queue  string
	opts   []asynq.Option
}

// TaskProducerConfig holds producer configuration
type TaskProducerConfig struct {
	RedisURL  string
	QueueName string
	MaxRetry  int
	Retention time.Duration
}

// NewTaskProducer creates an asynq client for the configured queue
func NewTaskProducer(cfg *TaskProducerConfig) (*TaskProducer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 3
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	return &TaskProducer{
		client: asynq.NewClient(redisOpt),
		queue:  cfg.QueueName,
		opts:   TaskOptions(cfg.QueueName, cfg.MaxRetry, cfg.Retention),
	}, nil
}

// TaskOptions are the enqueue options applied to every result task
func TaskOptions(queue string, maxRetry int, retention time.Duration) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(queue),
		asynq.MaxRetry(maxRetry),
		asynq.Retention(retention),
	}
}

// NewResultTask builds the task for one result
func NewResultTask(r ocr.Result) (*asynq.Task, error) {
	payload, err := json.Marshal(ocr.NewEvent(r))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}
	return asynq.NewTask(TaskTypeResult, payload), nil
}

func (p *TaskProducer) Name() string { return "tasks" }

func (p *TaskProducer) Deliver(ctx context.Context, r ocr.Result) error {
	task, err := NewResultTask(r)
	if err != nil {
		return err
	}
	opts := append([]asynq.Option{asynq.TaskID(r.ID)}, p.opts...)
	if r.ID == "" {
		opts = p.opts
	}
	if _, err := p.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("failed to enqueue result task: %w", err)
	}
	return nil
}

// Close closes the asynq client
func (p *TaskProducer) Close() error {
	return p.client.Close()
}
