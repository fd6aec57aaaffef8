/**
 * Frame Queue Consumer
 *
 * Lets capture agents on other hosts submit frames through Redis instead of
 * HTTP. Each asynq task of type ocr:frame carries one image; the consumer
 * publishes it to the latest-frame inbox, so a burst of queued frames
 * collapses to the newest one exactly like the HTTP ingest path.
 *
 * Frame data may be a base64 string or a Node.js Buffer object
 * ({"type":"Buffer","data":[...]}) for producers written in TypeScript.
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/screenocr-worker/internal/frame"
	"github.com/adverant/nexus/screenocr-worker/internal/logging"
)

// TaskTypeFrame is the asynq task type carrying one captured frame
const TaskTypeFrame = "ocr:frame"

// FramePayload is the JSON body of an ocr:frame task
type FramePayload struct {
	Source     string    `json:"source"`
	Format     string    `json:"format,omitempty"`
	CapturedAt time.Time `json:"capturedAt,omitempty"`
	Data       []byte    `json:"data"`
}

// UnmarshalJSON accepts data as a base64 string or a Node.js Buffer object
func (p *FramePayload) UnmarshalJSON(raw []byte) error {
	type Alias FramePayload
	aux := &struct {
		Data interface{} `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(raw, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal FramePayload: %w", err)
	}

	switch v := aux.Data.(type) {
	case nil:
		p.Data = nil

	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 frame data: %w", err)
		}
		p.Data = decoded

	case map[string]interface{}:
		if bufferType, ok := v["type"].(string); !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.Data = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.Data[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("frame data must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// NewFrameTask builds an ocr:frame task. Used by capture agents written in Go.
func NewFrameTask(source, format string, data []byte) (*asynq.Task, error) {
	payload, err := json.Marshal(FramePayload{
		Source:     source,
		Format:     format,
		CapturedAt: time.Now(),
		Data:       data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame: %w", err)
	}
	return asynq.NewTask(TaskTypeFrame, payload), nil
}

// FramePublisher receives decoded frames
type FramePublisher interface {
	Publish(f frame.Frame)
}

// FrameConsumerConfig holds consumer configuration
type FrameConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Inbox       FramePublisher
	// MaxAge drops frames captured longer ago than this; 0 keeps everything
	MaxAge time.Duration
}

// FrameConsumerStats counts handled tasks
type FrameConsumerStats struct {
	Accepted uint64 `json:"accepted"`
	Stale    uint64 `json:"stale"`
	Rejected uint64 `json:"rejected"`
}

// FrameConsumer feeds queued frames into the inbox
type FrameConsumer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	inbox  FramePublisher
	config *FrameConsumerConfig
	logger *logging.Logger
	now    func() time.Time

	accepted uint64
	stale    uint64
	rejected uint64
}

// NewFrameConsumer creates an asynq server bound to the frame queue
func NewFrameConsumer(cfg *FrameConsumerConfig, logger *logging.Logger) (*FrameConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Inbox == nil {
		return nil, fmt.Errorf("Inbox is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = logging.NewLogger("FrameConsumer")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	c := newFrameConsumer(cfg, logger)
	c.server = asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 1,
			},
			// A frame that failed once is already stale; no backoff ladder
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Second
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Warn("Frame task failed", "type", task.Type(), "bytes", len(task.Payload()), "error", err)
			}),
			Logger: asynqLogger{logger},
		},
	)
	c.mux.HandleFunc(TaskTypeFrame, c.handleFrame)
	return c, nil
}

func newFrameConsumer(cfg *FrameConsumerConfig, logger *logging.Logger) *FrameConsumer {
	return &FrameConsumer{
		mux:    asynq.NewServeMux(),
		inbox:  cfg.Inbox,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Run consumes until ctx is cancelled, then shuts the server down
func (c *FrameConsumer) Run(ctx context.Context) error {
	c.logger.Info("Starting frame consumer", "queue", c.config.QueueName, "concurrency", c.config.Concurrency)
	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start frame consumer: %w", err)
	}

	<-ctx.Done()
	c.server.Shutdown()
	c.logger.Info("Frame consumer stopped", "accepted", atomic.LoadUint64(&c.accepted))
	return nil
}

// Stats returns handled task counters
func (c *FrameConsumer) Stats() FrameConsumerStats {
	return FrameConsumerStats{
		Accepted: atomic.LoadUint64(&c.accepted),
		Stale:    atomic.LoadUint64(&c.stale),
		Rejected: atomic.LoadUint64(&c.rejected),
	}
}

func (c *FrameConsumer) handleFrame(ctx context.Context, task *asynq.Task) error {
	var p FramePayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		atomic.AddUint64(&c.rejected, 1)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if len(p.Data) == 0 {
		atomic.AddUint64(&c.rejected, 1)
		return fmt.Errorf("empty frame data: %w", asynq.SkipRetry)
	}

	if c.config.MaxAge > 0 && !p.CapturedAt.IsZero() {
		if age := c.now().Sub(p.CapturedAt); age > c.config.MaxAge {
			atomic.AddUint64(&c.stale, 1)
			c.logger.Debug("Dropping stale frame", "source", p.Source, "age", age)
			return nil
		}
	}

	source := p.Source
	if source == "" {
		source = "queue"
	}
	f := frame.New(source, p.Format, p.Data)
	if !p.CapturedAt.IsZero() {
		f.CapturedAt = p.CapturedAt
	}
	c.inbox.Publish(f)
	atomic.AddUint64(&c.accepted, 1)
	return nil
}

// asynqLogger routes asynq's internal logging through the worker logger
type asynqLogger struct {
	l *logging.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }

func (a asynqLogger) Fatal(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
