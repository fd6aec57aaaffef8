package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/screenocr-worker/internal/ocr"
)

func testResult() ocr.Result {
	return ocr.Result{
		ID:         "9f1c6a0e-5b7e-4a7c-9d8e-2f9a1b3c4d5e",
		Text:       "build passed",
		Confidence: 0.88,
		Engine:     "tesseract-fast",
		Class:      "fast",
		Duration:   420 * time.Millisecond,
	}
}

func TestNewResultTask(t *testing.T) {
	task, err := NewResultTask(testResult())
	if err != nil {
		t.Fatal(err)
	}
	if task.Type() != TaskTypeResult {
		t.Errorf("type = %s", task.Type())
	}

	var ev ocr.Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if ev.Type != ocr.EventType || ev.Text != "build passed" || ev.Metadata.ProcessingMs != 420 {
		t.Errorf("event = %+v", ev)
	}
}

func TestNewTaskProducerValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  TaskProducerConfig
	}{
		{"missing url", TaskProducerConfig{QueueName: "ocr"}},
		{"missing queue", TaskProducerConfig{RedisURL: "redis://localhost:6379"}},
		{"bad url", TaskProducerConfig{RedisURL: "http://nope", QueueName: "ocr"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTaskProducer(&tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}

	p, err := NewTaskProducer(&TaskProducerConfig{RedisURL: "redis://localhost:6379/0", QueueName: "ocr"})
	if err != nil {
		t.Fatalf("valid config: %v", err)
	}
	defer p.Close()
	if p.Name() != "tasks" || len(p.opts) != 3 {
		t.Errorf("producer = %+v", p)
	}
}

func TestRedisPublisherKeys(t *testing.T) {
	p := newRedisPublisher(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "screens", 10)
	defer p.Close()

	if p.EventsChannel() != "screens:events" || p.RecentKey() != "screens:recent" {
		t.Errorf("keys = %s %s", p.EventsChannel(), p.RecentKey())
	}
}

func TestRedisPublisherUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	p := newRedisPublisher(client, "screenocr", 10)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Deliver(ctx, testResult()); err == nil {
		t.Fatal("expected error delivering to an unreachable Redis")
	}
}

func TestNewRedisPublisherRejectsBadURL(t *testing.T) {
	if _, err := NewRedisPublisher(context.Background(), &RedisPublisherConfig{}); err == nil {
		t.Error("empty URL should be rejected")
	}
	if _, err := NewRedisPublisher(context.Background(), &RedisPublisherConfig{RedisURL: "not a url"}); err == nil {
		t.Error("malformed URL should be rejected")
	}
}
