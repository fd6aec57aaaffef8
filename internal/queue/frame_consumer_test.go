package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/screenocr-worker/internal/frame"
	"github.com/adverant/nexus/screenocr-worker/internal/logging"
)

type recordingInbox struct {
	mu     sync.Mutex
	frames []frame.Frame
}

func (r *recordingInbox) Publish(f frame.Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func testConsumer(inbox FramePublisher, maxAge time.Duration) *FrameConsumer {
	return newFrameConsumer(&FrameConsumerConfig{
		QueueName: "frames",
		Inbox:     inbox,
		MaxAge:    maxAge,
	}, logging.NewLogger("FrameConsumerTest"))
}

func TestFramePayloadUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"base64", `{"source":"term","data":"aGVsbG8="}`, "hello", false},
		{"node buffer", `{"source":"term","data":{"type":"Buffer","data":[104,105]}}`, "hi", false},
		{"missing data", `{"source":"term"}`, "", false},
		{"bad base64", `{"data":"!!!"}`, "", true},
		{"wrong buffer type", `{"data":{"type":"Blob","data":[1]}}`, "", true},
		{"byte out of range", `{"data":{"type":"Buffer","data":[300]}}`, "", true},
		{"number", `{"data":42}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p FramePayload
			err := json.Unmarshal([]byte(tt.raw), &p)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && string(p.Data) != tt.want {
				t.Errorf("data = %q, want %q", p.Data, tt.want)
			}
		})
	}
}

func TestHandleFramePublishes(t *testing.T) {
	inbox := &recordingInbox{}
	c := testConsumer(inbox, 0)

	task, err := NewFrameTask("window:build", "png", []byte("pixels"))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.handleFrame(context.Background(), task); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}

	if len(inbox.frames) != 1 {
		t.Fatalf("published %d frames", len(inbox.frames))
	}
	f := inbox.frames[0]
	if f.Source != "window:build" || f.Format != "png" || string(f.Data) != "pixels" || f.ID == "" {
		t.Errorf("frame = %+v", f)
	}
	if c.Stats().Accepted != 1 {
		t.Errorf("stats = %+v", c.Stats())
	}
}

func TestHandleFrameRejectsWithoutRetry(t *testing.T) {
	inbox := &recordingInbox{}
	c := testConsumer(inbox, 0)

	for _, payload := range []string{`not json`, `{"source":"x","data":""}`} {
		err := c.handleFrame(context.Background(), asynq.NewTask(TaskTypeFrame, []byte(payload)))
		if !errors.Is(err, asynq.SkipRetry) {
			t.Errorf("payload %q: err = %v, want SkipRetry", payload, err)
		}
	}
	if len(inbox.frames) != 0 {
		t.Error("rejected tasks must not publish")
	}
	if c.Stats().Rejected != 2 {
		t.Errorf("stats = %+v", c.Stats())
	}
}

func TestHandleFrameDropsStale(t *testing.T) {
	inbox := &recordingInbox{}
	c := testConsumer(inbox, 2*time.Second)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	stale, _ := json.Marshal(FramePayload{Source: "a", Data: []byte("old"), CapturedAt: now.Add(-5 * time.Second)})
	fresh, _ := json.Marshal(FramePayload{Source: "a", Data: []byte("new"), CapturedAt: now.Add(-time.Second)})

	for _, p := range [][]byte{stale, fresh} {
		if err := c.handleFrame(context.Background(), asynq.NewTask(TaskTypeFrame, p)); err != nil {
			t.Fatal(err)
		}
	}

	if len(inbox.frames) != 1 || string(inbox.frames[0].Data) != "new" {
		t.Fatalf("frames = %+v", inbox.frames)
	}
	if !inbox.frames[0].CapturedAt.Equal(now.Add(-time.Second)) {
		t.Errorf("capture time not preserved: %v", inbox.frames[0].CapturedAt)
	}
	if s := c.Stats(); s.Stale != 1 || s.Accepted != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestNewFrameConsumerValidation(t *testing.T) {
	inbox := &recordingInbox{}
	tests := []struct {
		name string
		cfg  FrameConsumerConfig
	}{
		{"no redis", FrameConsumerConfig{QueueName: "frames", Inbox: inbox}},
		{"no queue", FrameConsumerConfig{RedisURL: "redis://localhost:6379", Inbox: inbox}},
		{"no inbox", FrameConsumerConfig{RedisURL: "redis://localhost:6379", QueueName: "frames"}},
		{"bad url", FrameConsumerConfig{RedisURL: "http://nope", QueueName: "frames", Inbox: inbox}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if _, err := NewFrameConsumer(&cfg, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}
