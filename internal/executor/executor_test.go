package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adverant/nexus/screenocr-worker/internal/engine"
	pipeerrors "github.com/adverant/nexus/screenocr-worker/internal/errors"
	"github.com/adverant/nexus/screenocr-worker/internal/frame"
)

const epsilon = 50 * time.Millisecond

func newExecutor(t *testing.T, recognizers map[string]engine.RecognizerFunc) *Executor {
	t.Helper()
	var entries []engine.Entry
	for name, fn := range recognizers {
		entries = append(entries, engine.Entry{
			Descriptor: engine.Descriptor{Name: name, Class: engine.ClassFast},
			Recognizer: fn,
		})
	}
	reg, err := engine.NewRegistry(entries...)
	if err != nil {
		t.Fatal(err)
	}
	return New(reg, nil)
}

func request(name string, deadline time.Duration, data []byte) Request {
	return Request{
		Frame:    frame.New("test", "png", data),
		Engine:   engine.Descriptor{Name: name, Class: engine.ClassFast},
		Deadline: deadline,
	}
}

func TestExecuteSuccess(t *testing.T) {
	ex := newExecutor(t, map[string]engine.RecognizerFunc{
		"ok": func(ctx context.Context, f frame.Frame) (engine.Recognition, error) {
			return engine.Recognition{Text: "hello world", Confidence: 0.9}, nil
		},
	})

	req := request("ok", time.Second, []byte("x"))
	res, err := ex.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Text != "hello world" || res.Engine != "ok" || res.Class != "fast" {
		t.Errorf("result = %+v", res)
	}
	if !res.CapturedAt.Equal(req.Frame.CapturedAt) {
		t.Error("capture timestamp not carried through")
	}
	if res.ID == "" {
		t.Error("result ID should be set")
	}

	s := ex.Stats()
	if s.Total != 1 || s.Succeeded != 1 || s.SuccessRate != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestExecuteNeverReturningEngineTimesOut(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	stuck := func(ctx context.Context, f frame.Frame) (engine.Recognition, error) {
		<-block
		return engine.Recognition{}, nil
	}
	sizes := []int{1, 1 << 20, 8 << 20}
	recognizers := make(map[string]engine.RecognizerFunc)
	for i := range sizes {
		recognizers[fmt.Sprintf("stuck-%d", i)] = stuck
	}
	ex := newExecutor(t, recognizers)

	for i, size := range sizes {
		deadline := 100 * time.Millisecond
		start := time.Now()
		res, err := ex.Execute(context.Background(), request(fmt.Sprintf("stuck-%d", i), deadline, make([]byte, size)))
		elapsed := time.Since(start)

		if !pipeerrors.IsTimeout(err) {
			t.Fatalf("size %d: expected timeout, got %v", size, err)
		}
		if res.Text != "" {
			t.Errorf("size %d: timeout should carry no text", size)
		}
		if elapsed < deadline || elapsed > deadline+epsilon {
			t.Errorf("size %d: returned after %v, deadline %v", size, elapsed, deadline)
		}
	}

	s := ex.Stats()
	if s.Timeouts != 3 {
		t.Errorf("timeouts = %d, want 3", s.Timeouts)
	}
	if s.Abandoned != 3 {
		t.Errorf("abandoned = %d, want 3", s.Abandoned)
	}
	if s.LastDuration != 100*time.Millisecond {
		t.Errorf("timeout duration recorded as %v, want the deadline", s.LastDuration)
	}
}

func TestExecuteKeepsOneCallPerEngine(t *testing.T) {
	release := make(chan struct{})
	var running, peak, calls atomic.Int32

	ex := newExecutor(t, map[string]engine.RecognizerFunc{
		"cgo": func(ctx context.Context, f frame.Frame) (engine.Recognition, error) {
			calls.Add(1)
			n := running.Add(1)
			defer running.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release // ignores ctx like a blocking cgo call
			return engine.Recognition{Text: "late"}, nil
		},
	})

	deadline := 20 * time.Millisecond
	if _, err := ex.Execute(context.Background(), request("cgo", deadline, nil)); !pipeerrors.IsTimeout(err) {
		t.Fatalf("first call: expected timeout, got %v", err)
	}

	for i := 0; i < 4; i++ {
		start := time.Now()
		_, err := ex.Execute(context.Background(), request("cgo", deadline, nil))
		if !pipeerrors.IsTimeout(err) || !errors.Is(err, ErrEngineBusy) {
			t.Fatalf("call %d: expected busy timeout, got %v", i+2, err)
		}
		if elapsed := time.Since(start); elapsed >= deadline {
			t.Errorf("call %d: busy engine should fail fast, took %v", i+2, elapsed)
		}
	}

	if calls.Load() != 1 || peak.Load() != 1 {
		t.Errorf("engine calls = %d, peak concurrent = %d, want 1 and 1", calls.Load(), peak.Load())
	}
	s := ex.Stats()
	if s.Timeouts != 5 || s.Refused != 4 || s.Abandoned != 1 {
		t.Errorf("stats = %+v", s)
	}

	close(release)
	waitUntil := time.Now().Add(time.Second)
	for ex.Stats().Abandoned != 0 && time.Now().Before(waitUntil) {
		time.Sleep(time.Millisecond)
	}
	if ex.Stats().Abandoned != 0 {
		t.Fatal("abandoned call never finished")
	}

	res, err := ex.Execute(context.Background(), request("cgo", time.Second, nil))
	if err != nil || res.Text != "late" {
		t.Fatalf("engine not usable after its abandoned call returned: %v", err)
	}
	if calls.Load() != 2 || peak.Load() != 1 {
		t.Errorf("engine calls = %d, peak concurrent = %d, want 2 and 1", calls.Load(), peak.Load())
	}
}

func TestExecuteEngineErrors(t *testing.T) {
	ex := newExecutor(t, map[string]engine.RecognizerFunc{
		"broken": func(ctx context.Context, f frame.Frame) (engine.Recognition, error) {
			return engine.Recognition{}, errors.New("malformed input")
		},
		"panics": func(ctx context.Context, f frame.Frame) (engine.Recognition, error) {
			panic("boom")
		},
		"ctx-aware": func(ctx context.Context, f frame.Frame) (engine.Recognition, error) {
			<-ctx.Done()
			return engine.Recognition{}, ctx.Err()
		},
	})

	tests := []struct {
		engine string
		want   pipeerrors.ErrorCode
	}{
		{"broken", pipeerrors.ErrorRecognitionFailed},
		{"panics", pipeerrors.ErrorRecognitionFailed},
		{"ctx-aware", pipeerrors.ErrorRecognitionTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.engine, func(t *testing.T) {
			_, err := ex.Execute(context.Background(), request(tt.engine, 50*time.Millisecond, nil))
			if got := pipeerrors.CodeOf(err); got != tt.want {
				t.Errorf("code = %s, want %s (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestExecuteInvalidRequest(t *testing.T) {
	ex := newExecutor(t, map[string]engine.RecognizerFunc{
		"ok": func(ctx context.Context, f frame.Frame) (engine.Recognition, error) {
			return engine.Recognition{Text: "x"}, nil
		},
	})

	tests := []struct {
		name string
		req  Request
	}{
		{"zero deadline", request("ok", 0, nil)},
		{"negative deadline", request("ok", -time.Second, nil)},
		{"unknown engine", request("missing", time.Second, nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ex.Execute(context.Background(), tt.req)
			if got := pipeerrors.CodeOf(err); got != pipeerrors.ErrorInvalidRequest {
				t.Errorf("code = %s, want INVALID_REQUEST", got)
			}
		})
	}
}

func TestExecuteInvalidRequestKeepsAverage(t *testing.T) {
	ex := newExecutor(t, map[string]engine.RecognizerFunc{
		"ok": func(ctx context.Context, f frame.Frame) (engine.Recognition, error) {
			time.Sleep(20 * time.Millisecond)
			return engine.Recognition{Text: "x"}, nil
		},
	})

	if _, err := ex.Execute(context.Background(), request("ok", time.Second, nil)); err != nil {
		t.Fatal(err)
	}
	before := ex.Stats()

	ex.Execute(context.Background(), request("ok", 0, nil))
	ex.Execute(context.Background(), request("missing", time.Second, nil))

	after := ex.Stats()
	if after.AvgProcessing != before.AvgProcessing || after.LastDuration != before.LastDuration {
		t.Errorf("average moved from %v to %v", before.AvgProcessing, after.AvgProcessing)
	}
	if after.Failures != 2 || after.Total != 3 {
		t.Errorf("stats = %+v", after)
	}
}

func TestExecuteIgnoresParentCancellation(t *testing.T) {
	ex := newExecutor(t, map[string]engine.RecognizerFunc{
		"slow": func(ctx context.Context, f frame.Frame) (engine.Recognition, error) {
			select {
			case <-time.After(80 * time.Millisecond):
				return engine.Recognition{Text: "finished"}, nil
			case <-ctx.Done():
				return engine.Recognition{}, ctx.Err()
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	res, err := ex.Execute(ctx, request("slow", time.Second, nil))
	if err != nil {
		t.Fatalf("parent cancellation cut recognition short: %v", err)
	}
	if res.Text != "finished" {
		t.Errorf("text = %q", res.Text)
	}
}
