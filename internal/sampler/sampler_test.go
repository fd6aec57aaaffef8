package sampler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeProbe struct {
	mu    sync.Mutex
	cpu   float64
	mem   float64
	err   error
	block chan struct{}
	calls int
}

func (f *fakeProbe) CPUPercent(ctx context.Context) (float64, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.cpu, f.err
}

func (f *fakeProbe) MemoryMB(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mem, f.err
}

func (f *fakeProbe) set(cpu float64, err error) {
	f.mu.Lock()
	f.cpu, f.err = cpu, err
	f.mu.Unlock()
}

func TestRecordRingBuffer(t *testing.T) {
	s := New(&fakeProbe{}, time.Second, 3, nil)

	if got := s.Sample(); len(got.Durations) != 0 || got.AvgRecognition != 0 {
		t.Fatalf("empty sampler returned %+v", got)
	}

	for _, ms := range []int{100, 200, 300, 400} {
		s.Record(time.Duration(ms) * time.Millisecond)
	}

	got := s.Sample()
	want := []time.Duration{200 * time.Millisecond, 300 * time.Millisecond, 400 * time.Millisecond}
	if len(got.Durations) != len(want) {
		t.Fatalf("durations = %v, want %v", got.Durations, want)
	}
	for i := range want {
		if got.Durations[i] != want[i] {
			t.Errorf("durations[%d] = %v, want %v", i, got.Durations[i], want[i])
		}
	}
	if got.AvgRecognition != 300*time.Millisecond {
		t.Errorf("avg = %v, want 300ms", got.AvgRecognition)
	}
}

func TestRefreshKeepsPreviousReadingOnError(t *testing.T) {
	probe := &fakeProbe{cpu: 42, mem: 128}
	s := New(probe, time.Second, 5, nil)

	s.Refresh(context.Background())
	first := s.Sample()
	if first.CPUPercent != 42 || first.MemoryMB != 128 || first.TakenAt.IsZero() {
		t.Fatalf("sample = %+v", first)
	}

	probe.set(99, errors.New("procfs unavailable"))
	s.Refresh(context.Background())
	if got := s.Sample(); got.CPUPercent != 42 || !got.TakenAt.Equal(first.TakenAt) {
		t.Errorf("failed reading replaced snapshot: %+v", got)
	}
}

func TestSampleDoesNotWaitForProbe(t *testing.T) {
	probe := &fakeProbe{cpu: 10, block: make(chan struct{})}
	s := New(probe, 10*time.Millisecond, 5, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	start := time.Now()
	for i := 0; i < 100; i++ {
		s.Sample()
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Sample blocked behind a slow probe for %v", elapsed)
	}

	cancel()
	close(probe.block)
	<-done
}

func TestRunTicks(t *testing.T) {
	probe := &fakeProbe{cpu: 55}
	s := New(probe, 5*time.Millisecond, 5, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	probe.mu.Lock()
	calls := probe.calls
	probe.mu.Unlock()
	if calls < 2 {
		t.Errorf("probe called %d times, expected several ticks", calls)
	}
	if s.Sample().CPUPercent != 55 {
		t.Error("sample not updated by Run")
	}
}

func TestNewProbeScopes(t *testing.T) {
	if _, err := NewProbe("host"); err != nil {
		t.Errorf("host probe: %v", err)
	}
	if _, err := NewProbe("cluster"); err == nil {
		t.Error("expected error for unknown scope")
	}
}
