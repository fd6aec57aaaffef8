/**
 * Resource Sampler
 *
 * Measures CPU and memory on its own ticker and keeps a ring buffer of the
 * last K recognition durations. Sample() is a snapshot read that never waits
 * for a fresh measurement.
 */

package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/adverant/nexus/screenocr-worker/internal/logging"
)

// Sample is one read-only snapshot of resource pressure
type Sample struct {
	CPUPercent     float64
	MemoryMB       float64
	AvgRecognition time.Duration // mean of Durations, 0 when empty
	Durations      []time.Duration
	TakenAt        time.Time // time of the last successful OS reading
}

// Sampler owns the latest load reading and the duration ring buffer
type Sampler struct {
	probe    Probe
	interval time.Duration
	logger   *logging.Logger

	mu        sync.RWMutex
	cpu       float64
	memMB     float64
	takenAt   time.Time
	durations []time.Duration // ring buffer
	next      int
	filled    bool
}

// New creates a sampler that keeps the last window recognition durations
func New(probe Probe, interval time.Duration, window int, logger *logging.Logger) *Sampler {
	if window < 1 {
		window = 1
	}
	if logger == nil {
		logger = logging.NewLogger("Sampler")
	}
	return &Sampler{
		probe:     probe,
		interval:  interval,
		logger:    logger,
		durations: make([]time.Duration, window),
	}
}

// Run measures on every tick until ctx is cancelled
func (s *Sampler) Run(ctx context.Context) error {
	s.Refresh(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Refresh takes one measurement. Probe errors keep the previous reading.
func (s *Sampler) Refresh(ctx context.Context) {
	cpu, cpuErr := s.probe.CPUPercent(ctx)
	memMB, memErr := s.probe.MemoryMB(ctx)

	if cpuErr != nil {
		s.logger.Warn("CPU reading failed", "error", cpuErr)
	}
	if memErr != nil {
		s.logger.Warn("Memory reading failed", "error", memErr)
	}
	if cpuErr != nil && memErr != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cpuErr == nil {
		s.cpu = cpu
	}
	if memErr == nil {
		s.memMB = memMB
	}
	s.takenAt = time.Now()
}

// Record appends a recognition duration to the ring buffer
func (s *Sampler) Record(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.durations[s.next] = d
	s.next = (s.next + 1) % len(s.durations)
	if s.next == 0 {
		s.filled = true
	}
}

// Sample returns the latest snapshot, oldest duration first
func (s *Sampler) Sample() Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var window []time.Duration
	if s.filled {
		window = make([]time.Duration, 0, len(s.durations))
		window = append(window, s.durations[s.next:]...)
		window = append(window, s.durations[:s.next]...)
	} else {
		window = append([]time.Duration(nil), s.durations[:s.next]...)
	}

	var total time.Duration
	for _, d := range window {
		total += d
	}
	var avg time.Duration
	if len(window) > 0 {
		avg = total / time.Duration(len(window))
	}

	return Sample{
		CPUPercent:     s.cpu,
		MemoryMB:       s.memMB,
		AvgRecognition: avg,
		Durations:      window,
		TakenAt:        s.takenAt,
	}
}
