package sampler

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Probe queries the operating system for load figures. Calls may block
// briefly; the sampler never makes them on the orchestrator's path.
type Probe interface {
	CPUPercent(ctx context.Context) (float64, error)
	MemoryMB(ctx context.Context) (float64, error)
}

// ProcessProbe reports the load of the current process. CPU is normalised
// to 0-100 across all cores.
type ProcessProbe struct {
	mu   sync.Mutex
	proc *process.Process
}

// NewProcessProbe attaches to the running process
func NewProcessProbe() (*ProcessProbe, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to attach to process: %w", err)
	}
	return &ProcessProbe{proc: p}, nil
}

func (p *ProcessProbe) CPUPercent(ctx context.Context) (float64, error) {
	// Percent with a zero interval diffs against the previous call and keeps
	// that state on the process handle.
	p.mu.Lock()
	defer p.mu.Unlock()

	pct, err := p.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return 0, err
	}
	return clampPercent(pct / float64(runtime.NumCPU())), nil
}

func (p *ProcessProbe) MemoryMB(ctx context.Context) (float64, error) {
	info, err := p.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return float64(info.RSS) / 1024 / 1024, nil
}

// HostProbe reports whole-host load
type HostProbe struct{}

func (HostProbe) CPUPercent(ctx context.Context) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, fmt.Errorf("no cpu readings returned")
	}
	return clampPercent(pcts[0]), nil
}

func (HostProbe) MemoryMB(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return float64(vm.Used) / 1024 / 1024, nil
}

// NewProbe returns the probe for a configured scope: "process" or "host"
func NewProbe(scope string) (Probe, error) {
	switch scope {
	case "", "process":
		return NewProcessProbe()
	case "host":
		return HostProbe{}, nil
	default:
		return nil, fmt.Errorf("unknown sampler scope %q", scope)
	}
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
