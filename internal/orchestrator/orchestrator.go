/**
 * Orchestrator - main recognition loop
 *
 * One cycle: Idle -> Acquiring -> Recognizing -> Distributing -> Idle.
 *
 * - Idle sleeps for the controller's current interval; shutdown interrupts it.
 * - Acquiring takes the newest frame; no frame is a skipped cycle, not an error.
 * - Recognizing runs one request under the planned deadline and feeds the
 *   outcome back to the sampler and the controller whatever it was.
 * - Distributing forwards non-empty, non-duplicate text to the sinks without
 *   waiting for them.
 *
 * Cycles are strictly sequential: at most one recognition is in flight.
 */

package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adverant/nexus/screenocr-worker/internal/controller"
	pipeerrors "github.com/adverant/nexus/screenocr-worker/internal/errors"
	"github.com/adverant/nexus/screenocr-worker/internal/executor"
	"github.com/adverant/nexus/screenocr-worker/internal/frame"
	"github.com/adverant/nexus/screenocr-worker/internal/logging"
	"github.com/adverant/nexus/screenocr-worker/internal/ocr"
	"github.com/adverant/nexus/screenocr-worker/internal/sampler"
)

// State is the loop's position in the cycle
type State string

const (
	StateIdle         State = "idle"
	StateAcquiring    State = "acquiring"
	StateRecognizing  State = "recognizing"
	StateDistributing State = "distributing"
	StateStopped      State = "stopped"
)

// Executor runs one recognition request
type Executor interface {
	Execute(ctx context.Context, req executor.Request) (ocr.Result, error)
}

// Planner is the adaptive controller as seen by the loop
type Planner interface {
	Current() controller.Plan
	Evaluate(sample sampler.Sample, out controller.Outcome) controller.Plan
}

// LoadSampler provides resource snapshots and collects durations
type LoadSampler interface {
	Sample() sampler.Sample
	Record(d time.Duration)
}

// Filter decides whether a result is new enough to forward
type Filter interface {
	ShouldEmit(result ocr.Result) bool
}

// Dispatcher fans results out to sinks without blocking
type Dispatcher interface {
	Distribute(ctx context.Context, result ocr.Result)
}

// Deps are the orchestrator's collaborators
type Deps struct {
	Source      frame.Source
	Executor    Executor
	Controller  Planner
	Sampler     LoadSampler
	Dedup       Filter
	Distributor Dispatcher
	Logger      *logging.Logger
}

// CycleReport describes one completed cycle
type CycleReport struct {
	Acquired    bool
	FrameID     string
	Outcome     controller.Outcome
	Result      ocr.Result
	Err         error
	Empty       bool
	Suppressed  bool
	Distributed bool
	Next        controller.Plan
}

// Status is a point-in-time view of the loop for the control surface
type Status struct {
	State        State     `json:"state"`
	StartedAt    time.Time `json:"started_at"`
	Cycles       int64     `json:"cycles"`
	Misses       int64     `json:"misses"`
	Recognized   int64     `json:"recognized"`
	Timeouts     int64     `json:"timeouts"`
	Failures     int64     `json:"failures"`
	Empty        int64     `json:"empty"`
	Suppressed   int64     `json:"suppressed"`
	Distributed  int64     `json:"distributed"`
	LastError    string    `json:"last_error,omitempty"`
	LastResultAt time.Time `json:"last_result_at,omitempty"`

	Engine      string `json:"engine"`
	Class       string `json:"class"`
	Interval    string `json:"interval"`
	Deadline    string `json:"deadline"`
	BreakerOpen bool   `json:"breaker_open"`
	Reason      string `json:"reason"`
}

// Orchestrator drives the recognition loop
type Orchestrator struct {
	deps   Deps
	logger *logging.Logger

	mu     sync.Mutex
	status Status
}

// New validates the collaborators and creates the loop
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Source == nil:
		return nil, fmt.Errorf("frame source is required")
	case deps.Executor == nil:
		return nil, fmt.Errorf("executor is required")
	case deps.Controller == nil:
		return nil, fmt.Errorf("controller is required")
	case deps.Sampler == nil:
		return nil, fmt.Errorf("sampler is required")
	case deps.Dedup == nil:
		return nil, fmt.Errorf("dedup cache is required")
	case deps.Distributor == nil:
		return nil, fmt.Errorf("distributor is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewLogger("Orchestrator")
	}
	o := &Orchestrator{deps: deps, logger: logger}
	o.status.State = StateIdle
	o.applyPlan(deps.Controller.Current())
	return o, nil
}

// Run loops until ctx is cancelled. A cycle in progress always completes;
// the idle sleep is interrupted immediately.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.status.StartedAt = time.Now()
	o.mu.Unlock()

	o.logger.Info("Recognition loop started", "interval", o.deps.Controller.Current().Interval)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		o.setState(StateIdle)
		timer.Reset(o.deps.Controller.Current().Interval)

		select {
		case <-ctx.Done():
			o.setState(StateStopped)
			o.logger.Info("Recognition loop stopped", "cycles", o.Status().Cycles)
			return nil
		case <-timer.C:
		}

		o.RunCycle(ctx)
	}
}

// RunCycle performs exactly one Acquiring -> Recognizing -> Distributing pass
func (o *Orchestrator) RunCycle(ctx context.Context) CycleReport {
	d := o.deps
	plan := d.Controller.Current()
	var report CycleReport

	o.setState(StateAcquiring)
	f, ok := d.Source.TryAcquire()
	if !ok {
		report.Next = d.Controller.Evaluate(d.Sampler.Sample(), controller.Outcome{Kind: controller.OutcomeNone})
		o.finishCycle(func(s *Status) { s.Misses++ }, report.Next)
		return report
	}
	report.Acquired = true
	report.FrameID = f.ID

	o.setState(StateRecognizing)
	start := time.Now()
	result, err := d.Executor.Execute(ctx, executor.Request{
		Frame:    f,
		Engine:   plan.Engine,
		Deadline: plan.Deadline,
	})
	report.Outcome = outcomeOf(err, time.Since(start), plan)
	report.Result = result
	report.Err = err

	if pipeerrors.CodeOf(err) != pipeerrors.ErrorInvalidRequest {
		d.Sampler.Record(report.Outcome.Duration)
	}
	report.Next = d.Controller.Evaluate(d.Sampler.Sample(), report.Outcome)
	o.logPlanChange(plan, report.Next)

	if err != nil {
		o.finishCycle(func(s *Status) {
			if report.Outcome.Kind == controller.OutcomeTimeout {
				s.Timeouts++
			} else {
				s.Failures++
			}
			s.LastError = err.Error()
		}, report.Next)
		return report
	}

	o.setState(StateDistributing)
	switch {
	case result.Empty():
		report.Empty = true
	case !d.Dedup.ShouldEmit(result):
		report.Suppressed = true
	default:
		d.Distributor.Distribute(ctx, result)
		report.Distributed = true
	}

	o.logger.Debug("Cycle complete",
		"frameId", f.ID,
		"engine", result.Engine,
		"duration", result.Duration,
		"words", result.WordCount(),
		"distributed", report.Distributed,
		"suppressed", report.Suppressed)

	o.finishCycle(func(s *Status) {
		s.Recognized++
		s.LastResultAt = result.CompletedAt
		switch {
		case report.Empty:
			s.Empty++
		case report.Suppressed:
			s.Suppressed++
		case report.Distributed:
			s.Distributed++
		}
	}, report.Next)
	return report
}

// Status returns a copy of the loop status
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.status.State = s
	o.mu.Unlock()
}

func (o *Orchestrator) finishCycle(update func(*Status), next controller.Plan) {
	o.mu.Lock()
	o.status.Cycles++
	update(&o.status)
	o.mu.Unlock()
	o.applyPlan(next)
}

func (o *Orchestrator) applyPlan(p controller.Plan) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.Engine = p.Engine.Name
	o.status.Class = p.Class.String()
	o.status.Interval = p.Interval.String()
	o.status.Deadline = p.Deadline.String()
	o.status.BreakerOpen = p.BreakerOpen
	o.status.Reason = p.Reason
}

func (o *Orchestrator) logPlanChange(prev, next controller.Plan) {
	if next.BreakerOpen && !prev.BreakerOpen {
		o.logger.Warn("Circuit breaker opened",
			"engine", next.Engine.Name,
			"interval", next.Interval,
			"reason", next.Reason)
		return
	}
	if prev.BreakerOpen && !next.BreakerOpen {
		o.logger.Info("Circuit breaker closed", "engine", next.Engine.Name)
	}
	if prev.Engine.Name != next.Engine.Name {
		o.logger.Info("Engine changed",
			"from", prev.Engine.Name,
			"to", next.Engine.Name,
			"interval", next.Interval,
			"reason", next.Reason)
	}
}

// outcomeOf maps an executor return into controller feedback. Timeouts are
// charged the full deadline.
func outcomeOf(err error, elapsed time.Duration, plan controller.Plan) controller.Outcome {
	out := controller.Outcome{Kind: controller.OutcomeSuccess, Duration: elapsed, Engine: plan.Engine.Name}
	switch {
	case err == nil:
	case pipeerrors.IsTimeout(err):
		out.Kind = controller.OutcomeTimeout
		out.Duration = plan.Deadline
	default:
		out.Kind = controller.OutcomeFailure
	}
	return out
}
