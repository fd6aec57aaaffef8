/**
 * Adaptive Controller
 *
 * Closed-loop policy evaluated once per cycle. Inputs are the latest resource
 * sample and the outcome of the previous recognition; the output is the plan
 * for the next cycle (engine, sleep interval, recognition deadline).
 *
 * Rules in precedence order:
 *
 *  1. Circuit breaker: too many timeouts in the last N outcomes forces the
 *     cheapest engine class for M recognition cycles.
 *  2. Overload: trailing CPU above the high watermark selects the cheapest
 *     class and pushes the interval toward its maximum, harder the further
 *     CPU is past the watermark.
 *  3. Idle: trailing CPU below the low watermark with a clean outcome window
 *     selects the accurate class and relaxes the interval toward its minimum.
 *  4. Otherwise hold (hysteresis band).
 *
 * Evaluate performs no I/O. Snapshots are safe to read from other goroutines.
 */

package controller

import (
	"fmt"
	"sync"
	"time"

	"github.com/adverant/nexus/screenocr-worker/internal/config"
	"github.com/adverant/nexus/screenocr-worker/internal/engine"
	"github.com/adverant/nexus/screenocr-worker/internal/sampler"
)

// OutcomeKind classifies how the previous cycle's recognition ended
type OutcomeKind int

const (
	OutcomeNone OutcomeKind = iota // no frame was recognized
	OutcomeSuccess
	OutcomeTimeout
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNone:
		return "none"
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeFailure:
		return "failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the feedback from one recognition
type Outcome struct {
	Kind     OutcomeKind
	Duration time.Duration
	Engine   string
}

// Plan is the controller's decision for the next cycle
type Plan struct {
	Engine      engine.Descriptor
	Class       engine.CostClass // class chosen by policy, before engine resolution
	Interval    time.Duration
	Deadline    time.Duration
	BreakerOpen bool
	Reason      string
}

// State is a read-only snapshot of the controller
type State struct {
	Plan             Plan
	Cycles           int64
	BreakerRemaining int
	BreakerTrips     int64
	Outcomes         []OutcomeKind
	CPUReadings      []float64
	CPUMean          float64
}

// Controller owns the adaptive policy state
type Controller struct {
	policy   config.Policy
	registry *engine.Registry

	mu               sync.Mutex
	interval         time.Duration
	class            engine.CostClass
	breakerRemaining int
	breakerTrips     int64
	outcomes         []OutcomeKind
	cpu              []float64
	cycles           int64
	plan             Plan
}

// New creates a controller starting at the configured initial interval and class
func New(policy config.Policy, registry *engine.Registry) (*Controller, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	class, err := engine.ParseClass(policy.InitialEngineClass)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		policy:   policy,
		registry: registry,
		interval: policy.IntervalInitial,
		class:    class,
	}
	c.plan = c.buildPlan(sampler.Sample{}, "initial")
	return c, nil
}

// Evaluate folds one cycle of feedback into the state and returns the next plan
func (c *Controller) Evaluate(sample sampler.Sample, out Outcome) Plan {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cycles++
	c.cpu = appendBounded(c.cpu, sample.CPUPercent, c.policy.CPUWindow)
	cpuMean := mean(c.cpu)

	if out.Kind != OutcomeNone {
		c.outcomes = appendBounded(c.outcomes, out.Kind, c.policy.BreakerWindow)
	}

	var reason string
	switch {
	case c.breakerRemaining > 0:
		reason = c.stepBreaker(out)
		if c.breakerRemaining == 0 {
			reason = c.applyLoadPolicy(cpuMean, sample.CPUPercent)
		}
	case c.timeoutRate() > c.policy.BreakerThreshold:
		c.openBreaker()
		reason = fmt.Sprintf("breaker opened: timeout rate above %.0f%% of last %d",
			c.policy.BreakerThreshold*100, c.policy.BreakerWindow)
	default:
		reason = c.applyLoadPolicy(cpuMean, sample.CPUPercent)
	}

	c.plan = c.buildPlan(sample, reason)
	return c.plan
}

// Current returns the most recent plan
func (c *Controller) Current() Plan {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plan
}

// Snapshot returns a copy of the controller state
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Plan:             c.plan,
		Cycles:           c.cycles,
		BreakerRemaining: c.breakerRemaining,
		BreakerTrips:     c.breakerTrips,
		Outcomes:         append([]OutcomeKind(nil), c.outcomes...),
		CPUReadings:      append([]float64(nil), c.cpu...),
		CPUMean:          mean(c.cpu),
	}
}

// stepBreaker consumes one cooldown cycle per recognition. A timeout while
// open re-arms the full cooldown and clears the window again. Caller holds mu.
func (c *Controller) stepBreaker(out Outcome) string {
	c.class = c.registry.Cheapest()
	switch out.Kind {
	case OutcomeNone:
	case OutcomeTimeout:
		c.breakerRemaining = c.policy.BreakerCooldown
		c.outcomes = c.outcomes[:0]
		c.backOff(c.policy.AdjustmentFactor)
		return "breaker re-armed by timeout"
	default:
		c.breakerRemaining--
	}
	if c.breakerRemaining == 0 {
		return "breaker closed"
	}
	return fmt.Sprintf("breaker open: %d cycles remaining", c.breakerRemaining)
}

func (c *Controller) openBreaker() {
	c.breakerRemaining = c.policy.BreakerCooldown
	c.breakerTrips++
	c.class = c.registry.Cheapest()
	c.outcomes = c.outcomes[:0]
	c.backOff(c.policy.AdjustmentFactor)
}

// applyLoadPolicy runs the CPU watermark rules. Caller holds mu.
func (c *Controller) applyLoadPolicy(cpuMean, latest float64) string {
	p := c.policy
	switch {
	case cpuMean > p.HighWatermark:
		excess := (cpuMean - p.HighWatermark) / (100 - p.HighWatermark)
		factor := p.AdjustmentFactor * (1 + p.OverloadGain*excess)
		c.class = c.registry.Cheapest()
		c.backOff(factor)
		return fmt.Sprintf("cpu %.1f%% above high watermark", cpuMean)

	case cpuMean < p.LowWatermark && latest < p.LowWatermark && c.errorRate() == 0:
		c.class = engine.ClassAccurate
		c.interval -= time.Duration(float64(c.interval-p.IntervalMin) * p.AdjustmentFactor)
		c.interval = clampDuration(c.interval, p.IntervalMin, p.IntervalMax)
		return fmt.Sprintf("cpu %.1f%% below low watermark", cpuMean)

	default:
		return "hold"
	}
}

// backOff moves the interval toward the maximum by a fraction of the gap
func (c *Controller) backOff(factor float64) {
	if factor > 1 {
		factor = 1
	}
	gap := c.policy.IntervalMax - c.interval
	c.interval += time.Duration(float64(gap) * factor)
	c.interval = clampDuration(c.interval, c.policy.IntervalMin, c.policy.IntervalMax)
}

func (c *Controller) timeoutRate() float64 {
	timeouts := 0
	for _, k := range c.outcomes {
		if k == OutcomeTimeout {
			timeouts++
		}
	}
	return float64(timeouts) / float64(c.policy.BreakerWindow)
}

func (c *Controller) errorRate() float64 {
	if len(c.outcomes) == 0 {
		return 0
	}
	bad := 0
	for _, k := range c.outcomes {
		if k == OutcomeTimeout || k == OutcomeFailure {
			bad++
		}
	}
	return float64(bad) / float64(len(c.outcomes))
}

func (c *Controller) buildPlan(sample sampler.Sample, reason string) Plan {
	return Plan{
		Engine:      c.registry.Resolve(c.class, c.policy.Language),
		Class:       c.class,
		Interval:    c.interval,
		Deadline:    c.deadline(sample.AvgRecognition),
		BreakerOpen: c.breakerRemaining > 0,
		Reason:      reason,
	}
}

// deadline stretches the base deadline when recent recognitions run long
func (c *Controller) deadline(avg time.Duration) time.Duration {
	p := c.policy
	d := p.DeadlineBase
	if avg > p.DeadlineBase*2/3 {
		d = avg + time.Second
	}
	return clampDuration(d, p.DeadlineMin, p.DeadlineMax)
}

func appendBounded[T any](window []T, v T, size int) []T {
	window = append(window, v)
	if len(window) > size {
		window = append(window[:0], window[len(window)-size:]...)
	}
	return window
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
