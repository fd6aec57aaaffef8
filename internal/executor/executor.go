/**
 * Recognition Executor
 *
 * Runs exactly one recognition request against one registered engine and
 * always returns to the caller by the request deadline. Engines are untrusted
 * to finish: the engine call runs in its own goroutine and is asked to stop
 * through its context, but the executor never waits for it past the deadline.
 *
 * An engine stays reserved until its call really returns. A call abandoned at
 * its deadline keeps the engine reserved, and further requests for it fail
 * fast with ErrEngineBusy instead of stacking a second run next to it.
 */

package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/screenocr-worker/internal/engine"
	pipeerrors "github.com/adverant/nexus/screenocr-worker/internal/errors"
	"github.com/adverant/nexus/screenocr-worker/internal/frame"
	"github.com/adverant/nexus/screenocr-worker/internal/logging"
	"github.com/adverant/nexus/screenocr-worker/internal/ocr"
)

// ErrEngineBusy is the cause of a timeout returned without calling the engine
// because its previous call has not returned yet
var ErrEngineBusy = stderrors.New("engine still running an abandoned call")

// Request binds a frame to an engine and a deadline for one cycle
type Request struct {
	Frame    frame.Frame
	Engine   engine.Descriptor
	Deadline time.Duration
}

// Stats are the executor's running counters
type Stats struct {
	Total          int64
	Succeeded      int64
	Timeouts       int64
	Failures       int64
	Abandoned      int64 // engine calls still running after their deadline
	Refused        int64 // requests rejected because the engine was still busy
	AvgProcessing  time.Duration
	SuccessRate    float64
	TimeoutRate    float64
	LastDuration   time.Duration
	LastEngine     string
	LastRecognized time.Time
}

// Executor runs recognition requests under a deadline
type Executor struct {
	registry *engine.Registry
	logger   *logging.Logger

	abandoned atomic.Int64

	mu      sync.Mutex
	stats   Stats
	running map[string]bool
}

type outcome struct {
	rec engine.Recognition
	err error
}

// New creates an executor bound to an immutable engine registry
func New(registry *engine.Registry, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewLogger("Executor")
	}
	return &Executor{registry: registry, logger: logger, running: make(map[string]bool)}
}

// Execute recognizes req.Frame with req.Engine. It returns an ocr.Result on
// success or a PipelineError coded RECOGNITION_TIMEOUT, RECOGNITION_FAILED or
// INVALID_REQUEST. Cancelling ctx does not cut a running recognition short;
// only the deadline does.
func (e *Executor) Execute(ctx context.Context, req Request) (ocr.Result, error) {
	if req.Deadline <= 0 {
		e.recordInvalid()
		return ocr.Result{}, pipeerrors.NewInvalidRequestError(fmt.Sprintf("deadline must be positive, got %v", req.Deadline))
	}
	entry, ok := e.registry.Lookup(req.Engine.Name)
	if !ok {
		e.recordInvalid()
		return ocr.Result{}, pipeerrors.NewInvalidRequestError(fmt.Sprintf("engine %q is not registered", req.Engine.Name))
	}
	name := entry.Descriptor.Name

	if !e.reserve(name) {
		e.logger.Warn("Engine still busy with an abandoned call",
			"engine", name,
			"frameId", req.Frame.ID)
		return ocr.Result{}, pipeerrors.NewRecognitionTimeoutError(name, req.Deadline, ErrEngineBusy)
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), req.Deadline)
	defer cancel()

	// Buffered so an abandoned engine goroutine can always finish its send.
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				out = outcome{err: fmt.Errorf("engine panicked: %v", r)}
			}
			e.release(name)
			done <- out
		}()
		out.rec, out.err = entry.Recognizer.Recognize(runCtx, req.Frame)
	}()

	timer := time.NewTimer(req.Deadline)
	defer timer.Stop()

	select {
	case out := <-done:
		elapsed := time.Since(start)
		if out.err != nil {
			if stderrors.Is(out.err, context.DeadlineExceeded) {
				e.recordTimeout(name, req.Deadline)
				return ocr.Result{}, pipeerrors.NewRecognitionTimeoutError(name, req.Deadline, out.err)
			}
			e.recordFailure(name, elapsed)
			e.logger.Warn("Recognition failed",
				"engine", name,
				"frameId", req.Frame.ID,
				"error", out.err)
			return ocr.Result{}, pipeerrors.NewRecognitionFailedError(name, out.err)
		}

		result := ocr.Result{
			ID:          uuid.New().String(),
			Text:        out.rec.Text,
			Confidence:  out.rec.Confidence,
			Regions:     out.rec.Regions,
			Engine:      name,
			Class:       entry.Descriptor.Class.String(),
			Duration:    elapsed,
			Source:      req.Frame.Source,
			CapturedAt:  req.Frame.CapturedAt,
			CompletedAt: time.Now(),
		}
		e.recordSuccess(name, elapsed)
		return result, nil

	case <-timer.C:
		e.abandoned.Add(1)
		go func() {
			<-done
			e.abandoned.Add(-1)
		}()
		e.recordTimeout(name, req.Deadline)
		e.logger.Warn("Recognition timed out",
			"engine", name,
			"frameId", req.Frame.ID,
			"deadline", req.Deadline)
		return ocr.Result{}, pipeerrors.NewRecognitionTimeoutError(name, req.Deadline, nil)
	}
}

// Stats returns a copy of the running counters
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	s := e.stats
	e.mu.Unlock()

	s.Abandoned = e.abandoned.Load()
	if s.Total > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(s.Total)
		s.TimeoutRate = float64(s.Timeouts) / float64(s.Total)
	}
	return s
}

// reserve marks the engine as running and refuses when it already is
func (e *Executor) reserve(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[name] {
		e.stats.Total++
		e.stats.Timeouts++
		e.stats.Refused++
		return false
	}
	e.running[name] = true
	return true
}

func (e *Executor) release(name string) {
	e.mu.Lock()
	delete(e.running, name)
	e.mu.Unlock()
}

// recordInvalid counts a rejected request without touching the latency average
func (e *Executor) recordInvalid() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Total++
	e.stats.Failures++
}

func (e *Executor) recordSuccess(engineName string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Succeeded++
	e.observe(engineName, d)
}

func (e *Executor) recordTimeout(engineName string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Timeouts++
	e.observe(engineName, d)
}

func (e *Executor) recordFailure(engineName string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Failures++
	e.observe(engineName, d)
}

// observe updates totals and the 0.9/0.1 moving average. Caller holds mu.
func (e *Executor) observe(engineName string, d time.Duration) {
	e.stats.Total++
	if e.stats.AvgProcessing == 0 {
		e.stats.AvgProcessing = d
	} else {
		e.stats.AvgProcessing = time.Duration(0.9*float64(e.stats.AvgProcessing) + 0.1*float64(d))
	}
	e.stats.LastDuration = d
	e.stats.LastEngine = engineName
	e.stats.LastRecognized = time.Now()
}
