/**
 * Result Distributor
 *
 * Fans an accepted result out to a fixed set of sinks. Every sink has its own
 * token bucket, in-flight flag and delivery timeout, and is delivered to on
 * its own goroutine: a slow or failing sink never delays the others or the
 * next cycle. Failures are recorded and logged, never retried in the same
 * cycle, never returned to the caller.
 */

package distributor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	pipeerrors "github.com/adverant/nexus/screenocr-worker/internal/errors"
	"github.com/adverant/nexus/screenocr-worker/internal/logging"
	"github.com/adverant/nexus/screenocr-worker/internal/ocr"
)

// Sink is one downstream consumer of results
type Sink interface {
	Name() string
	Deliver(ctx context.Context, result ocr.Result) error
}

// Route binds a sink to its delivery limits
type Route struct {
	Sink     Sink
	Interval time.Duration // minimum spacing between deliveries, 0 for unlimited
	Burst    int
	Timeout  time.Duration
}

// Status is the outcome of one delivery attempt
type Status string

const (
	StatusDelivered   Status = "delivered"
	StatusFailed      Status = "failed"
	StatusRateLimited Status = "rate_limited"
	StatusBusy        Status = "busy" // previous delivery to the sink still running
)

// Delivery reports one sink's handling of one result
type Delivery struct {
	Sink     string
	Status   Status
	Err      error
	Duration time.Duration
}

// SinkStats are per-sink counters
type SinkStats struct {
	Delivered     int64
	Failed        int64
	RateLimited   int64
	Busy          int64
	LastError     string
	LastDelivered time.Time
}

type route struct {
	sink    Sink
	limiter *rate.Limiter
	timeout time.Duration
	busy    atomic.Bool

	mu    sync.Mutex
	stats SinkStats
}

// Distributor owns the routes
type Distributor struct {
	routes   []*route
	logger   *logging.Logger
	inflight sync.WaitGroup
}

// New validates the routes and creates a distributor
func New(routes []Route, logger *logging.Logger) (*Distributor, error) {
	if logger == nil {
		logger = logging.NewLogger("Distributor")
	}

	d := &Distributor{logger: logger}
	names := make(map[string]bool, len(routes))
	for _, r := range routes {
		if r.Sink == nil {
			return nil, fmt.Errorf("route has no sink")
		}
		name := r.Sink.Name()
		if names[name] {
			return nil, fmt.Errorf("sink %s registered twice", name)
		}
		names[name] = true

		if r.Timeout <= 0 {
			return nil, fmt.Errorf("sink %s: timeout must be positive", name)
		}
		burst := r.Burst
		if burst < 1 {
			burst = 1
		}
		limit := rate.Inf
		if r.Interval > 0 {
			limit = rate.Every(r.Interval)
		}

		d.routes = append(d.routes, &route{
			sink:    r.Sink,
			limiter: rate.NewLimiter(limit, burst),
			timeout: r.Timeout,
		})
	}
	return d, nil
}

// Sinks lists the registered sink names in registration order
func (d *Distributor) Sinks() []string {
	names := make([]string, len(d.routes))
	for i, r := range d.routes {
		names[i] = r.sink.Name()
	}
	return names
}

// Distribute starts delivery to every sink and returns immediately
func (d *Distributor) Distribute(ctx context.Context, result ocr.Result) {
	for _, r := range d.routes {
		d.inflight.Add(1)
		go func(r *route) {
			defer d.inflight.Done()
			d.deliver(ctx, r, result)
		}(r)
	}
}

// DistributeWait delivers to every sink and waits for all of them. The
// returned slice follows route registration order.
func (d *Distributor) DistributeWait(ctx context.Context, result ocr.Result) []Delivery {
	out := make([]Delivery, len(d.routes))
	var wg sync.WaitGroup
	for i, r := range d.routes {
		wg.Add(1)
		d.inflight.Add(1)
		go func(i int, r *route) {
			defer wg.Done()
			defer d.inflight.Done()
			out[i] = d.deliver(ctx, r, result)
		}(i, r)
	}
	wg.Wait()
	return out
}

// Wait blocks until in-flight deliveries finish or ctx is done
func (d *Distributor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a copy of every sink's counters keyed by sink name
func (d *Distributor) Stats() map[string]SinkStats {
	out := make(map[string]SinkStats, len(d.routes))
	for _, r := range d.routes {
		r.mu.Lock()
		out[r.sink.Name()] = r.stats
		r.mu.Unlock()
	}
	return out
}

func (d *Distributor) deliver(ctx context.Context, r *route, result ocr.Result) Delivery {
	name := r.sink.Name()

	if !r.busy.CompareAndSwap(false, true) {
		r.record(func(s *SinkStats) { s.Busy++ })
		d.logger.Debug("Sink busy, skipping result", "sink", name, "resultId", result.ID)
		return Delivery{Sink: name, Status: StatusBusy}
	}
	defer r.busy.Store(false)

	if !r.limiter.Allow() {
		r.record(func(s *SinkStats) { s.RateLimited++ })
		d.logger.Debug("Sink rate limited", "sink", name, "resultId", result.ID)
		return Delivery{Sink: name, Status: StatusRateLimited, Err: pipeerrors.NewDeliveryRateLimitedError(name)}
	}

	// Deliveries already started finish within their own timeout even if
	// the worker is shutting down.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	start := time.Now()
	err := safeDeliver(dctx, r.sink, result)
	elapsed := time.Since(start)

	if err != nil {
		perr := pipeerrors.NewDeliveryFailedError(name, err)
		r.record(func(s *SinkStats) {
			s.Failed++
			s.LastError = err.Error()
		})
		d.logger.Warn("Delivery failed",
			"sink", name,
			"resultId", result.ID,
			"errorCode", perr.Code,
			"error", err,
			"duration", elapsed)
		return Delivery{Sink: name, Status: StatusFailed, Err: perr, Duration: elapsed}
	}

	r.record(func(s *SinkStats) {
		s.Delivered++
		s.LastDelivered = time.Now()
	})
	d.logger.Debug("Delivered result", "sink", name, "resultId", result.ID, "duration", elapsed)
	return Delivery{Sink: name, Status: StatusDelivered, Duration: elapsed}
}

func (r *route) record(fn func(*SinkStats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

// safeDeliver turns a sink panic into a delivery error
func safeDeliver(ctx context.Context, sink Sink, result ocr.Result) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sink panicked: %v", rec)
		}
	}()
	return sink.Deliver(ctx, result)
}
