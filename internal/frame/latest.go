/**
 * Latest Frame Inbox
 *
 * Publish overwrites any frame that has not been consumed yet. The
 * orchestrator only wants the newest image of the screen, so older frames
 * are dropped and counted instead of queued.
 */

package frame

import (
	"sync"
	"sync/atomic"
)

// LatestSource is a single-slot inbox fed by an external capture process
type LatestSource struct {
	mu    sync.Mutex
	frame *Frame

	published uint64
	drops     uint64
	taken     uint64
}

// NewLatestSource returns an empty inbox
func NewLatestSource() *LatestSource {
	return &LatestSource{}
}

// Publish stores f as the newest frame without waiting for the consumer
func (s *LatestSource) Publish(f Frame) {
	s.mu.Lock()
	if s.frame != nil {
		atomic.AddUint64(&s.drops, 1)
	}
	s.frame = &f
	s.mu.Unlock()

	atomic.AddUint64(&s.published, 1)
}

// TryAcquire takes the pending frame if there is one
func (s *LatestSource) TryAcquire() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frame == nil {
		return Frame{}, false
	}
	f := *s.frame
	s.frame = nil
	atomic.AddUint64(&s.taken, 1)
	return f, true
}

// InboxStats reports inbox counters
type InboxStats struct {
	Published uint64
	Taken     uint64
	Dropped   uint64
}

// Stats returns a snapshot of the inbox counters
func (s *LatestSource) Stats() InboxStats {
	return InboxStats{
		Published: atomic.LoadUint64(&s.published),
		Taken:     atomic.LoadUint64(&s.taken),
		Dropped:   atomic.LoadUint64(&s.drops),
	}
}
