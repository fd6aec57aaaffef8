/**
 * Frame - captured image units and their sources
 *
 * A Frame is immutable once created. Sources never block the caller: when
 * nothing new has been captured, TryAcquire reports false and the cycle is
 * skipped.
 */

package frame

import (
	"time"

	"github.com/google/uuid"
)

// Frame is one captured image payload
type Frame struct {
	ID         string
	Source     string // which window, region or file produced the frame
	CapturedAt time.Time
	Format     string // "png", "jpeg" or "" when unknown
	Data       []byte
}

// New stamps a frame with a fresh ID and the current time; data must not change afterwards
func New(source string, format string, data []byte) Frame {
	return Frame{
		ID:         uuid.New().String(),
		Source:     source,
		CapturedAt: time.Now(),
		Format:     format,
		Data:       data,
	}
}

// Size returns the payload size in bytes
func (f Frame) Size() int {
	return len(f.Data)
}

// Source is the capture collaborator seen by the orchestrator
type Source interface {
	// TryAcquire returns the next frame or false; never blocks for long
	TryAcquire() (Frame, bool)
}
