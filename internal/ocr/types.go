/**
 * OCR Types - Shared data structures for recognition results
 *
 * Results are immutable values passed by value from the executor to the
 * dedup cache, the distributor and every sink.
 */

package ocr

import (
	"strings"
	"time"
)

// Result represents one recognized frame
type Result struct {
	ID          string
	Text        string
	Confidence  float64
	Regions     []Region
	Engine      string // Descriptor name of the engine that produced the text
	Class       string // Cost class of that engine: fast, balanced or accurate
	Duration    time.Duration
	Source      string // Frame source identifier (window, region, file)
	CapturedAt  time.Time
	CompletedAt time.Time
}

// Region represents a recognized word or block with its own confidence
type Region struct {
	Text       string
	Confidence float64
	X          int
	Y          int
	Width      int
	Height     int
}

// WordCount returns the number of whitespace separated words in the text
func (r Result) WordCount() int {
	return len(strings.Fields(r.Text))
}

// Empty reports whether the result carries no visible text
func (r Result) Empty() bool {
	return strings.TrimSpace(r.Text) == ""
}

// Latency is the time from capture to recognition completion
func (r Result) Latency() time.Duration {
	if r.CapturedAt.IsZero() || r.CompletedAt.IsZero() {
		return r.Duration
	}
	return r.CompletedAt.Sub(r.CapturedAt)
}
