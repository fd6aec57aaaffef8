package ocr

import "time"

// EventType is the type tag of every published result event
const EventType = "ocr_result"

// Event is the JSON shape shared by the broadcast, broker and queue sinks
type Event struct {
	Type      string        `json:"type"`
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	Metadata  EventMetadata `json:"metadata"`
	Timestamp time.Time     `json:"timestamp"`
}

// EventMetadata describes how the text was produced
type EventMetadata struct {
	Confidence   float64   `json:"confidence"`
	Engine       string    `json:"engine"`
	Class        string    `json:"class"`
	Words        int       `json:"words"`
	ProcessingMs int64     `json:"processing_ms"`
	Source       string    `json:"source,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`
}

// NewEvent converts a result into its published form
func NewEvent(r Result) Event {
	ts := r.CompletedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return Event{
		Type: EventType,
		ID:   r.ID,
		Text: r.Text,
		Metadata: EventMetadata{
			Confidence:   r.Confidence,
			Engine:       r.Engine,
			Class:        r.Class,
			Words:        r.WordCount(),
			ProcessingMs: r.Duration.Milliseconds(),
			Source:       r.Source,
			CapturedAt:   r.CapturedAt,
		},
		Timestamp: ts,
	}
}
