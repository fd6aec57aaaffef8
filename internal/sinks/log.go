package sinks

import (
	"context"

	"github.com/adverant/nexus/screenocr-worker/internal/logging"
	"github.com/adverant/nexus/screenocr-worker/internal/ocr"
)

// LogSink writes every delivered result to the worker log. It stands in for
// an on-screen overlay when running headless.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a log sink
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.NewLogger("LogSink")
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, r ocr.Result) error {
	s.logger.Info("OCR result",
		"resultId", r.ID,
		"engine", r.Engine,
		"confidence", r.Confidence,
		"words", r.WordCount(),
		"duration", r.Duration,
		"text", truncate(r.Text, 200))
	return nil
}

// truncate cuts s to at most n runes, appending an ellipsis when cut
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
