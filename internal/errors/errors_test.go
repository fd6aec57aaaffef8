package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"
)

func TestCodeOfWrappedError(t *testing.T) {
	base := NewRecognitionTimeoutError("tesseract-fast", 2*time.Second, nil)
	wrapped := fmt.Errorf("cycle 12: %w", base)

	if got := CodeOf(wrapped); got != ErrorRecognitionTimeout {
		t.Fatalf("CodeOf = %q, want %q", got, ErrorRecognitionTimeout)
	}
	if !IsTimeout(wrapped) {
		t.Error("IsTimeout should see through wrapping")
	}
	if !stderrors.Is(wrapped, context.DeadlineExceeded) {
		t.Error("timeout error should unwrap to context.DeadlineExceeded")
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if got := CodeOf(fmt.Errorf("boom")); got != "" {
		t.Fatalf("CodeOf(plain) = %q, want empty", got)
	}
	if IsConfiguration(nil) {
		t.Error("nil error is not a configuration error")
	}
}

func TestToMap(t *testing.T) {
	err := NewDeliveryFailedError("webhook", fmt.Errorf("status 500"))
	m := err.ToMap()

	if m["error_code"] != string(ErrorDeliveryFailed) {
		t.Errorf("error_code = %v", m["error_code"])
	}
	if m["sink"] != "webhook" {
		t.Errorf("sink = %v", m["sink"])
	}
	if m["cause"] != "status 500" {
		t.Errorf("cause = %v", m["cause"])
	}
	if _, ok := m["engine"]; ok {
		t.Error("engine key should be omitted when empty")
	}
}

func TestConfigurationError(t *testing.T) {
	err := NewConfigurationError("INTERVAL_MIN", "must not exceed INTERVAL_MAX")
	if !IsConfiguration(err) {
		t.Fatal("expected configuration error")
	}
	if err.Details["field"] != "INTERVAL_MIN" {
		t.Errorf("field detail = %v", err.Details["field"])
	}
}
