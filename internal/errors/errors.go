package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Error taxonomy for the screen OCR worker
 *
 * Every per-cycle failure is a PipelineError carrying an ErrorCode. Only
 * CONFIGURATION_INVALID is ever fatal, and only at startup.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Acquisition
	ErrorAcquisitionMiss ErrorCode = "ACQUISITION_MISS"

	// Recognition errors
	ErrorRecognitionTimeout ErrorCode = "RECOGNITION_TIMEOUT"
	ErrorRecognitionFailed  ErrorCode = "RECOGNITION_FAILED"
	ErrorInvalidRequest     ErrorCode = "INVALID_REQUEST"

	// Delivery errors
	ErrorDeliveryFailed      ErrorCode = "DELIVERY_FAILED"
	ErrorDeliveryRateLimited ErrorCode = "DELIVERY_RATE_LIMITED"

	// Startup errors
	ErrorConfigurationInvalid ErrorCode = "CONFIGURATION_INVALID"
)

// PipelineError represents a structured pipeline error
type PipelineError struct {
	Code      ErrorCode
	Message   string
	Engine    string
	Sink      string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewRecognitionTimeoutError(engine string, deadline time.Duration, cause error) *PipelineError {
	if cause == nil {
		cause = context.DeadlineExceeded
	}
	return &PipelineError{
		Code:      ErrorRecognitionTimeout,
		Message:   fmt.Sprintf("Recognition exceeded deadline of %v", deadline),
		Engine:    engine,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"deadline": deadline.String(),
		},
		Cause: cause,
	}
}

func NewRecognitionFailedError(engine string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorRecognitionFailed,
		Message:   fmt.Sprintf("Recognition failed on engine: %s", engine),
		Engine:    engine,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewInvalidRequestError(message string) *PipelineError {
	return &PipelineError{
		Code:      ErrorInvalidRequest,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func NewDeliveryFailedError(sink string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorDeliveryFailed,
		Message:   fmt.Sprintf("Delivery to sink %s failed", sink),
		Sink:      sink,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewDeliveryRateLimitedError(sink string) *PipelineError {
	return &PipelineError{
		Code:      ErrorDeliveryRateLimited,
		Message:   fmt.Sprintf("Delivery to sink %s rate limited", sink),
		Sink:      sink,
		Timestamp: time.Now(),
	}
}

func NewConfigurationError(field string, message string) *PipelineError {
	return &PipelineError{
		Code:      ErrorConfigurationInvalid,
		Message:   fmt.Sprintf("%s: %s", field, message),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

// CodeOf returns the ErrorCode carried anywhere in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsTimeout reports whether err is a recognition timeout.
func IsTimeout(err error) bool {
	return CodeOf(err) == ErrorRecognitionTimeout
}

// IsConfiguration reports whether err is a startup configuration error.
func IsConfiguration(err error) bool {
	return CodeOf(err) == ErrorConfigurationInvalid
}

// ToMap converts error to map for logging and persistence
func (e *PipelineError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.Engine != "" {
		result["engine"] = e.Engine
	}
	if e.Sink != "" {
		result["sink"] = e.Sink
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
