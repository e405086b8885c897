// Package errors provides standardized error handling for chatstream components.
// It includes a three-class classification system (transient, permanent, fatal),
// standard error variables, and helpers for consistent error wrapping across
// the pipeline.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes.
type ErrorClass int

const (
	// ErrorTransient represents temporary failures that may be retried.
	ErrorTransient ErrorClass = iota
	// ErrorPermanent represents failures that will not succeed on retry,
	// such as rejected payloads or schema mismatches.
	ErrorPermanent
	// ErrorFatal represents unrecoverable conditions that should stop startup.
	// Once the pipeline is running nothing is allowed to escalate to fatal.
	ErrorFatal
)

// String returns the string representation of ErrorClass.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorPermanent:
		return "permanent"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions.
var (
	// Parse and codec errors. Parse anomalies are always recovered locally
	// as Unknown events; these sentinels exist for metrics and tests.
	ErrParseAnomaly  = errors.New("malformed protocol line")
	ErrDecodeFailed  = errors.New("decoding failed")
	ErrEncodeSkipped = errors.New("event not encodable in this format")

	// Transport and coordination errors.
	ErrTransportFault   = errors.New("transport fault")
	ErrConnectionLost   = errors.New("connection lost")
	ErrJoinFailed       = errors.New("channel join failed")
	ErrRetriesExhausted = errors.New("maximum retries exceeded")

	// Delivery errors.
	ErrCapacityExhausted = errors.New("queue capacity exhausted")
	ErrSinkClosed        = errors.New("sink closed")
	ErrBatchRejected     = errors.New("batch rejected by sink")

	// Lifecycle errors.
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")

	// Configuration errors. These are the only fatal startup conditions.
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError wraps an error with its classification and the component
// context where it occurred.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Component string
	Operation string
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrTransportFault) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrCapacityExhausted) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}

// IsPermanent reports whether an error is known not to succeed on retry.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorPermanent
	}

	return errors.Is(err, ErrBatchRejected) ||
		errors.Is(err, ErrEncodeSkipped) ||
		errors.Is(err, ErrSinkClosed)
}

// IsFatal reports whether an error should abort startup.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrMissingConfig)
}

// Classify returns the error class for an error. Unknown errors default to
// transient so the batching engine retries rather than dropping data.
func Classify(err error) ErrorClass {
	switch {
	case IsPermanent(err):
		return ErrorPermanent
	case IsFatal(err):
		return ErrorFatal
	default:
		return ErrorTransient
	}
}

// Wrap creates a standardized error with context following the pattern
// "component.operation: action failed: %w".
func Wrap(err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, operation, action, err)
}

func newClassified(class ErrorClass, err error, component, operation string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Component: component,
		Operation: operation,
	}
}

// WrapTransient wraps an error as transient with context.
func WrapTransient(err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(ErrorTransient, Wrap(err, component, operation, action), component, operation)
}

// WrapPermanent wraps an error as permanent with context.
func WrapPermanent(err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(ErrorPermanent, Wrap(err, component, operation, action), component, operation)
}

// WrapFatal wraps an error as fatal with context.
func WrapFatal(err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(ErrorFatal, Wrap(err, component, operation, action), component, operation)
}
