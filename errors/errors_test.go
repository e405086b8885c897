package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorPermanent, "permanent"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"transport fault", ErrTransportFault, true},
		{"connection lost", ErrConnectionLost, true},
		{"capacity exhausted", ErrCapacityExhausted, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"batch rejected", ErrBatchRejected, false},
		{"invalid config", ErrInvalidConfig, false},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified permanent", &ClassifiedError{Class: ErrorPermanent, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"batch rejected", ErrBatchRejected, true},
		{"encode skipped", ErrEncodeSkipped, true},
		{"sink closed", ErrSinkClosed, true},
		{"transport fault", ErrTransportFault, false},
		{"wrapped batch rejected", fmt.Errorf("commit: %w", ErrBatchRejected), true},
		{"classified permanent", &ClassifiedError{Class: ErrorPermanent, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsPermanent(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if got := Classify(ErrBatchRejected); got != ErrorPermanent {
		t.Errorf("expected permanent, got %s", got)
	}
	if got := Classify(ErrInvalidConfig); got != ErrorFatal {
		t.Errorf("expected fatal, got %s", got)
	}
	// Unknown errors default to transient so delivery is retried.
	if got := Classify(errors.New("broken pipe")); got != ErrorTransient {
		t.Errorf("expected transient, got %s", got)
	}
}

func TestWrapHelpers(t *testing.T) {
	base := errors.New("boom")

	wrapped := WrapTransient(base, "Engine", "Flush", "commit")
	if !IsTransient(wrapped) {
		t.Error("WrapTransient result should classify as transient")
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should unwrap to base")
	}

	wrapped = WrapPermanent(base, "Sink", "Commit", "payload encode")
	if !IsPermanent(wrapped) {
		t.Error("WrapPermanent result should classify as permanent")
	}

	if WrapFatal(nil, "a", "b", "c") != nil {
		t.Error("wrapping nil should return nil")
	}

	var ce *ClassifiedError
	if !errors.As(WrapFatal(base, "Config", "Load", "parse"), &ce) {
		t.Fatal("expected ClassifiedError")
	}
	if ce.Component != "Config" || ce.Operation != "Load" {
		t.Errorf("unexpected context: %+v", ce)
	}
}
