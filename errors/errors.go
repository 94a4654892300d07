// Package errors provides standardized error handling for edgefilter components.
// It includes error classification, standard error variables, and helper functions
// for consistent error wrapping and classification across the stage.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Component lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Broker errors
	ErrNoConnection       = errors.New("no connection available")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrSubscriptionFailed = errors.New("subscription failed")
	ErrPublishFailed      = errors.New("publish failed")

	// Payload and document errors
	ErrInvalidData   = errors.New("invalid data format")
	ErrParsingFailed = errors.New("parsing failed")
	ErrFieldAbsent   = errors.New("field absent")
	ErrNotANumber    = errors.New("field is not a number")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Forwarding errors
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrInFlightLimit     = errors.New("in-flight forward limit reached")
	ErrConfirmTimeout    = errors.New("delivery confirmation timeout")
	ErrUnknownRecord     = errors.New("unknown or already settled forward record")
	ErrDeliveryFailed    = errors.New("delivery failed")
)

// Sentinels that classify an unwrapped error. The clone budget and the
// in-flight cap clear as confirmations arrive, so both are transient.
var (
	transientSentinels = []error{
		ErrNoConnection,
		ErrConnectionTimeout,
		ErrCircuitOpen,
		ErrPublishFailed,
		ErrResourceExhausted,
		ErrInFlightLimit,
		ErrConfirmTimeout,
		context.DeadlineExceeded,
		context.Canceled,
	}

	fatalSentinels = []error{
		ErrAlreadyStarted,
		ErrMissingConfig,
	}

	invalidSentinels = []error{
		ErrInvalidData,
		ErrParsingFailed,
		ErrFieldAbsent,
		ErrNotANumber,
		ErrInvalidConfig,
		ErrUnknownRecord,
	}
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// classOf reports the explicit class of err, or the class of the first
// sentinel it wraps
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}

	switch {
	case wrapsAny(err, fatalSentinels):
		return ErrorFatal, true
	case wrapsAny(err, invalidSentinels):
		return ErrorInvalid, true
	case wrapsAny(err, transientSentinels):
		return ErrorTransient, true
	}
	return 0, false
}

func wrapsAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	class, ok := classOf(err)
	return ok && class == ErrorTransient
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	class, ok := classOf(err)
	return ok && class == ErrorFatal
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	class, ok := classOf(err)
	return ok && class == ErrorInvalid
}

// Classify returns the error class for an error. Unrecognized errors are
// transient so the caller may retry.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	if class, ok := classOf(err); ok {
		return class
	}
	return ErrorTransient
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClassified(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Err:       Wrap(err, component, method, action),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	return wrapClassified(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	return wrapClassified(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	return wrapClassified(ErrorInvalid, err, component, method, action)
}
