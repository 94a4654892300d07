// Package errors provides standardized error handling for edgefilter components.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input, not retryable) and Fatal (unrecoverable, stop processing). The
// filter stage uses the class to decide how an ingress event is reported: a
// transient failure while forwarding abandons the event so the transport can
// redeliver it, an invalid payload is accepted and dropped.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Three wrappers set the class explicitly:
//
//	errors.WrapTransient(err, "Tracker", "Submit", "publish async")
//	errors.WrapInvalid(err, "Extractor", "Extract", "parse payload")
//	errors.WrapFatal(err, "Processor", "Start", "check running state")
//
// Wrap() adds context without setting a class; the class of the wrapped
// sentinel is still found through errors.Is.
//
// # Standard Error Variables
//
//   - Lifecycle: ErrAlreadyStarted, ErrNotStarted, ErrShuttingDown
//   - Broker: ErrNoConnection, ErrConnectionTimeout, ErrCircuitOpen, ErrSubscriptionFailed
//   - Documents: ErrInvalidData, ErrParsingFailed, ErrFieldAbsent, ErrNotANumber
//   - Configuration: ErrInvalidConfig (invalid), ErrMissingConfig (fatal)
//   - Forwarding: ErrResourceExhausted, ErrInFlightLimit, ErrConfirmTimeout,
//     ErrUnknownRecord, ErrDeliveryFailed, ErrPublishFailed
//
// ErrResourceExhausted is transient here: the clone budget refills as
// delivery confirmations release earlier clones.
//
// # Classification Order
//
// An explicit class set by a Wrap helper wins. Otherwise the first wrapped
// sentinel decides, checked fatal, then invalid, then transient.
// context.DeadlineExceeded and context.Canceled are transient. Errors that
// match nothing are not transient, invalid or fatal, and Classify reports
// them as transient.
package errors
