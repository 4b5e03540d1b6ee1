// Package relayerr defines the error taxonomy shared by every component of
// the ingest-analyze-dispatch pipeline. Workers convert domain/SDK errors
// into one of these kinds before touching the Store; the Store speaks in
// the same vocabulary so callers never have to branch on a third type
// system.
package relayerr

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for retry/alerting policy purposes.
type Kind string

const (
	// TransientNetwork covers timeouts, 5xx responses, and connection resets.
	// Policy: retry with exponential back-off, bounded attempts.
	TransientNetwork Kind = "transient_network"

	// UpstreamRateLimit covers 429s and explicit retry-after signals.
	// Policy: release the claim with retry_after set; adjust the RateGovernor.
	UpstreamRateLimit Kind = "upstream_rate_limit"

	// UpstreamRejected covers malformed 4xx, model refusals, and auth failures.
	// Policy: mark permanently failed, no retry, alert.
	UpstreamRejected Kind = "upstream_rejected"

	// InternalTransient covers store contention and queue-full during drain.
	// Policy: retry locally a few times, then release the claim.
	InternalTransient Kind = "internal_transient"

	// InternalFatal covers store corruption and invariant violations.
	// Policy: escalate to the Supervisor; halt the affected worker.
	InternalFatal Kind = "internal_fatal"

	// InputInvalid covers bad push signatures and malformed push bodies.
	// Policy: reject at the boundary; never enqueue.
	InputInvalid Kind = "input_invalid"
)

// Store-level sentinel errors (spec.md §4.1's four categories).
var (
	ErrNotFound           = errors.New("entity not found")
	ErrConflict           = errors.New("claim lost race")
	ErrUnavailable        = errors.New("store temporarily unavailable")
	ErrInvariantViolation = errors.New("invariant violation")
)

// Classified wraps an underlying error with a Kind, so callers can
// errors.As into it without losing the original cause via errors.Unwrap.
type Classified struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Classified) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Classified) Unwrap() error { return e.Cause }

// Classify wraps err with the given kind and message. Returns nil if err is nil.
func Classify(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Classified{Kind: kind, Message: message, Cause: err}
}

// KindOf extracts the Kind from err, defaulting to InternalTransient when
// err was never classified (fail safe toward "retry a bit, then give up"
// rather than silently treating an unknown error as permanent).
func KindOf(err error) Kind {
	var c *Classified
	if errors.As(err, &c) {
		return c.Kind
	}
	return InternalTransient
}

// Retryable reports whether the error's kind warrants a retry at all,
// as opposed to a permanent failure.
func Retryable(err error) bool {
	switch KindOf(err) {
	case UpstreamRejected, InternalFatal, InputInvalid:
		return false
	default:
		return true
	}
}

// ValidationError wraps a field-specific validation failure, mirroring the
// teacher's services.ValidationError shape.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %q: %s", e.Field, e.Message)
}

// NewValidationError creates a new field validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is (or wraps) a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
