package refresh

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a fetch failure. Control flow (retry vs DLQ) is
// driven off the kind; the wrapped error is kept for logging and triage.
type ErrorKind string

const (
	KindTransient   ErrorKind = "transient"   // connection/timeout/rate-limit/5xx, retryable
	KindValidation  ErrorKind = "validation"  // deterministic bad input, never retried
	KindGateFailed  ErrorKind = "gate_failed" // precondition not met, never retried
	KindComputation ErrorKind = "computation" // unexpected processing failure, never retried
)

// FetchError tags an underlying error with its classification
type FetchError struct {
	Kind ErrorKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Classification returns the kind as a string for DLQ storage
func (e *FetchError) Classification() string {
	return string(e.Kind)
}

// Transient wraps an error as retryable
func Transient(err error) error {
	return &FetchError{Kind: KindTransient, Err: err}
}

// Transientf creates a retryable error from a format string
func Transientf(format string, args ...interface{}) error {
	return &FetchError{Kind: KindTransient, Err: fmt.Errorf(format, args...)}
}

// Validation wraps an error as a deterministic input defect
func Validation(err error) error {
	return &FetchError{Kind: KindValidation, Err: err}
}

// Validationf creates a validation error from a format string
func Validationf(format string, args ...interface{}) error {
	return &FetchError{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// GateFailed wraps an error as a failed precondition check
func GateFailed(err error) error {
	return &FetchError{Kind: KindGateFailed, Err: err}
}

// Computation wraps an error as an unexpected processing failure
func Computation(err error) error {
	return &FetchError{Kind: KindComputation, Err: err}
}

// transientMarkers are matched against untagged error messages as a
// fallback for errors crossing a boundary that did not classify them.
var transientMarkers = []string{
	"timeout",
	"connection",
	"rate limit",
	"503",
	"502",
	"429",
}

// KindOf classifies an error. Tagged errors win; untagged errors whose
// message looks transient are treated as transient; everything else is a
// computation error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindComputation
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return KindTransient
		}
	}
	return KindComputation
}

// Classify returns err unchanged when it already carries a tag, otherwise
// wraps it with the kind detected from its message so downstream consumers
// (DLQ, logging) see a consistent classification.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{Kind: KindOf(err), Err: err}
}
