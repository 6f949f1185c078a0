// Package donation turns raw extraction output into validated donation intents.
package donation

import (
	"errors"
	"fmt"
)

// Kind classifies why a message's donation path stopped.
type Kind string

const (
	KindExtractionUnavailable Kind = "extraction_unavailable"
	KindExtractionParseFailed Kind = "extraction_parse_failed"
	KindInvalidAmount         Kind = "invalid_amount"
	KindNoDonation            Kind = "no_donation_detected"
	KindRecipientUnresolved   Kind = "recipient_unresolved"
	KindAmountPrecision       Kind = "amount_precision_error"
	KindDispatchRejected      Kind = "dispatch_rejected"
	KindDuplicate             Kind = "duplicate"
	KindRateLimited           Kind = "rate_limited"
)

// Informational kinds end the pipeline without being failures.
func (k Kind) Informational() bool {
	switch k {
	case KindNoDonation, KindDuplicate, KindRateLimited:
		return true
	}
	return false
}

// Error carries a taxonomy kind and the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels of the same kind, so errors.Is(err, ErrInvalidAmount)
// works for any wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Err == nil && t.Kind == e.Kind
}

// New wraps err with a kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Sentinels for errors.Is checks.
var (
	ErrExtractionUnavailable = &Error{Kind: KindExtractionUnavailable}
	ErrExtractionParseFailed = &Error{Kind: KindExtractionParseFailed}
	ErrInvalidAmount         = &Error{Kind: KindInvalidAmount}
	ErrNoDonation            = &Error{Kind: KindNoDonation}
	ErrRecipientUnresolved   = &Error{Kind: KindRecipientUnresolved}
	ErrAmountPrecision       = &Error{Kind: KindAmountPrecision}
	ErrDispatchRejected      = &Error{Kind: KindDispatchRejected}
	ErrDuplicate             = &Error{Kind: KindDuplicate}
	ErrRateLimited           = &Error{Kind: KindRateLimited}
)

// KindOf returns the taxonomy kind of err, or "" if err is not classified.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
