// Package kdferrors classifies the structural error kinds shared across the
// swap, coin, wallet and storage subsystems so callers can branch on kind
// instead of string-matching.
package kdferrors

import (
	"errors"
	"fmt"
)

// Kind is one of the seven structural error kinds from the design notes.
type Kind int

const (
	// KindTransport covers network/RPC-server unreachable conditions;
	// retried with fixed backoff by the enclosing state machine.
	KindTransport Kind = iota
	// KindInvalidResponse covers unparseable server responses.
	KindInvalidResponse
	// KindContentMismatch covers WrongPayment/WrongSecret/UnexpectedState:
	// on-chain data contradicts protocol expectations. Fatal for the
	// current transition.
	KindContentMismatch
	// KindLimitExhausted covers TimelockOverflow/AddressLimitReached/
	// AccountLimitReached.
	KindLimitExhausted
	// KindStorage covers backend write failures.
	KindStorage
	// KindHardwareWallet covers Trezor/HW errors.
	KindHardwareWallet
	// KindInternal covers invariant violations. Never retried.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindInvalidResponse:
		return "invalid_response"
	case KindContentMismatch:
		return "content_mismatch"
	case KindLimitExhausted:
		return "limit_exhausted"
	case KindStorage:
		return "storage"
	case KindHardwareWallet:
		return "hardware_wallet"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and a stable code used in
// RPC error bodies and event-log failure payloads.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the state machine driving this error should
// sleep and retry locally rather than emit a *Failed event.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindInvalidResponse
}

// New builds a classified error.
func New(kind Kind, code string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Err: cause}
}

// Sentinel codes referenced by name across packages.
var (
	ErrWrongPayment        = New(KindContentMismatch, "WrongPayment", nil)
	ErrWrongSecret         = New(KindContentMismatch, "WrongSecret", nil)
	ErrUnexpectedState     = New(KindContentMismatch, "UnexpectedState", nil)
	ErrTimelockOverflow    = New(KindLimitExhausted, "TimelockOverflow", nil)
	ErrAddressLimitReached = New(KindLimitExhausted, "AddressLimitReached", nil)
	ErrAccountLimitReached = New(KindLimitExhausted, "AccountLimitReached", nil)
	ErrAmountTooPrecise    = New(KindLimitExhausted, "AmountTooPrecise", nil)
	ErrInvalidAddress      = New(KindContentMismatch, "InvalidAddress", nil)
)

// Of reports whether err (or something it wraps) is a *Error of kind k.
func Of(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// Retryable reports whether err should be retried locally by a state
// machine rather than treated as fatal.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
