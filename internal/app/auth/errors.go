package auth

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrorKind classifies authorization failures.
type ErrorKind int

const (
	ErrorTimeout        ErrorKind = iota // No redirect within the window
	ErrorDenied                          // User refused consent
	ErrorExchangeFailed                  // Token endpoint rejected the code
	ErrorStateMismatch                   // Redirect did not carry our state
	ErrorListener                        // Local callback listener could not start
	ErrorPersist                         // Credential could not be stored
	ErrorCanceled                        // Caller gave up before the redirect
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorTimeout:
		return "timeout"
	case ErrorDenied:
		return "denied"
	case ErrorExchangeFailed:
		return "exchange_failed"
	case ErrorStateMismatch:
		return "state_mismatch"
	case ErrorListener:
		return "listener"
	case ErrorPersist:
		return "persist"
	case ErrorCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is returned by Flow.Acquire.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case ErrorTimeout:
		return "authorization timed out"
	case ErrorDenied:
		msg = "authorization denied"
	case ErrorExchangeFailed:
		msg = "authorization failed: token exchange failed"
	case ErrorStateMismatch:
		msg = "authorization failed: state mismatch"
	case ErrorListener:
		msg = "authorization failed: callback listener"
	case ErrorPersist:
		msg = "authorization failed: could not store credential"
	case ErrorCanceled:
		msg = "authorization canceled"
	default:
		msg = "authorization failed"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is an authorization error of kind.
func IsKind(err error, kind ErrorKind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}
