package streaming

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/osa030/tapedeck/internal/app/playback"
)

// Session errors.
var (
	ErrSessionClosed   = errors.New("session is closed")
	ErrTeardownTimeout = errors.New("session teardown timed out")
)

// ConnectErrorKind classifies connect failures.
type ConnectErrorKind int

const (
	ConnectNetwork           ConnectErrorKind = iota // Unreachable backend, timeout
	ConnectInvalidCredential                         // Credential rejected
	ConnectRejected                                  // Backend refused the session
)

// String returns the string representation of the kind.
func (k ConnectErrorKind) String() string {
	switch k {
	case ConnectNetwork:
		return "network"
	case ConnectInvalidCredential:
		return "invalid credential"
	case ConnectRejected:
		return "backend rejected"
	default:
		return "unknown"
	}
}

// ConnectError is returned when a session cannot be established.
type ConnectError struct {
	Kind ConnectErrorKind
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connect failed: %s", e.Kind)
	}
	return fmt.Sprintf("connect failed: %s: %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Transient reports whether another attempt may succeed.
func (e *ConnectError) Transient() bool {
	return e.Kind == ConnectNetwork
}

// NewConnectError wraps err with a kind.
func NewConnectError(kind ConnectErrorKind, err error) *ConnectError {
	return &ConnectError{Kind: kind, Err: err}
}

// AsConnectError classifies any connect failure. Unknown errors are treated as network errors.
func AsConnectError(err error) *ConnectError {
	if err == nil {
		return nil
	}
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ConnectError{Kind: ConnectNetwork, Err: errors.Wrap(err, "connect attempt timed out")}
	}
	return &ConnectError{Kind: ConnectNetwork, Err: err}
}

// SessionError is returned by a backend command.
type SessionError struct {
	Kind playback.ErrorKind
	Err  error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session command failed (%s): %v", e.Kind, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// NewSessionError wraps err with a kind.
func NewSessionError(kind playback.ErrorKind, err error) *SessionError {
	return &SessionError{Kind: kind, Err: err}
}

// ErrorKindOf returns the error kind of a command failure. Unclassified errors are transient.
func ErrorKindOf(err error) playback.ErrorKind {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return playback.ErrorKindTransient
}
