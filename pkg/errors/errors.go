// Package errors provides the structured error taxonomy for the httpconn
// engine.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// Kind represents the category of error that occurred.
type Kind string

const (
	// KindStateError means the caller invoked an operation the current
	// connection state does not allow (e.g. Write with no active body).
	KindStateError Kind = "state"
	// KindInvalidArgument means the caller passed malformed input.
	KindInvalidArgument Kind = "invalid_argument"
	// KindExcessBodyData means Write would send more than the announced
	// Content-Length.
	KindExcessBodyData Kind = "excess_body_data"
	// KindInvalidResponse means the wire data violates HTTP/1.x framing.
	KindInvalidResponse Kind = "invalid_response"
	// KindUnsupportedResponse means the response is well-formed but has no
	// framing the engine can decode (no length, not chunked).
	KindUnsupportedResponse Kind = "unsupported_response"
	// KindLineTooLong means a status/header/chunk line exceeded the cap.
	KindLineTooLong Kind = "line_too_long"
	// KindConnectionClosed means the peer closed unexpectedly.
	KindConnectionClosed Kind = "connection_closed"
	// KindConnectionTimedOut means a per-operation deadline elapsed.
	KindConnectionTimedOut Kind = "connection_timed_out"
	// KindHostnameNotResolvable means the control name resolved but the
	// target host did not.
	KindHostnameNotResolvable Kind = "hostname_not_resolvable"
	// KindDNSUnavailable means neither the target nor the control name
	// resolved.
	KindDNSUnavailable Kind = "dns_unavailable"
)

// Error is a structured error with context, in the same shape as the
// teacher's transport errors: a kind, the failing operation, a message,
// and an optional cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

// New builds an Error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Poisons reports whether an error of this kind leaves the connection
// direction it occurred on unusable until an explicit Disconnect.
// StateError, InvalidArgument and ExcessBodyData are caller-misuse errors
// that do not poison the connection; every other kind does.
func (e *Error) Poisons() bool {
	switch e.Kind {
	case KindStateError, KindInvalidArgument, KindExcessBodyData:
		return false
	default:
		return true
	}
}

// GetKind returns the Kind of err if it is (or wraps) an *Error.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTimeout reports whether err represents a deadline/timeout condition,
// either one of our own KindConnectionTimedOut errors or a net.Error
// marked Timeout, or a context deadline.
func IsTimeout(err error) bool {
	if GetKind(err) == KindConnectionTimedOut {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsTemporary classifies err the way python-dugong's is_temp_network_error
// does: socket timeouts, resets, TLS zero-return/EOF and DNS EAGAIN/
// EAI_NONAME are transient; everything else is permanent.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if IsTimeout(err) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary || dnsErr.IsNotFound
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// NewTimeout builds a KindConnectionTimedOut error for operation op that
// waited longer than d.
func NewTimeout(op string, d time.Duration) *Error {
	return New(KindConnectionTimedOut, op, fmt.Sprintf("timed out after %v", d))
}
