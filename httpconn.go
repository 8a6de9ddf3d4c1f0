// Package httpconn is a single-origin, pipelined HTTP/1.1 client engine: a
// suspendable state machine instead of a blocking RoundTripper, for callers
// that want to overlap request sends and response reads over one
// connection without spinning up a goroutine per request.
package httpconn

import (
	"github.com/kavorite/httpconn/pkg/conn"
	"github.com/kavorite/httpconn/pkg/errors"
	"github.com/kavorite/httpconn/pkg/header"
)

// Re-export the public types so callers only need to import this package.
type (
	// Connection is a single-origin, single-transport HTTP/1.1 engine.
	Connection = conn.Connection

	// Options configures a Connection.
	Options = conn.Options

	// ProxyConfig describes an upstream CONNECT-tunnel proxy.
	ProxyConfig = conn.ProxyConfig

	// Response describes a received status line and headers.
	Response = conn.Response

	// PendingRequest is one entry in the FIFO of outstanding responses.
	PendingRequest = conn.PendingRequest

	// BodyFollowing declares that a request body will be supplied by later
	// Write/Sendfile calls.
	BodyFollowing = conn.BodyFollowing

	// Resumable is a suspendable operation; see Result.
	Resumable = conn.Resumable

	// Result is the outcome of a single Resumable.Resume call.
	Result = conn.Result

	// HeaderMap is the case-insensitive header collection used on requests
	// and returned on responses.
	HeaderMap = header.Map

	// Error is the structured error type the engine returns.
	Error = errors.Error

	// Kind categorizes an Error.
	Kind = errors.Kind
)

// Re-export the connection-direction enums.
const (
	OutIdle             = conn.OutIdle
	OutSending          = conn.OutSending
	OutAwaitingContinue = conn.OutAwaitingContinue

	InIdle     = conn.InIdle
	InFraming  = conn.InFraming
	InRaw      = conn.InRaw
	InBodyDone = conn.InBodyDone

	EncodingNone     = conn.EncodingNone
	EncodingIdentity = conn.EncodingIdentity
	EncodingChunked  = conn.EncodingChunked
	EncodingRaw      = conn.EncodingRaw
)

// Re-export the error Kind constants.
const (
	KindStateError            = errors.KindStateError
	KindInvalidArgument       = errors.KindInvalidArgument
	KindExcessBodyData        = errors.KindExcessBodyData
	KindInvalidResponse       = errors.KindInvalidResponse
	KindUnsupportedResponse   = errors.KindUnsupportedResponse
	KindLineTooLong           = errors.KindLineTooLong
	KindConnectionClosed      = errors.KindConnectionClosed
	KindConnectionTimedOut    = errors.KindConnectionTimedOut
	KindHostnameNotResolvable = errors.KindHostnameNotResolvable
	KindDNSUnavailable        = errors.KindDNSUnavailable
)

// NewHeaderMap returns an empty HeaderMap.
func NewHeaderMap() *HeaderMap { return header.NewMap() }

// New constructs a Connection for host. The connection is not dialed until
// Connect is called explicitly or the first SendRequest dials it lazily.
func New(host string, opts Options) (*Connection, error) {
	return conn.New(host, opts)
}

// DefaultOptions fills in zero-value fields of opts with their defaults.
func DefaultOptions(opts Options) Options {
	return conn.DefaultOptions(opts)
}

// IsTimeout reports whether err represents a deadline/timeout condition.
func IsTimeout(err error) bool { return errors.IsTimeout(err) }

// IsTemporary reports whether err is a transient network condition worth
// retrying (timeouts, resets, DNS hiccups), as opposed to a permanent
// protocol or caller-misuse error.
func IsTemporary(err error) bool { return errors.IsTemporary(err) }

// GetKind returns the Kind of err if it is (or wraps) a structured Error.
func GetKind(err error) Kind { return errors.GetKind(err) }
