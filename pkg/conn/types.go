// Package conn implements the single-origin, pipelined HTTP/1.1 engine:
// the outbound/inbound state machines, the pending-request pipeline, the
// suspendable I/O primitives, and the connection lifecycle (dial, CONNECT
// tunnel, TLS upgrade).
package conn

import (
	"crypto/tls"
	"crypto/x509"
	"log"
	"net"
	"syscall"
	"time"

	"github.com/kavorite/httpconn/pkg/constants"
	"github.com/kavorite/httpconn/pkg/framing"
	"github.com/kavorite/httpconn/pkg/header"
	"github.com/kavorite/httpconn/pkg/ringbuf"
	"github.com/kavorite/httpconn/pkg/tlsconfig"
)

// OutState is the state of the outbound (request) direction.
type OutState int

const (
	// OutIdle means no request has unsent body data pending.
	OutIdle OutState = iota
	// OutSending means request body bytes remain to be written.
	OutSending
	// OutAwaitingContinue means the request headers carried
	// Expect: 100-continue and the body has not been released yet.
	OutAwaitingContinue
)

// InState is the state of the inbound (response) direction.
type InState int

const (
	// InIdle means no response header has been read for the pipeline head.
	InIdle InState = iota
	// InFraming means a response body is being read via Identity or Chunked.
	InFraming
	// InRaw means the response has no decodable framing; only ReadRaw works.
	InRaw
	// InBodyDone means the active response's body has been fully consumed.
	InBodyDone
)

// Encoding is the active response body's transfer encoding.
type Encoding int

const (
	EncodingNone Encoding = iota
	EncodingIdentity
	EncodingChunked
	EncodingRaw
)

// PendingRequest is one entry in the FIFO of requests whose response has not
// yet been completely read. A request sent with Expect: 100-continue
// occupies two consecutive entries: one pushed when the headers are sent,
// a second pushed once the body has actually been transmitted.
type PendingRequest struct {
	Method     string
	URL        string
	BodyLenOpt *int64 // nil unless still waiting to send 100-continue body
}

// Response describes a received status line and headers. Body data is
// retrieved separately through Connection.Read and friends.
type Response struct {
	Method  string
	URL     string
	Status  int
	Reason  string
	Headers *header.Map
	Length  *int64 // nil if the body length is not known in advance
}

// BodyFollowing, passed as SendRequest's body argument, declares that the
// request body will be supplied by later Write/Sendfile calls. Length is
// required: the engine does not implement chunked request framing.
type BodyFollowing struct {
	Length *int64
}

// Options configures a Connection. Zero-value fields resolve to defaults
// when New constructs the Connection; the engine never consults environment
// variables.
type Options struct {
	Port                int           // default 80 (443 if TLSConfig set)
	TLSConfig           *tls.Config   // non-nil enables the TLS upgrade
	Proxy               *ProxyConfig  // non-nil dials via CONNECT tunnel
	ConnTimeout         time.Duration // default constants.DefaultConnTimeout
	ReadTimeout         time.Duration // default constants.DefaultReadTimeout
	RingBufferSize      int           // default constants.DefaultRingBufferSize
	MaxLine             int           // default constants.DefaultMaxLine
	DNSProbe            bool          // default off
	DNSProbeControlHost string        // default "www.iana.org"
	Logger              *log.Logger   // nil means discard
}

// ProxyConfig describes an upstream CONNECT-tunnel proxy.
type ProxyConfig struct {
	Type     string // "http", "socks5"
	Host     string
	Port     int
	Username string
	Password string
}

// DefaultOptions fills in zero-value fields of opts with their defaults and
// returns the resolved copy.
func DefaultOptions(opts Options) Options {
	if opts.ConnTimeout <= 0 {
		opts.ConnTimeout = constants.DefaultConnTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = constants.DefaultReadTimeout
	}
	if opts.RingBufferSize <= 0 {
		opts.RingBufferSize = constants.DefaultRingBufferSize
	}
	if opts.MaxLine <= 0 {
		opts.MaxLine = constants.DefaultMaxLine
	}
	if opts.DNSProbeControlHost == "" {
		opts.DNSProbeControlHost = "www.iana.org"
	}
	return opts
}

// Connection is a single-origin, single-TCP/TLS-connection HTTP/1.1 client
// engine. It is not safe for concurrent use by more than one goroutine; the
// only internal serialization is the sendActive/recvActive guard described
// on the Resumable methods, which enforces at most one send-direction and
// one receive-direction suspendable operation in flight at a time.
type Connection struct {
	Host string
	opts Options

	transport net.Conn
	buf       *ringbuf.Buffer

	pending []PendingRequest

	outState     OutState
	outRemaining int64
	outMethod    string
	outURL       string

	inState   InState
	encoding  Encoding
	decoder   framing.Decoder
	curMethod string
	curURL    string

	sendActive bool
	recvActive bool
	poisoned   bool
	closing    bool // a response's header block carried Connection: close

	logger *log.Logger
}

// New constructs a Connection for host (not yet dialed — call Connect, or
// let the first SendRequest dial lazily).
func New(host string, opts Options) (*Connection, error) {
	opts = DefaultOptions(opts)
	if opts.Port <= 0 {
		if opts.TLSConfig != nil {
			opts.Port = 443
		} else {
			opts.Port = 80
		}
	}
	c := &Connection{
		Host:   host,
		opts:   opts,
		logger: opts.Logger,
	}
	return c, nil
}

func (c *Connection) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// ResponsePending reports whether any response, including partially read
// ones, is still outstanding.
func (c *Connection) ResponsePending() bool {
	return len(c.pending) > 0
}

// hasSyscallConn is implemented by *net.TCPConn and similar. A *tls.Conn
// does not implement it; Fd unwraps one to its underlying connection first.
type hasSyscallConn interface {
	SyscallConn() (syscall.RawConn, error)
}

// Fd returns the underlying transport's file descriptor and whether one is
// currently available (false once Disconnect has run or before the first
// successful Connect).
func (c *Connection) Fd() (uintptr, bool) {
	if c.transport == nil {
		return 0, false
	}
	tr := c.transport
	if tlsConn, ok := tr.(*tls.Conn); ok {
		tr = tlsConn.NetConn()
	}
	sc, ok := tr.(hasSyscallConn)
	if !ok {
		return 0, false
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}
	var fd uintptr
	if err := rc.Control(func(v uintptr) { fd = v }); err != nil {
		return 0, false
	}
	return fd, true
}

// SSLPeerCertificate returns the leaf certificate presented by the server,
// if the connection is over TLS.
func (c *Connection) SSLPeerCertificate() (*x509.Certificate, bool) {
	tlsConn, ok := c.transport.(*tls.Conn)
	if !ok {
		return nil, false
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, false
	}
	return state.PeerCertificates[0], true
}

// SSLCipher returns the negotiated cipher suite name, if the connection is
// over TLS.
func (c *Connection) SSLCipher() (string, bool) {
	tlsConn, ok := c.transport.(*tls.Conn)
	if !ok {
		return "", false
	}
	return tlsconfig.CipherSuiteName(tlsConn.ConnectionState().CipherSuite), true
}
