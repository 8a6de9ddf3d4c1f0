package conn

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"

	httperrors "github.com/kavorite/httpconn/pkg/errors"
	"github.com/kavorite/httpconn/pkg/ringbuf"
	netproxy "golang.org/x/net/proxy"
)

// Connect dials the target host (through Options.Proxy, if set), performs
// the TLS upgrade if Options.TLSConfig is set, and installs a fresh read
// buffer. It is safe to call directly, but SendRequest also calls it
// lazily on a Connection with no transport yet.
func (c *Connection) Connect(ctx context.Context) error {
	if c.opts.DNSProbe {
		if err := c.probeDNS(); err != nil {
			return err
		}
	}

	targetAddr := net.JoinHostPort(c.Host, strconv.Itoa(c.opts.Port))

	var tr net.Conn
	var err error
	if c.opts.Proxy != nil {
		tr, err = c.dialViaProxy(ctx, targetAddr)
	} else {
		tr, err = c.dialDirect(ctx, targetAddr)
	}
	if err != nil {
		return httperrors.Wrap(httperrors.KindConnectionClosed, "connect", "dial failed", err)
	}

	if c.opts.TLSConfig != nil {
		tr, err = c.upgradeTLS(ctx, tr)
		if err != nil {
			tr.Close()
			return httperrors.Wrap(httperrors.KindConnectionClosed, "connect", "TLS handshake failed", err)
		}
	}

	c.transport = tr
	c.buf = ringbuf.New(c.opts.RingBufferSize)
	c.pending = nil
	c.outState = OutIdle
	c.inState = InIdle
	c.poisoned = false
	return nil
}

// probeDNS resolves both the target host and a control hostname that is
// expected to always resolve. If neither resolves, the local resolver
// itself is assumed unreachable (DNSUnavailable); if only the target
// fails to resolve, the target hostname itself is presumed bad
// (HostnameNotResolvable).
func (c *Connection) probeDNS() error {
	_, targetErr := net.LookupHost(c.Host)
	if targetErr == nil {
		return nil
	}
	_, controlErr := net.LookupHost(c.opts.DNSProbeControlHost)
	if controlErr != nil {
		return httperrors.Wrap(httperrors.KindDNSUnavailable, "connect", "DNS resolution appears unavailable", targetErr)
	}
	return httperrors.Wrap(httperrors.KindHostnameNotResolvable, "connect", "host does not resolve", targetErr)
}

func (c *Connection) dialDirect(ctx context.Context, targetAddr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.opts.ConnTimeout}
	tr, err := dialer.DialContext(ctx, "tcp", targetAddr)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := tr.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
	}
	return tr, nil
}

// dialViaProxy opens the first hop to Options.Proxy and arranges for the
// target to be reachable through it. For a SOCKS5 proxy, x/net/proxy
// negotiates the tunnel to targetAddr directly. For an HTTP proxy, the
// first hop lands on the proxy itself and this engine's own CONNECT
// handshake (connectTunnel) takes over from there.
func (c *Connection) dialViaProxy(ctx context.Context, targetAddr string) (net.Conn, error) {
	proxy := c.opts.Proxy
	proxyAddr := net.JoinHostPort(proxy.Host, strconv.Itoa(proxyPort(proxy)))

	switch proxy.Type {
	case "socks5":
		var auth *netproxy.Auth
		if proxy.Username != "" {
			auth = &netproxy.Auth{User: proxy.Username, Password: proxy.Password}
		}
		dialer, err := netproxy.SOCKS5("tcp", proxyAddr, auth, &net.Dialer{Timeout: c.opts.ConnTimeout})
		if err != nil {
			return nil, fmt.Errorf("build SOCKS5 dialer: %w", err)
		}
		tr, err := dialer.Dial("tcp", targetAddr)
		if err != nil {
			return nil, fmt.Errorf("SOCKS5 connect: %w", err)
		}
		return tr, nil

	case "http":
		tr, err := c.dialDirect(ctx, proxyAddr)
		if err != nil {
			return nil, fmt.Errorf("connect to proxy: %w", err)
		}
		if err := c.connectTunnel(tr, targetAddr); err != nil {
			tr.Close()
			return nil, err
		}
		return tr, nil

	default:
		return nil, httperrors.New(httperrors.KindInvalidArgument, "connect", "unsupported proxy type: "+proxy.Type)
	}
}

func proxyPort(p *ProxyConfig) int {
	if p.Port != 0 {
		return p.Port
	}
	if p.Type == "socks5" {
		return 1080
	}
	return 8080
}

// connectTunnel performs the CONNECT handshake over tr, an already-open
// connection to an HTTP proxy: it sends "CONNECT host:port HTTP/1.1",
// accepts any 2xx status, and discards the header block that follows.
func (c *Connection) connectTunnel(tr net.Conn, targetAddr string) error {
	proxy := c.opts.Proxy

	var req strings.Builder
	fmt.Fprintf(&req, "CONNECT %s HTTP/1.1\r\n", targetAddr)
	fmt.Fprintf(&req, "Host: %s\r\n", targetAddr)
	if proxy.Username != "" {
		auth := basicAuth(proxy.Username, proxy.Password)
		fmt.Fprintf(&req, "Proxy-Authorization: Basic %s\r\n", auth)
	}
	req.WriteString("\r\n")

	if _, err := tr.Write([]byte(req.String())); err != nil {
		return fmt.Errorf("send CONNECT request: %w", err)
	}

	reader := bufio.NewReader(tr)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read CONNECT response: %w", err)
	}
	if !isConnectSuccess(statusLine) {
		return fmt.Errorf("CONNECT tunnel failed: %s", strings.TrimSpace(statusLine))
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read CONNECT response headers: %w", err)
		}
		if line == "\r\n" || line == "\n" {
			return nil
		}
	}
}

// isConnectSuccess reports whether a CONNECT response status line carries a
// 2xx status, per spec.md §4.7/§6 ("any 2xx status").
func isConnectSuccess(statusLine string) bool {
	fields := strings.Fields(statusLine)
	if len(fields) < 2 {
		return false
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return false
	}
	return code >= 200 && code < 300
}

func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

func (c *Connection) upgradeTLS(ctx context.Context, tr net.Conn) (net.Conn, error) {
	cfg := c.opts.TLSConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = c.Host
	}
	tlsConn := tls.Client(tr, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

// Disconnect shuts down and closes the transport, best-effort, and resets
// the connection to its freshly-constructed state. Pending requests and
// partially-read responses are discarded.
func (c *Connection) Disconnect() error {
	// Best-effort shutdown before close, mirroring a shutdown(SHUT_RDWR):
	// on a connection already broken by I/O errors this commonly fails,
	// and that failure is not worth reporting.
	type halfCloser interface {
		CloseRead() error
		CloseWrite() error
	}
	if hc, ok := c.transport.(halfCloser); ok {
		hc.CloseWrite()
		hc.CloseRead()
	}
	var closeErr error
	if c.transport != nil {
		closeErr = c.transport.Close()
	}
	c.transport = nil
	c.buf = nil
	c.pending = nil
	c.outState = OutIdle
	c.outRemaining = 0
	c.inState = InIdle
	c.decoder = nil
	c.poisoned = false
	c.closing = false
	c.sendActive = false
	c.recvActive = false
	return closeErr
}
