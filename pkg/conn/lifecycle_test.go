package conn

import (
	"net"
	"testing"

	httperrors "github.com/kavorite/httpconn/pkg/errors"
)

func TestConnectDialsAndDisconnectResetsState(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	c := dialTestConnection(t, ln.Addr().String())
	if c.transport == nil {
		t.Fatalf("expected Connect to populate transport")
	}
	if c.buf == nil {
		t.Fatalf("expected Connect to install a read buffer")
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if c.transport != nil || c.buf != nil {
		t.Fatalf("expected Disconnect to clear transport and buffer")
	}
	if c.outState != OutIdle || c.inState != InIdle {
		t.Fatalf("expected Disconnect to reset state machines to idle")
	}
	if c.poisoned || c.sendActive || c.recvActive {
		t.Fatalf("expected Disconnect to clear poisoned/sendActive/recvActive")
	}
}

func TestIsConnectSuccessAcceptsAny2xx(t *testing.T) {
	cases := map[string]bool{
		"HTTP/1.1 200 Connection Established\r\n": true,
		"HTTP/1.1 201 Created\r\n":                 true,
		"HTTP/1.1 299 Weird But 2xx\r\n":            true,
		"HTTP/1.1 301 Moved\r\n":                    false,
		"HTTP/1.1 407 Proxy Auth Required\r\n":      false,
		"garbage\r\n":                               false,
	}
	for line, want := range cases {
		if got := isConnectSuccess(line); got != want {
			t.Fatalf("isConnectSuccess(%q) = %v, want %v", line, got, want)
		}
	}
}

func TestProxyPortDefaultsByType(t *testing.T) {
	if got := proxyPort(&ProxyConfig{Type: "socks5"}); got != 1080 {
		t.Fatalf("got %d, want 1080", got)
	}
	if got := proxyPort(&ProxyConfig{Type: "http"}); got != 8080 {
		t.Fatalf("got %d, want 8080", got)
	}
	if got := proxyPort(&ProxyConfig{Type: "http", Port: 3128}); got != 3128 {
		t.Fatalf("got %d, want explicit 3128", got)
	}
}

func TestBasicAuthEncodesUserPassword(t *testing.T) {
	got := basicAuth("alice", "s3cret")
	want := "YWxpY2U6czNjcmV0" // base64("alice:s3cret")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestProbeDNSReportsHostnameNotResolvableWhenControlHostResolves(t *testing.T) {
	c := &Connection{
		Host: "this-host-should-never-resolve.invalid",
		opts: DefaultOptions(Options{DNSProbeControlHost: "localhost"}),
	}
	err := c.probeDNS()
	if err == nil {
		t.Skip("DNS environment resolved an .invalid TLD; skipping")
	}
	if httperrors.GetKind(err) != httperrors.KindHostnameNotResolvable {
		t.Fatalf("expected KindHostnameNotResolvable, got %v", err)
	}
}
