package conn

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/kavorite/httpconn/pkg/header"
)

func TestExpect100ContinueThenBodyThenFinalResponse(t *testing.T) {
	const body = "request body data"
	addr := startServer(t, func(t *testing.T, conn net.Conn, r *bufio.Reader) {
		readRequestLineAndHeaders(t, r)
		conn.Write([]byte("HTTP/1.1 100 Continue\r\n\r\n"))
		drainBody(t, r, len(body))
		conn.Write([]byte("HTTP/1.1 201 Created\r\nContent-Length: 2\r\n\r\nok"))
	})
	c := dialTestConnection(t, addr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n := int64(len(body))
	h := header.NewMap()
	if err := c.SendRequest(ctx, "PUT", "/upload", h, BodyFollowing{Length: &n}, true); err != nil {
		t.Fatalf("send request: %v", err)
	}

	interim, err := c.ReadResponse(ctx)
	if err != nil {
		t.Fatalf("read interim response: %v", err)
	}
	if interim.Status != 100 {
		t.Fatalf("got status %d, want 100", interim.Status)
	}

	if _, err := c.Write(ctx, []byte(body), false); err != nil {
		t.Fatalf("write body: %v", err)
	}

	final, err := c.ReadResponse(ctx)
	if err != nil {
		t.Fatalf("read final response: %v", err)
	}
	if final.Status != 201 {
		t.Fatalf("got status %d, want 201", final.Status)
	}
	respBody, err := c.ReadAll(ctx)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if string(respBody) != "ok" {
		t.Fatalf("got body %q, want %q", respBody, "ok")
	}
}

func TestServerRejectsBodyWithoutWaitingForContinue(t *testing.T) {
	// A server that answers without ever sending 100 Continue is allowed
	// to simply respond early; the engine must abandon the pending send
	// rather than get stuck waiting to write a body nobody will read.
	addr := startServer(t, func(t *testing.T, conn net.Conn, r *bufio.Reader) {
		readRequestLineAndHeaders(t, r)
		conn.Write([]byte("HTTP/1.1 417 Expectation Failed\r\nContent-Length: 0\r\n\r\n"))
	})
	c := dialTestConnection(t, addr)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	n := int64(4)
	if err := c.SendRequest(ctx, "PUT", "/upload", nil, BodyFollowing{Length: &n}, true); err != nil {
		t.Fatalf("send request: %v", err)
	}
	resp, err := c.ReadResponse(ctx)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Status != 417 {
		t.Fatalf("got status %d, want 417", resp.Status)
	}
	if c.outState != OutIdle {
		t.Fatalf("expected the abandoned send to reset outState to OutIdle, got %v", c.outState)
	}
}

func TestExpect100WithoutBodyFollowingIsRejected(t *testing.T) {
	c := &Connection{Host: "example.invalid", opts: DefaultOptions(Options{})}
	res := c.SendRequestResumable("PUT", "/x", nil, []byte("inline"), true)
	_, err := res.Resume(context.Background())
	if err == nil {
		t.Fatalf("expected an error combining expect100 with a non-BodyFollowing body")
	}
}
