package conn

import (
	"context"
	"errors"
	"net"
	"time"

	httperrors "github.com/kavorite/httpconn/pkg/errors"
	"github.com/kavorite/httpconn/pkg/ready"
)

// Resumable is a suspendable operation. Resume runs until it either
// completes (Result.Done true) or the transport would block (Result.Needs
// non-nil); the caller then waits on Needs.Poll and calls Resume again.
// Exactly one send-direction and one receive-direction Resumable may be
// active on a Connection at a time.
type Resumable interface {
	Resume(ctx context.Context) (Result, error)
}

// Result is the outcome of a single Resume call.
type Result struct {
	Needs *ready.NeedsIO
	Done  bool
	Value any
}

// errWouldBlock is the sentinel a step function returns to signal that the
// transport has no data/room available right now, but the operation has
// not failed.
var errWouldBlock = errors.New("conn: would block")

// runBlocking drives r to completion synchronously, waiting on each
// returned NeedsIO token with the connection's read/write timeout. This is
// the form most callers use.
func runBlocking(ctx context.Context, c *Connection, r Resumable) (any, error) {
	for {
		res, err := r.Resume(ctx)
		if err != nil {
			return nil, err
		}
		if res.Done {
			return res.Value, nil
		}
		if res.Needs == nil {
			continue
		}
		timeout := c.opts.ReadTimeout
		if res.Needs.Events&ready.Writable != 0 {
			timeout = c.opts.ConnTimeout
		}
		ok, err := res.Needs.Poll(timeout)
		if err != nil {
			c.poisoned = true
			return nil, httperrors.Wrap(httperrors.KindConnectionClosed, "poll", "poll failed", err)
		}
		if !ok {
			c.poisoned = true
			return nil, httperrors.NewTimeout("poll", timeout)
		}
	}
}

// probeWrite attempts a non-blocking write: it arms a write deadline one
// millisecond out so the call returns almost at once instead of blocking,
// and maps a resulting timeout with nothing written to errWouldBlock so the
// step function can yield a NeedsIO{Writable} token instead of stalling the
// caller's goroutine. A timeout after a partial write reports the bytes
// written as ordinary progress.
func probeWrite(tr net.Conn, p []byte) (int, error) {
	if err := tr.SetWriteDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return 0, err
	}
	n, err := tr.Write(p)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			if n > 0 {
				return n, nil
			}
			return 0, errWouldBlock
		}
		return n, err
	}
	return n, nil
}

// probeRead attempts a non-blocking read, mirroring probeWrite.
func probeRead(tr net.Conn, p []byte) (int, error) {
	if err := tr.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return 0, err
	}
	n, err := tr.Read(p)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			if n > 0 {
				return n, nil
			}
			return 0, errWouldBlock
		}
		return n, err
	}
	return n, nil
}

// probingConn is the Filler adapter pkg/ringbuf.Fill uses during a resumable
// read step: Read reports errWouldBlock instead of blocking.
type probingConn struct {
	tr net.Conn
}

func (p probingConn) Read(buf []byte) (int, error) {
	return probeRead(p.tr, buf)
}

// needsIO builds the readiness token for the given event set against c's
// transport file descriptor.
func (c *Connection) needsIO(events ready.EventSet) (*ready.NeedsIO, error) {
	fd, ok := c.Fd()
	if !ok {
		return nil, httperrors.New(httperrors.KindConnectionClosed, "needs_io", "no active transport")
	}
	return &ready.NeedsIO{FD: fd, Events: events}, nil
}
