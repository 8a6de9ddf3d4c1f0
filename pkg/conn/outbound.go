package conn

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/valyala/bytebufferpool"

	httperrors "github.com/kavorite/httpconn/pkg/errors"
	"github.com/kavorite/httpconn/pkg/header"
	"github.com/kavorite/httpconn/pkg/ready"
)

// writeStep is a resumable raw byte-send: it retries a non-blocking write
// against the transport until either all of buf has gone out (partial
// false) or a single write attempt has succeeded (partial true), yielding a
// NeedsIO{Writable} token whenever the transport would otherwise block.
type writeStep struct {
	c       *Connection
	buf     []byte
	partial bool
	offset  int
}

func (w *writeStep) Resume(ctx context.Context) (Result, error) {
	if w.c.poisoned {
		w.c.endSend()
		return Result{}, httperrors.New(httperrors.KindConnectionClosed, "write", "connection is poisoned")
	}
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}
	for {
		if w.offset == len(w.buf) {
			w.c.endSend()
			return Result{Done: true, Value: w.offset}, nil
		}
		n, err := probeWrite(w.c.transport, w.buf[w.offset:])
		if err != nil {
			if errors.Is(err, errWouldBlock) {
				needs, nerr := w.c.needsIO(ready.Writable)
				if nerr != nil {
					w.c.endSend()
					w.c.poisoned = true
					return Result{}, nerr
				}
				return Result{Needs: needs}, nil
			}
			w.c.endSend()
			w.c.poisoned = true
			return Result{}, classifyWriteErr(err)
		}
		w.offset += n
		if w.partial {
			w.c.endSend()
			return Result{Done: true, Value: w.offset}, nil
		}
	}
}

func classifyWriteErr(err error) error {
	return httperrors.Wrap(httperrors.KindConnectionClosed, "write", "transport write failed", err)
}

func (c *Connection) beginSend() error {
	if c.poisoned {
		return httperrors.New(httperrors.KindConnectionClosed, "send", "connection is poisoned")
	}
	if c.sendActive {
		return httperrors.New(httperrors.KindStateError, "send", "a send operation is already in progress")
	}
	c.sendActive = true
	return nil
}

func (c *Connection) endSend() { c.sendActive = false }

// WriteResumable writes request body data. An active request must have body
// data pending (Connection.outState must be OutSending); ExcessBodyData is
// reported by the first Resume call, before any I/O, if buf is larger than
// the remaining announced body length.
func (c *Connection) WriteResumable(buf []byte, partial bool) Resumable {
	if err := c.validateWrite(buf); err != nil {
		return failedOp{err}
	}
	if err := c.beginSend(); err != nil {
		return failedOp{err}
	}
	return &writeBodyOp{ws: &writeStep{c: c, buf: buf, partial: partial}, c: c}
}

func (c *Connection) validateWrite(buf []byte) error {
	if c.outState == OutIdle {
		return httperrors.New(httperrors.KindStateError, "write", "no active request with pending body data")
	}
	if c.outState == OutAwaitingContinue {
		return httperrors.New(httperrors.KindStateError, "write", "cannot write while waiting for 100-continue")
	}
	if int64(len(buf)) > c.outRemaining {
		return httperrors.New(httperrors.KindExcessBodyData,
			"write", fmt.Sprintf("trying to write %d bytes, but only %d bytes pending", len(buf), c.outRemaining))
	}
	return nil
}

// Write is the blocking convenience wrapper around WriteResumable.
func (c *Connection) Write(ctx context.Context, buf []byte, partial bool) (int, error) {
	v, err := runBlocking(ctx, c, c.WriteResumable(buf, partial))
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

type writeBodyOp struct {
	ws *writeStep
	c  *Connection
}

func (op *writeBodyOp) Resume(ctx context.Context) (Result, error) {
	res, err := op.ws.Resume(ctx)
	if err != nil {
		return Result{}, err
	}
	if !res.Done {
		return res, nil
	}
	n := res.Value.(int)
	op.c.outRemaining -= int64(n)
	if op.c.outRemaining == 0 {
		op.c.outState = OutIdle
		op.c.pushPending(op.c.outMethod, op.c.outURL, nil)
	}
	return Result{Done: true, Value: n}, nil
}

// failedOp is a Resumable that immediately fails with a pre-computed error,
// for validation failures detected before any I/O is attempted.
type failedOp struct{ err error }

func (f failedOp) Resume(ctx context.Context) (Result, error) { return Result{}, f.err }

// SendRequestResumable sends a request's headers (and inline body, if any)
// to the server. headers may be nil. body is one of nil, []byte, or
// BodyFollowing; BodyFollowing with a nil Length is rejected (chunked
// request framing is not supported).
func (c *Connection) SendRequestResumable(method, url string, headers *header.Map, body any, expect100 bool) Resumable {
	if expect100 {
		if _, ok := body.(BodyFollowing); !ok {
			return failedOp{httperrors.New(httperrors.KindInvalidArgument, "send_request", "expect100 only allowed with BodyFollowing")}
		}
	}
	if c.outState != OutIdle {
		return failedOp{httperrors.New(httperrors.KindStateError, "send_request", "body data has not been sent completely yet")}
	}
	if c.closing {
		c.poisoned = true
		return failedOp{httperrors.New(httperrors.KindConnectionClosed, "send_request", "a prior response carried Connection: close; no further requests accepted")}
	}

	if headers == nil {
		headers = header.NewMap()
	}

	var pendingBodySize *int64
	var inlineBody []byte

	switch b := body.(type) {
	case nil:
		headers.Set("Content-Length", "0")
	case BodyFollowing:
		if b.Length == nil {
			return failedOp{httperrors.New(httperrors.KindInvalidArgument, "send_request", "chunked request encoding is not supported")}
		}
		if expect100 {
			headers.Set("Expect", "100-continue")
			pendingBodySize = b.Length
			c.outState = OutAwaitingContinue
			c.outRemaining = *b.Length
		} else {
			c.outState = OutSending
			c.outRemaining = *b.Length
		}
		c.outMethod, c.outURL = method, url
		headers.Set("Content-Length", strconv.FormatInt(*b.Length, 10))
	case []byte:
		headers.Set("Content-Length", strconv.Itoa(len(b)))
		if !headers.Has("Content-MD5") {
			sum := md5.Sum(b)
			headers.Set("Content-MD5", base64.StdEncoding.EncodeToString(sum[:]))
		}
		inlineBody = b
	default:
		return failedOp{httperrors.New(httperrors.KindInvalidArgument, "send_request", "body must be nil, []byte or BodyFollowing")}
	}

	host := c.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	defaultPort := 80
	if c.opts.TLSConfig != nil {
		defaultPort = 443
	}
	if c.opts.Port == defaultPort {
		headers.Set("Host", host)
	} else {
		headers.Set("Host", fmt.Sprintf("%s:%d", host, c.opts.Port))
	}
	headers.Set("Accept-Encoding", "identity")
	headers.Set("Connection", "keep-alive")

	var out bytes.Buffer
	requestLine := fmt.Sprintf("%s %s HTTP/1.1", method, url)
	header.WriteHeaderBlock(&out, requestLine, headers)
	if inlineBody != nil {
		out.Write(inlineBody)
	}

	if err := c.beginSend(); err != nil {
		return failedOp{err}
	}
	return &sendRequestOp{
		ws:              &writeStep{c: c, buf: out.Bytes()},
		c:               c,
		method:          method,
		url:             url,
		expect100:       expect100,
		pendingBodySize: pendingBodySize,
	}
}

// SendRequest is the blocking convenience wrapper around
// SendRequestResumable.
func (c *Connection) SendRequest(ctx context.Context, method, url string, headers *header.Map, body any, expect100 bool) error {
	if c.transport == nil {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}
	_, err := runBlocking(ctx, c, c.SendRequestResumable(method, url, headers, body, expect100))
	return err
}

type sendRequestOp struct {
	ws              *writeStep
	c               *Connection
	method, url     string
	expect100       bool
	pendingBodySize *int64
}

func (op *sendRequestOp) Resume(ctx context.Context) (Result, error) {
	res, err := op.ws.Resume(ctx)
	if err != nil {
		return Result{}, err
	}
	if !res.Done {
		return res, nil
	}
	if op.c.outState == OutIdle || op.expect100 {
		op.c.pushPending(op.method, op.url, op.pendingBodySize)
	}
	return Result{Done: true}, nil
}

// sendfileScratchSize is the pooled scratch buffer size used to shuttle
// bytes from an io.Reader source to the transport one resumable step at a
// time.
const sendfileScratchSize = 16 * 1024

// SendfileResumable sends request body data read from src, stopping once
// the announced Content-Length has been satisfied or src is exhausted.
func (c *Connection) SendfileResumable(src io.Reader) Resumable {
	if c.outState == OutIdle {
		return failedOp{httperrors.New(httperrors.KindStateError, "sendfile", "no active request with pending body data")}
	}
	if c.outState == OutAwaitingContinue {
		return failedOp{httperrors.New(httperrors.KindStateError, "sendfile", "cannot write while waiting for 100-continue")}
	}
	if err := c.beginSend(); err != nil {
		return failedOp{err}
	}
	scratch := bytebufferpool.Get()
	if cap(scratch.B) < sendfileScratchSize {
		scratch.B = make([]byte, sendfileScratchSize)
	} else {
		scratch.B = scratch.B[:sendfileScratchSize]
	}
	return &sendfileOp{c: c, src: src, scratch: scratch}
}

// Sendfile is the blocking convenience wrapper around SendfileResumable.
func (c *Connection) Sendfile(ctx context.Context, src io.Reader) (int64, error) {
	v, err := runBlocking(ctx, c, c.SendfileResumable(src))
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

type sendfileOp struct {
	c       *Connection
	src     io.Reader
	scratch *bytebufferpool.ByteBuffer
	pending []byte
	total   int64
}

func (op *sendfileOp) Resume(ctx context.Context) (Result, error) {
	if op.c.poisoned {
		op.finish()
		return Result{}, httperrors.New(httperrors.KindConnectionClosed, "sendfile", "connection is poisoned")
	}
	for {
		if len(op.pending) == 0 {
			if op.c.outRemaining == 0 {
				op.c.outState = OutIdle
				op.c.pushPending(op.c.outMethod, op.c.outURL, nil)
				op.finish()
				op.c.endSend()
				return Result{Done: true, Value: op.total}, nil
			}
			want := int64(len(op.scratch.B))
			if want > op.c.outRemaining {
				want = op.c.outRemaining
			}
			n, err := op.src.Read(op.scratch.B[:want])
			if n == 0 {
				op.finish()
				op.c.endSend()
				if err != nil && err != io.EOF {
					op.c.poisoned = true
					return Result{}, httperrors.Wrap(httperrors.KindConnectionClosed, "sendfile", "source read failed", err)
				}
				return Result{Done: true, Value: op.total}, nil
			}
			op.pending = op.scratch.B[:n]
		}
		n, err := probeWrite(op.c.transport, op.pending)
		if err != nil {
			if errors.Is(err, errWouldBlock) {
				needs, nerr := op.c.needsIO(ready.Writable)
				if nerr != nil {
					op.finish()
					op.c.endSend()
					op.c.poisoned = true
					return Result{}, nerr
				}
				return Result{Needs: needs}, nil
			}
			op.finish()
			op.c.endSend()
			op.c.poisoned = true
			return Result{}, classifyWriteErr(err)
		}
		op.pending = op.pending[n:]
		op.total += int64(n)
		op.c.outRemaining -= int64(n)
	}
}

func (op *sendfileOp) finish() {
	bytebufferpool.Put(op.scratch)
}
