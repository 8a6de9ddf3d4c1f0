package conn

import (
	"context"
	"errors"
	"strconv"
	"strings"

	httperrors "github.com/kavorite/httpconn/pkg/errors"
	"github.com/kavorite/httpconn/pkg/framing"
	"github.com/kavorite/httpconn/pkg/header"
	"github.com/kavorite/httpconn/pkg/ready"
)

func (c *Connection) beginRecv() error {
	if c.poisoned {
		return httperrors.New(httperrors.KindConnectionClosed, "recv", "connection is poisoned")
	}
	if c.recvActive {
		return httperrors.New(httperrors.KindStateError, "recv", "a receive operation is already in progress")
	}
	c.recvActive = true
	return nil
}

func (c *Connection) endRecv() { c.recvActive = false }

// readResponseOp reads a status line and header block, filtering interim
// 1xx responses, per ReadResponseResumable.
type readResponseOp struct {
	c      *Connection
	status header.StatusLine
	hr     *header.Reader
	phase  int
}

const (
	rrPhaseStatus = iota
	rrPhaseHeaders
)

func (op *readResponseOp) Resume(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}
	filler := probingConn{op.c.transport}
	for {
		switch op.phase {
		case rrPhaseStatus:
			sl, err := header.ReadStatusLine(op.c.buf, filler, op.c.opts.MaxLine)
			if err != nil {
				return op.block(err)
			}
			op.status = sl
			op.hr = header.NewReader()
			op.phase = rrPhaseHeaders

		case rrPhaseHeaders:
			if err := op.hr.Step(op.c.buf, filler, op.c.opts.MaxLine); err != nil {
				return op.block(err)
			}
			headers := op.hr.Map()
			if op.status.Status >= 100 && op.status.Status <= 199 {
				pr, _ := op.c.peekPending()
				if pr.BodyLenOpt != nil && op.status.Status == 100 {
					return op.finish(headers)
				}
				op.c.logf("discarding interim %d %s", op.status.Status, op.status.Reason)
				op.phase = rrPhaseStatus
				continue
			}
			return op.finish(headers)
		}
	}
}

func (op *readResponseOp) block(err error) (Result, error) {
	if errors.Is(err, errWouldBlock) {
		needs, nerr := op.c.needsIO(ready.Readable)
		if nerr != nil {
			op.c.endRecv()
			op.c.poisoned = true
			return Result{}, nerr
		}
		return Result{Needs: needs}, nil
	}
	op.c.endRecv()
	op.c.poisonIfPoisoning(err)
	return Result{}, err
}

// poisonIfPoisoning sets c.poisoned unless err is a structured error whose
// Kind is explicitly exempt (StateError, InvalidArgument, ExcessBodyData).
func (c *Connection) poisonIfPoisoning(err error) {
	var he *httperrors.Error
	if errors.As(err, &he) {
		if he.Poisons() {
			c.poisoned = true
		}
		return
	}
	c.poisoned = true
}

func (op *readResponseOp) finish(headers *header.Map) (Result, error) {
	op.c.endRecv()
	c := op.c
	status := op.status.Status

	if status == 100 {
		pr, ok := c.popPending()
		if !ok {
			c.poisoned = true
			return Result{}, httperrors.New(httperrors.KindStateError, "read_response", "no pending requests")
		}
		c.outState = OutSending
		c.outRemaining = *pr.BodyLenOpt
		c.outMethod, c.outURL = pr.Method, pr.URL
		c.inState = InIdle
		resp := &Response{Method: pr.Method, URL: pr.URL, Status: status, Reason: op.status.Reason, Headers: headers, Length: int64Ptr(0)}
		return Result{Done: true, Value: resp}, nil
	}

	pr, ok := c.peekPending()
	if !ok {
		c.poisoned = true
		return Result{}, httperrors.New(httperrors.KindStateError, "read_response", "no pending requests")
	}
	if pr.BodyLenOpt != nil {
		// Server responded without requesting the body; abandon the send.
		// The pipeline head stays put: body completion is what pops it.
		c.outState = OutIdle
	}

	var bodyLength *int64
	var decoder framing.Decoder
	encoding := EncodingIdentity

	connHdr, _ := headers.Get("Connection")
	willClose := strings.EqualFold(connHdr, "close")

	tc, _ := headers.Get("Transfer-Encoding")
	switch {
	case strings.EqualFold(tc, "chunked"):
		encoding = EncodingChunked
	case tc != "" && !strings.EqualFold(tc, "identity"):
		c.poisoned = true
		return Result{}, httperrors.New(httperrors.KindInvalidResponse, "read_response", "cannot handle "+tc+" encoding")
	}

	noContentByRFC := status == 204 || status == 304 || (status >= 100 && status < 200) || pr.Method == "HEAD"
	switch {
	case noContentByRFC:
		bodyLength = int64Ptr(0)
		decoder = framing.NewIdentity(0)
		encoding = EncodingIdentity
	case encoding == EncodingChunked:
		chunked := framing.NewChunked()
		chunked.TrailerInto = headers
		decoder = chunked
	case !headers.Has("Content-Length") && willClose:
		// No length and no chunking, but the connection closing is itself
		// the body terminator.
		decoder = &framing.UntilClose{}
	case !headers.Has("Content-Length"):
		decoder = &framing.Raw{Reason: "no Content-Length and no chunked Transfer-Encoding"}
		encoding = EncodingRaw
	default:
		cl, err := strconv.ParseInt(mustGet(headers, "Content-Length"), 10, 64)
		if err != nil || cl < 0 {
			c.poisoned = true
			return Result{}, httperrors.New(httperrors.KindInvalidResponse, "read_response", "invalid Content-Length")
		}
		bodyLength = &cl
		decoder = framing.NewIdentity(cl)
	}

	c.decoder = decoder
	c.encoding = encoding
	if encoding == EncodingRaw {
		c.inState = InRaw
	} else {
		c.inState = InFraming
	}
	c.curMethod, c.curURL = pr.Method, pr.URL

	if willClose {
		c.closing = true
	}

	resp := &Response{Method: pr.Method, URL: pr.URL, Status: status, Reason: op.status.Reason, Headers: headers, Length: bodyLength}
	return Result{Done: true, Value: resp}, nil
}

func mustGet(m *header.Map, key string) string {
	v, _ := m.Get(key)
	return v
}

func int64Ptr(v int64) *int64 { return &v }

// ReadResponseResumable reads the next response's status line and headers.
func (c *Connection) ReadResponseResumable() Resumable {
	if len(c.pending) == 0 {
		return failedOp{httperrors.New(httperrors.KindStateError, "read_response", "no pending requests")}
	}
	if c.closing {
		c.poisoned = true
		return failedOp{httperrors.New(httperrors.KindConnectionClosed, "read_response", "a prior response carried Connection: close")}
	}
	if c.inState != InIdle {
		return failedOp{httperrors.New(httperrors.KindStateError, "read_response", "previous response not read completely")}
	}
	if err := c.beginRecv(); err != nil {
		return failedOp{err}
	}
	return &readResponseOp{c: c}
}

// ReadResponse is the blocking convenience wrapper around
// ReadResponseResumable.
func (c *Connection) ReadResponse(ctx context.Context) (*Response, error) {
	v, err := runBlocking(ctx, c, c.ReadResponseResumable())
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil
}

// readBodyOp reads up to len(p) bytes of the active response body.
type readBodyOp struct {
	c *Connection
	p []byte
}

func (op *readBodyOp) Resume(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}
	c := op.c
	n, err := c.decoder.Read(probingConn{c.transport}, c.buf, op.p)
	if err != nil {
		if errors.Is(err, errWouldBlock) {
			needs, nerr := c.needsIO(ready.Readable)
			if nerr != nil {
				c.endRecv()
				c.poisoned = true
				return Result{}, nerr
			}
			return Result{Needs: needs}, nil
		}
		c.endRecv()
		c.poisonIfPoisoning(err)
		return Result{}, err
	}
	c.endRecv()
	if n == 0 {
		c.popBodyCompleted()
	}
	return Result{Done: true, Value: n}, nil
}

// popBodyCompleted pops the pipeline head once the active response's body
// has been fully consumed and returns the connection to InIdle.
func (c *Connection) popBodyCompleted() {
	if _, ok := c.popPending(); !ok {
		c.poisoned = true
	}
	c.inState = InIdle
	c.decoder = nil
}

func (c *Connection) validateRead() error {
	if c.inState == InIdle {
		return httperrors.New(httperrors.KindStateError, "read", "no active response with body")
	}
	if c.inState == InRaw {
		return httperrors.New(httperrors.KindUnsupportedResponse, "read", "response has no decodable framing; use ReadRaw")
	}
	return nil
}

// Read reads up to n bytes of the active response body, returning an empty
// slice once the body has been read completely (and at once when n is 0).
func (c *Connection) Read(ctx context.Context, n int) ([]byte, error) {
	if err := c.validateRead(); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if err := c.beginRecv(); err != nil {
		return nil, err
	}
	p := make([]byte, n)
	v, err := runBlocking(ctx, c, &readBodyOp{c: c, p: p})
	if err != nil {
		return nil, err
	}
	return p[:v.(int)], nil
}

const readAllChunk = 64 * 1024

// ReadAll reads the complete response body.
func (c *Connection) ReadAll(ctx context.Context) ([]byte, error) {
	var out []byte
	for {
		buf, err := c.Read(ctx, readAllChunk)
		if err != nil {
			return nil, err
		}
		if len(buf) == 0 {
			return out, nil
		}
		out = append(out, buf...)
	}
}

// ReadInto reads response body data directly into buf, returning the number
// of bytes read (0 once the body is exhausted, and at once when buf is
// empty).
func (c *Connection) ReadInto(ctx context.Context, buf []byte) (int, error) {
	if err := c.validateRead(); err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, nil
	}
	if err := c.beginRecv(); err != nil {
		return 0, err
	}
	v, err := runBlocking(ctx, c, &readBodyOp{c: c, p: buf})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Discard reads and discards the remainder of the active response body.
func (c *Connection) Discard(ctx context.Context) error {
	for {
		buf, err := c.Read(ctx, readAllChunk)
		if err != nil {
			return err
		}
		if len(buf) == 0 {
			return nil
		}
	}
}

// rawReadOp drains raw transport bytes without any framing applied.
type rawReadOp struct {
	c *Connection
	p []byte
}

func (op *rawReadOp) Resume(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}
	c := op.c
	n, err := framing.ReadRaw(probingConn{c.transport}, c.buf, op.p)
	if err != nil {
		if errors.Is(err, errWouldBlock) {
			needs, nerr := c.needsIO(ready.Readable)
			if nerr != nil {
				c.endRecv()
				c.poisoned = true
				return Result{}, nerr
			}
			return Result{Needs: needs}, nil
		}
		c.endRecv()
		c.poisoned = true
		return Result{}, err
	}
	c.endRecv()
	if n == 0 {
		c.popBodyCompleted()
	}
	return Result{Done: true, Value: n}, nil
}

// ReadRaw reads up to n raw bytes from an UnsupportedResponse body, bypassing
// framing entirely. It is only valid while Connection is in the InRaw state.
func (c *Connection) ReadRaw(ctx context.Context, n int) ([]byte, error) {
	if c.inState != InRaw {
		return nil, httperrors.New(httperrors.KindStateError, "read_raw", "no raw response body pending")
	}
	if n == 0 {
		return nil, nil
	}
	if err := c.beginRecv(); err != nil {
		return nil, err
	}
	p := make([]byte, n)
	v, err := runBlocking(ctx, c, &rawReadOp{c: c, p: p})
	if err != nil {
		return nil, err
	}
	return p[:v.(int)], nil
}
