// Package ringbuf provides the fixed-capacity buffered reader that feeds the
// response parser from a connection's transport.
//
// A Buffer is not safe for concurrent use; callers are expected to honor the
// "at most one receive-direction operation at a time" discipline of the
// connection it backs.
package ringbuf

import (
	"io"

	"github.com/kavorite/httpconn/pkg/errors"
)

// Buffer is a fixed-capacity byte buffer with a begin index b and an end
// index e, 0 <= b <= e <= len(data). Bytes in data[b:e] are unconsumed data
// already read from the transport.
type Buffer struct {
	data []byte
	b, e int
}

// New returns a Buffer with the given capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 16 * 1024
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Len returns the number of unconsumed bytes currently held.
func (buf *Buffer) Len() int { return buf.e - buf.b }

// Cap returns the buffer's total capacity.
func (buf *Buffer) Cap() int { return len(buf.data) }

// Compact shifts unconsumed bytes to the start of the backing array so that
// b becomes 0, freeing room at the tail for Fill.
func (buf *Buffer) Compact() {
	if buf.b == 0 {
		return
	}
	n := copy(buf.data, buf.data[buf.b:buf.e])
	buf.b = 0
	buf.e = n
}

// Consume advances b by k, discarding k bytes that the caller has copied out.
func (buf *Buffer) Consume(k int) {
	buf.b += k
	if buf.b > buf.e {
		buf.b = buf.e
	}
}

// PeekSlice returns a view of up to k unconsumed bytes without copying or
// consuming them. The returned slice is only stable until the next Fill or
// Compact call.
func (buf *Buffer) PeekSlice(k int) []byte {
	if k > buf.Len() {
		k = buf.Len()
	}
	return buf.data[buf.b : buf.b+k]
}

// grow doubles the backing array, moving the unconsumed bytes to its start.
// Fill calls it when a request for n more bytes does not fit even after
// compacting, so that a line (or body run) can exceed the original capacity.
func (buf *Buffer) grow() {
	n := len(buf.data) * 2
	if n == 0 {
		n = 4096
	}
	next := make([]byte, n)
	copy(next, buf.data[buf.b:buf.e])
	buf.data = next
	buf.e -= buf.b
	buf.b = 0
}

// Filler reads bytes from the transport. It is the narrow contract the ring
// buffer needs from the byte-stream transport; io.Reader already satisfies
// it for a blocking read, and the non-blocking callers in pkg/conn check for
// net.Error.Timeout()/os.ErrDeadlineExceeded-style would-block conditions
// before calling Fill again.
type Filler interface {
	Read(p []byte) (int, error)
}

// Fill attempts to read at least n more bytes from r into the buffer,
// compacting (and, if n exceeds the remaining capacity after compacting,
// growing) first as necessary. It returns the number of bytes actually
// added, which may be less than n if r returns fewer bytes than requested in
// a single call — callers loop until they have enough. Fill returns
// errors.KindConnectionClosed if r reports io.EOF while data was still
// expected to arrive.
func (buf *Buffer) Fill(r Filler, n int) (int, error) {
	if buf.e+n > len(buf.data) {
		buf.Compact()
	}
	for buf.e+n > len(buf.data) {
		buf.grow()
	}
	read, err := r.Read(buf.data[buf.e:])
	buf.e += read
	if err != nil {
		if err == io.EOF && read == 0 {
			return read, errors.New(errors.KindConnectionClosed, "fill", "transport closed while data was expected")
		}
		if err == io.EOF {
			return read, nil
		}
		return read, err
	}
	if read == 0 {
		return 0, errors.New(errors.KindConnectionClosed, "fill", "transport returned 0 bytes")
	}
	return read, nil
}

// PeekLine searches data[b:e] for a terminating CRLF, refilling from r as
// needed until one is found or the line exceeds max bytes. The returned
// slice includes the CRLF and is only stable until the next Fill/Compact.
func (buf *Buffer) PeekLine(r Filler, max int) ([]byte, error) {
	for {
		if i := indexCRLF(buf.data[buf.b:buf.e]); i >= 0 {
			return buf.data[buf.b : buf.b+i+2], nil
		}
		if buf.Len() > max {
			return nil, errors.New(errors.KindLineTooLong, "peek_line", "line exceeds maximum length")
		}
		if _, err := buf.Fill(r, 1); err != nil {
			return nil, err
		}
	}
}

func indexCRLF(p []byte) int {
	for i := 0; i+1 < len(p); i++ {
		if p[i] == '\r' && p[i+1] == '\n' {
			return i
		}
	}
	return -1
}
