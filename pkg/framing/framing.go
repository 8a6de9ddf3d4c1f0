// Package framing provides the response body decoders: identity
// (Content-Length-prefixed), chunked, and a raw pass-through escape hatch
// for responses whose framing the engine cannot otherwise determine.
//
// Every decoder is built to be safely retried after a transport
// would-block error: a Read call that cannot make progress without more
// transport data consumes nothing and mutates no decoder-owned state until
// it has a complete unit (a full chunk-size line, a full data run), so the
// caller's next Read call picks up exactly where the last one left off.
package framing

import (
	"github.com/kavorite/httpconn/pkg/errors"
	"github.com/kavorite/httpconn/pkg/header"
	"github.com/kavorite/httpconn/pkg/ringbuf"
)

// Decoder is the common shape of a response-body framing codec.
type Decoder interface {
	// Read copies up to len(p) bytes of decoded body into p, refilling buf
	// from r as needed. It returns (0, nil) on body EOF and on every call
	// after it; an empty p also yields (0, nil) without reaching EOF.
	Read(r ringbuf.Filler, buf *ringbuf.Buffer, p []byte) (int, error)
}

// Identity decodes a length-prefixed body: exactly Remaining bytes follow,
// then EOF.
type Identity struct {
	Remaining int64
}

// NewIdentity returns an Identity decoder configured for a body of length n.
func NewIdentity(n int64) *Identity {
	return &Identity{Remaining: n}
}

func (d *Identity) Read(r ringbuf.Filler, buf *ringbuf.Buffer, p []byte) (int, error) {
	if d.Remaining == 0 {
		return 0, nil
	}
	want := int64(len(p))
	if want > d.Remaining {
		want = d.Remaining
	}
	if want == 0 {
		return 0, nil
	}
	for int64(buf.Len()) < want {
		if _, err := buf.Fill(r, int(want)-buf.Len()); err != nil {
			return 0, err
		}
	}
	n := copy(p[:want], buf.PeekSlice(int(want)))
	buf.Consume(n)
	d.Remaining -= int64(n)
	return n, nil
}

// chunkPhase tracks where a Chunked decoder is within the current chunk.
type chunkPhase int

const (
	phaseSize chunkPhase = iota
	phaseData
	phaseDataCRLF
	phaseTrailer
	phaseDone
)

// Chunked decodes chunked transfer-coding per RFC 7230 §4.1: a sequence of
// `size[;ext] CRLF payload CRLF` chunks terminated by a zero-size chunk and
// an optional trailer header block.
type Chunked struct {
	phase     chunkPhase
	remaining int64
	trailer   *header.Reader
	// TrailerInto, if set, receives trailer header fields as they are
	// parsed (merged into the response's own header map).
	TrailerInto *header.Map
}

// NewChunked returns a Chunked decoder positioned at the start of the first
// chunk.
func NewChunked() *Chunked {
	return &Chunked{phase: phaseSize}
}

func (d *Chunked) Read(r ringbuf.Filler, buf *ringbuf.Buffer, p []byte) (int, error) {
	for {
		switch d.phase {
		case phaseDone:
			return 0, nil

		case phaseSize:
			line, err := buf.PeekLine(r, maxChunkLine)
			if err != nil {
				return 0, err
			}
			buf.Consume(len(line))
			size, perr := parseChunkSize(line)
			if perr != nil {
				return 0, perr
			}
			d.remaining = size
			if size == 0 {
				d.phase = phaseTrailer
				if d.trailer == nil {
					m := d.TrailerInto
					if m == nil {
						m = header.NewMap()
					}
					d.trailer = header.NewReaderInto(m)
				}
				continue
			}
			d.phase = phaseData

		case phaseData:
			if len(p) == 0 {
				return 0, nil
			}
			want := int64(len(p))
			if want > d.remaining {
				want = d.remaining
			}
			for int64(buf.Len()) < want {
				if _, err := buf.Fill(r, int(want)-buf.Len()); err != nil {
					return 0, err
				}
			}
			n := copy(p[:want], buf.PeekSlice(int(want)))
			buf.Consume(n)
			d.remaining -= int64(n)
			if d.remaining == 0 {
				d.phase = phaseDataCRLF
			}
			return n, nil

		case phaseDataCRLF:
			for buf.Len() < 2 {
				if _, err := buf.Fill(r, 2-buf.Len()); err != nil {
					return 0, err
				}
			}
			crlf := buf.PeekSlice(2)
			if crlf[0] != '\r' || crlf[1] != '\n' {
				return 0, errors.New(errors.KindInvalidResponse, "read_chunked", "missing chunk CRLF")
			}
			buf.Consume(2)
			d.phase = phaseSize

		case phaseTrailer:
			if err := d.trailer.Step(buf, r, maxChunkLine); err != nil {
				return 0, err
			}
			if d.trailer.Done {
				d.phase = phaseDone
				return 0, nil
			}
		}
	}
}

const maxChunkLine = 64 * 1024

func parseChunkSize(line []byte) (int64, error) {
	end := len(line)
	for end > 0 && (line[end-1] == '\r' || line[end-1] == '\n') {
		end--
	}
	text := line[:end]
	if i := indexByte(text, ';'); i >= 0 {
		text = text[:i]
	}
	if len(text) == 0 {
		return 0, errors.New(errors.KindInvalidResponse, "read_chunked", "empty chunk size")
	}
	var size int64
	for _, c := range text {
		var v int64
		switch {
		case c >= '0' && c <= '9':
			v = int64(c - '0')
		case c >= 'a' && c <= 'f':
			v = int64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v = int64(c-'A') + 10
		default:
			return 0, errors.New(errors.KindInvalidResponse, "read_chunked", "invalid chunk size digit")
		}
		size = size*16 + v
	}
	return size, nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// UntilClose decodes a body with no explicit length by reading until the
// transport itself reaches EOF — valid only when the response carries
// Connection: close, so the connection closing is itself the terminator.
type UntilClose struct{}

func (d *UntilClose) Read(r ringbuf.Filler, buf *ringbuf.Buffer, p []byte) (int, error) {
	return ReadRaw(r, buf, p)
}

// Raw is the escape hatch for responses whose framing the engine cannot
// determine (no Content-Length, no chunked Transfer-Encoding). Normal Read
// always fails with UnsupportedResponse; ReadRaw lets a caller drain the
// raw transport bytes until the peer closes.
type Raw struct {
	Reason string
}

func (d *Raw) Read(r ringbuf.Filler, buf *ringbuf.Buffer, p []byte) (int, error) {
	return 0, errors.New(errors.KindUnsupportedResponse, "read", d.Reason)
}

// ReadRaw copies up to len(p) raw bytes from buf/r without any framing
// applied, returning (0, nil) only once the transport itself reaches EOF.
func ReadRaw(r ringbuf.Filler, buf *ringbuf.Buffer, p []byte) (int, error) {
	if buf.Len() == 0 {
		n, err := buf.Fill(r, len(p))
		if err != nil {
			if errors.GetKind(err) == errors.KindConnectionClosed {
				return 0, nil
			}
			return 0, err
		}
		_ = n
	}
	want := len(p)
	if want > buf.Len() {
		want = buf.Len()
	}
	n := copy(p[:want], buf.PeekSlice(want))
	buf.Consume(n)
	return n, nil
}
