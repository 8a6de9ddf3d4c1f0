package framing

import (
	"bytes"
	"io"
	"testing"

	"github.com/kavorite/httpconn/pkg/errors"
	"github.com/kavorite/httpconn/pkg/header"
	"github.com/kavorite/httpconn/pkg/ringbuf"
)

// chunkFiller feeds Read calls from a fixed slice n bytes at a time, so
// decoders can be exercised against arbitrary wire-split boundaries
// regardless of the ring buffer's own capacity.
type chunkFiller struct {
	data      []byte
	chunkSize int
}

func (f *chunkFiller) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, io.EOF
	}
	n := f.chunkSize
	if n <= 0 || n > len(p) {
		n = len(p)
	}
	if n > len(f.data) {
		n = len(f.data)
	}
	copy(p, f.data[:n])
	f.data = f.data[n:]
	return n, nil
}

func drain(t *testing.T, d Decoder, r ringbuf.Filler, buf *ringbuf.Buffer) []byte {
	t.Helper()
	var out []byte
	p := make([]byte, 7) // deliberately awkward read size
	for {
		n, err := d.Read(r, buf, p)
		if err != nil {
			t.Fatalf("decoder read: %v", err)
		}
		if n == 0 {
			return out
		}
		out = append(out, p[:n]...)
	}
}

func TestIdentityReadsExactlyRemainingBytes(t *testing.T) {
	body := []byte("the quick brown fox jumps over the lazy dog")
	for chunkSize := 1; chunkSize <= len(body); chunkSize++ {
		for bufCap := 63; bufCap <= 513; bufCap += 90 {
			buf := ringbuf.New(bufCap)
			f := &chunkFiller{data: append([]byte(nil), body...), chunkSize: chunkSize}
			d := NewIdentity(int64(len(body)))
			got := drain(t, d, f, buf)
			if !bytes.Equal(got, body) {
				t.Fatalf("chunkSize=%d bufCap=%d: got %q, want %q", chunkSize, bufCap, got, body)
			}
		}
	}
}

func TestIdentityZeroLengthIsImmediatelyDone(t *testing.T) {
	buf := ringbuf.New(64)
	d := NewIdentity(0)
	n, err := d.Read(&chunkFiller{}, buf, make([]byte, 4))
	if err != nil || n != 0 {
		t.Fatalf("got n=%d err=%v, want 0, nil", n, err)
	}
}

func chunkedWire(parts ...string) []byte {
	var out bytes.Buffer
	for _, p := range parts {
		out.WriteString(itoaHex(len(p)))
		out.WriteString("\r\n")
		out.WriteString(p)
		out.WriteString("\r\n")
	}
	out.WriteString("0\r\n\r\n")
	return out.Bytes()
}

func itoaHex(n int) string {
	if n == 0 {
		return "0"
	}
	const digits = "0123456789abcdef"
	var buf [16]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = digits[n%16]
		n /= 16
	}
	return string(buf[i:])
}

func TestChunkedDecodesMultipleChunksAcrossWireSplits(t *testing.T) {
	wire := chunkedWire("hello, ", "world", "!")
	want := "hello, world!"
	for chunkSize := 1; chunkSize <= len(wire); chunkSize++ {
		for bufCap := 63; bufCap <= 513; bufCap += 90 {
			buf := ringbuf.New(bufCap)
			f := &chunkFiller{data: append([]byte(nil), wire...), chunkSize: chunkSize}
			d := NewChunked()
			got := drain(t, d, f, buf)
			if string(got) != want {
				t.Fatalf("chunkSize=%d bufCap=%d: got %q, want %q", chunkSize, bufCap, got, want)
			}
		}
	}
}

func TestChunkedMergesTrailerIntoGivenMap(t *testing.T) {
	var wire bytes.Buffer
	wire.WriteString("5\r\nhello\r\n0\r\nX-Trailer: value\r\n\r\n")
	buf := ringbuf.New(64)
	f := &chunkFiller{data: wire.Bytes(), chunkSize: 3}
	trailerMap := header.NewMap()
	d := NewChunked()
	d.TrailerInto = trailerMap
	got := drain(t, d, f, buf)
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
	if v, ok := trailerMap.Get("X-Trailer"); !ok || v != "value" {
		t.Fatalf("got trailer X-Trailer=%q ok=%v", v, ok)
	}
}

func TestChunkedRejectsInvalidSizeDigit(t *testing.T) {
	buf := ringbuf.New(64)
	f := &chunkFiller{data: []byte("zz\r\nxx\r\n0\r\n\r\n"), chunkSize: 4}
	d := NewChunked()
	_, err := d.Read(f, buf, make([]byte, 4))
	if errors.GetKind(err) != errors.KindInvalidResponse {
		t.Fatalf("expected KindInvalidResponse, got %v", err)
	}
}

func TestChunkedRejectsMissingDataCRLF(t *testing.T) {
	buf := ringbuf.New(64)
	f := &chunkFiller{data: []byte("5\r\nhelloXX0\r\n\r\n"), chunkSize: 4}
	d := NewChunked()
	p := make([]byte, 16)
	// First Read call should deliver "hello"; the next one hits the bad CRLF.
	if _, err := d.Read(f, buf, p); err != nil {
		t.Fatalf("unexpected error on first read: %v", err)
	}
	_, err := d.Read(f, buf, p)
	if errors.GetKind(err) != errors.KindInvalidResponse {
		t.Fatalf("expected KindInvalidResponse, got %v", err)
	}
}

func TestRawAlwaysFailsNormalRead(t *testing.T) {
	d := &Raw{Reason: "no Content-Length and no chunked Transfer-Encoding"}
	_, err := d.Read(&chunkFiller{}, ringbuf.New(64), make([]byte, 4))
	if errors.GetKind(err) != errors.KindUnsupportedResponse {
		t.Fatalf("expected KindUnsupportedResponse, got %v", err)
	}
}

func TestReadRawCopiesUntilTransportEOF(t *testing.T) {
	body := []byte("raw bytes with no framing at all")
	for chunkSize := 1; chunkSize <= len(body); chunkSize++ {
		buf := ringbuf.New(64)
		f := &chunkFiller{data: append([]byte(nil), body...), chunkSize: chunkSize}
		var out []byte
		p := make([]byte, 5)
		for {
			n, err := ReadRaw(f, buf, p)
			if err != nil {
				t.Fatalf("chunkSize=%d: %v", chunkSize, err)
			}
			if n == 0 {
				break
			}
			out = append(out, p[:n]...)
		}
		if !bytes.Equal(out, body) {
			t.Fatalf("chunkSize=%d: got %q, want %q", chunkSize, out, body)
		}
	}
}

func TestUntilCloseDecodesLikeReadRawAndTerminatesOnEOF(t *testing.T) {
	body := []byte("streamed body with no Content-Length, terminated by the peer closing")
	for chunkSize := 1; chunkSize <= len(body); chunkSize += 3 {
		buf := ringbuf.New(128)
		f := &chunkFiller{data: append([]byte(nil), body...), chunkSize: chunkSize}
		d := &UntilClose{}
		got := drain(t, d, f, buf)
		if !bytes.Equal(got, body) {
			t.Fatalf("chunkSize=%d: got %q, want %q", chunkSize, got, body)
		}
	}
}
