// Package header provides the line-based status/header codec and the
// minimal case-insensitive header map the engine needs. The map itself is
// deliberately small: spec treats a full-featured case-insensitive map as a
// simple, out-of-scope collaborator, and duplicate-name (multi-value)
// headers are explicitly not supported.
package header

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/kavorite/httpconn/pkg/errors"
	"github.com/kavorite/httpconn/pkg/ringbuf"
)

// entry keeps the original-case key alongside its value so iteration can
// reproduce the caller's casing even though lookups are case-insensitive.
type entry struct {
	key   string
	value string
}

// Map is a mapping keyed by ASCII-lowercased header name. Each entry
// preserves the original-case key used on the most recent insert; on
// duplicate insert, the later key/value replaces the earlier one entirely.
type Map struct {
	order []string // lowercased keys, insertion order
	data  map[string]entry
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{data: make(map[string]entry)}
}

// Set inserts or replaces the value for key.
func (m *Map) Set(key, value string) {
	lk := strings.ToLower(key)
	if _, ok := m.data[lk]; !ok {
		m.order = append(m.order, lk)
	}
	m.data[lk] = entry{key: key, value: value}
}

// Get returns the value for key and whether it was present.
func (m *Map) Get(key string) (string, bool) {
	e, ok := m.data[strings.ToLower(key)]
	return e.value, ok
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.data[strings.ToLower(key)]
	return ok
}

// Del removes key, if present.
func (m *Map) Del(key string) {
	lk := strings.ToLower(key)
	if _, ok := m.data[lk]; !ok {
		return
	}
	delete(m.data, lk)
	for i, k := range m.order {
		if k == lk {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.order) }

// Each calls fn once per entry in insertion order, with the original-case
// key.
func (m *Map) Each(fn func(key, value string)) {
	for _, lk := range m.order {
		e := m.data[lk]
		fn(e.key, e.value)
	}
}

// StatusLine is the parsed first line of a response.
type StatusLine struct {
	Version string
	Status  int
	Reason  string
}

// ReadStatusLine parses "HTTP/1.x SP status SP reason CRLF" from buf,
// refilling from r as needed. Reason may be empty. Version must start with
// "HTTP/1"; status must be a 3-digit integer in [100,999].
func ReadStatusLine(buf *ringbuf.Buffer, r ringbuf.Filler, maxLine int) (StatusLine, error) {
	line, err := buf.PeekLine(r, maxLine)
	if err != nil {
		return StatusLine{}, err
	}
	n := len(line)
	buf.Consume(n)
	text := string(bytes.TrimRight(line, "\r\n"))

	parts := strings.SplitN(text, " ", 3)
	if len(parts) < 2 {
		return StatusLine{}, errors.New(errors.KindInvalidResponse, "read_status", "malformed status line")
	}
	version := parts[0]
	if !strings.HasPrefix(version, "HTTP/1") {
		return StatusLine{}, errors.New(errors.KindInvalidResponse, "read_status", fmt.Sprintf("unsupported HTTP version %q", version))
	}
	status, convErr := strconv.Atoi(strings.TrimSpace(parts[1]))
	if convErr != nil || status < 100 || status > 999 {
		return StatusLine{}, errors.New(errors.KindInvalidResponse, "read_status", fmt.Sprintf("invalid status %q", parts[1]))
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	return StatusLine{Version: version, Status: status, Reason: reason}, nil
}

// ReadHeaderBlock reads header lines until an empty line, honoring obsolete
// line-folding continuations (RFC 7230 §3.2.4), and returns them as a Map.
// It is a non-resumable convenience wrapper around Reader for blocking
// callers (tests, simple scripts) that don't need to suspend mid-block.
func ReadHeaderBlock(buf *ringbuf.Buffer, r ringbuf.Filler, maxLine int) (*Map, error) {
	hr := NewReader()
	for !hr.Done {
		if err := hr.Step(buf, r, maxLine); err != nil {
			return nil, err
		}
	}
	return hr.Map(), nil
}

// WriteHeaderBlock serializes a request line followed by headers and the
// terminating CRLF in wire order.
func WriteHeaderBlock(w *bytes.Buffer, requestLine string, m *Map) {
	w.WriteString(requestLine)
	w.WriteString("\r\n")
	m.Each(func(key, value string) {
		w.WriteString(key)
		w.WriteString(": ")
		w.WriteString(value)
		w.WriteString("\r\n")
	})
	w.WriteString("\r\n")
}

// Reader incrementally parses a header block (or chunked-body trailer,
// which has the same grammar) into a Map, line by line. Unlike
// ReadHeaderBlock, a Reader can be safely retried after a transport
// would-block error without losing already-parsed lines: only completed
// lines are consumed from buf, and partial progress lives in the Reader
// itself rather than a local variable on the call stack.
type Reader struct {
	m       *Map
	lastKey string
	Done    bool
}

// NewReader returns a Reader that accumulates into a fresh Map.
func NewReader() *Reader {
	return &Reader{m: NewMap()}
}

// NewReaderInto returns a Reader that accumulates into an existing Map,
// used for chunked-response trailers which are merged into the response's
// headers.
func NewReaderInto(m *Map) *Reader {
	return &Reader{m: m}
}

// Map returns the headers parsed so far.
func (hr *Reader) Map() *Map { return hr.m }

// Step parses as many complete lines as are currently available, stopping
// at the terminating blank line (Done becomes true) or when the Filler
// would block (the error is returned unchanged so the caller can wait and
// call Step again).
func (hr *Reader) Step(buf *ringbuf.Buffer, r ringbuf.Filler, maxLine int) error {
	for {
		line, err := buf.PeekLine(r, maxLine)
		if err != nil {
			return err
		}
		n := len(line)
		buf.Consume(n)
		if n == 2 {
			hr.Done = true
			return nil
		}
		text := string(bytes.TrimRight(line, "\r\n"))

		if (strings.HasPrefix(text, " ") || strings.HasPrefix(text, "\t")) && hr.lastKey != "" {
			if v, ok := hr.m.Get(hr.lastKey); ok {
				hr.m.Set(hr.lastKey, v+" "+strings.TrimSpace(text))
			}
			continue
		}

		idx := strings.IndexByte(text, ':')
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(text[:idx])
		value := strings.TrimSpace(text[idx+1:])
		hr.m.Set(key, value)
		hr.lastKey = key
	}
}
