// Package constants defines magic numbers and default values shared across
// the httpconn engine.
package constants

import "time"

// Connection timeouts.
const (
	DefaultConnTimeout = 10 * time.Second
	DefaultReadTimeout = 30 * time.Second
)

// DefaultMaxLine is the maximum length, in bytes, of a status line, header
// line, chunk-size line, or trailer line (spec §4.1, §6).
const DefaultMaxLine = 64 * 1024

// MaxContentLength guards against pathological Content-Length values.
const MaxContentLength = 1024 * 1024 * 1024 * 1024 // 1TB

// DefaultRingBufferSize is the default capacity of a connection's buffered
// reader.
const DefaultRingBufferSize = 16 * 1024
