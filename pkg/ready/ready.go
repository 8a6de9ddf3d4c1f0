// Package ready provides the readiness tokens suspendable operations yield
// when they would otherwise block on the transport, and a Poll helper an
// external scheduler (or the engine's own blocking wrapper) can use to wait
// on them.
package ready

import (
	"time"

	"golang.org/x/sys/unix"
)

// EventSet is a bitmask of the I/O readiness events a NeedsIO token waits
// for.
type EventSet uint8

const (
	// Readable means the operation is waiting for the transport to have
	// data available to read.
	Readable EventSet = 1 << iota
	// Writable means the operation is waiting for the transport to accept
	// more written bytes.
	Writable
)

func (e EventSet) has(bit EventSet) bool { return e&bit != 0 }

// NeedsIO is the token a Resumable yields instead of blocking. A caller
// integrating the engine into a host scheduler registers FD for the given
// Events and calls Resume again once one of them fires; a caller that just
// wants synchronous behavior calls Poll.
type NeedsIO struct {
	FD     uintptr
	Events EventSet
}

// Poll blocks until FD becomes ready for one of Events, or timeout elapses
// (timeout <= 0 means wait forever). It returns whether the operation may
// now be resumed.
func (n NeedsIO) Poll(timeout time.Duration) (bool, error) {
	var events int16
	if n.Events.has(Readable) {
		events |= unix.POLLIN
	}
	if n.Events.has(Writable) {
		events |= unix.POLLOUT
	}

	ms := -1
	if timeout > 0 {
		ms = int(timeout / time.Millisecond)
		if ms == 0 {
			ms = 1
		}
	}

	fds := []unix.PollFd{{Fd: int32(n.FD), Events: events}}
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
}
