package errors

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestErrorStringIncludesKindOpMessageAndCause(t *testing.T) {
	cause := fmt.Errorf("broken pipe")
	err := Wrap(KindConnectionClosed, "write", "transport write failed", cause)
	got := err.Error()
	want := "[connection_closed] write: transport write failed: broken pipe"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestErrorIsMatchesOnKindOnly(t *testing.T) {
	a := New(KindStateError, "write", "no active body")
	b := New(KindStateError, "read", "unrelated op")
	if !a.Is(b) {
		t.Fatalf("expected Is to match same Kind regardless of Op/Message")
	}
	c := New(KindInvalidArgument, "write", "no active body")
	if a.Is(c) {
		t.Fatalf("expected Is to reject different Kind")
	}
}

func TestPoisonsExemptsCallerMisuseKinds(t *testing.T) {
	exempt := []Kind{KindStateError, KindInvalidArgument, KindExcessBodyData}
	for _, k := range exempt {
		if New(k, "op", "").Poisons() {
			t.Fatalf("expected Kind %q not to poison", k)
		}
	}
	poisoning := []Kind{
		KindInvalidResponse, KindUnsupportedResponse, KindLineTooLong,
		KindConnectionClosed, KindConnectionTimedOut,
		KindHostnameNotResolvable, KindDNSUnavailable,
	}
	for _, k := range poisoning {
		if !New(k, "op", "").Poisons() {
			t.Fatalf("expected Kind %q to poison", k)
		}
	}
}

func TestGetKindUnwrapsWrappedErrors(t *testing.T) {
	err := Wrap(KindInvalidResponse, "read_status", "bad status", fmt.Errorf("boom"))
	wrapped := fmt.Errorf("context: %w", err)
	if GetKind(wrapped) != KindInvalidResponse {
		t.Fatalf("expected GetKind to see through fmt.Errorf wrapping")
	}
	if GetKind(fmt.Errorf("plain")) != "" {
		t.Fatalf("expected empty Kind for a non-structured error")
	}
}

func TestIsTimeoutRecognizesOwnKindNetErrorAndContext(t *testing.T) {
	if !IsTimeout(NewTimeout("read", time.Second)) {
		t.Fatalf("expected own KindConnectionTimedOut to report timeout")
	}
	if !IsTimeout(context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded to report timeout")
	}
	netErr := &net.DNSError{IsTimeout: true}
	if !IsTimeout(netErr) {
		t.Fatalf("expected a timing-out net.Error to report timeout")
	}
	if IsTimeout(fmt.Errorf("unrelated")) {
		t.Fatalf("expected unrelated error not to report timeout")
	}
}

func TestIsTemporaryClassifiesNetworkConditions(t *testing.T) {
	if IsTemporary(nil) {
		t.Fatalf("expected nil not to be temporary")
	}
	if !IsTemporary(&net.DNSError{IsNotFound: true}) {
		t.Fatalf("expected a not-found DNS error to be temporary")
	}
	if IsTemporary(fmt.Errorf("plain application error")) {
		t.Fatalf("expected a plain error not to be temporary")
	}
}
