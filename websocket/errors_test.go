package websocket

import (
	"errors"
	"testing"
)

func TestLocalProtocolErrorUnwrap(t *testing.T) {
	err := newLocalError("bad event: %w", ErrWrongState)
	if !errors.Is(err, ErrWrongState) {
		t.Errorf("errors.Is(err, ErrWrongState) = false, want true")
	}
	var lpe *LocalProtocolError
	if !errors.As(err, &lpe) {
		t.Fatal("errors.As failed to find *LocalProtocolError")
	}
	if lpe.Error() == "" {
		t.Error("Error() returned an empty string")
	}
}

func TestRemoteProtocolErrorCarriesEventHint(t *testing.T) {
	hint := RejectConnection{StatusCode: 426}
	err := newRemoteError(hint, "version mismatch")

	if err.EventHint != hint {
		t.Errorf("EventHint = %#v, want %#v", err.EventHint, hint)
	}
	if err.Error() == "" {
		t.Error("Error() returned an empty string")
	}
}

func TestParseFailedCarriesCloseReason(t *testing.T) {
	err := newParseFailed(ErrInvalidOpcode, CloseReasonProtocolError)
	if err.Reason != CloseReasonProtocolError {
		t.Errorf("Reason = %v, want PROTOCOL_ERROR", err.Reason)
	}
	if !errors.Is(err, ErrInvalidOpcode) {
		t.Error("errors.Is(err, ErrInvalidOpcode) = false, want true")
	}
}

func TestParseFailedIsDistinguishableByType(t *testing.T) {
	var err error = newParseFailed(ErrReservedBits, CloseReasonProtocolError)
	var pf *ParseFailed
	if !errors.As(err, &pf) {
		t.Fatal("errors.As failed to find *ParseFailed")
	}

	var lpe *LocalProtocolError
	if errors.As(err, &lpe) {
		t.Error("a *ParseFailed must not also be reachable as *LocalProtocolError")
	}
}
