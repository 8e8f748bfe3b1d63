package websocket

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameDecoderUnmaskedTextFrame(t *testing.T) {
	d := NewFrameDecoder(true, nil) // client decoder: server frames arrive unmasked
	buf := NewBuffer([]byte{
		0x81, 0x05, 'H', 'e', 'l', 'l', 'o',
	})

	f, err := d.ProcessBuffer(buf)
	if err != nil {
		t.Fatalf("ProcessBuffer error = %v", err)
	}
	if f == nil {
		t.Fatal("ProcessBuffer returned nil frame, want a decoded frame")
	}
	if f.Opcode != OpcodeText {
		t.Errorf("Opcode = %v, want TEXT", f.Opcode)
	}
	if !bytes.Equal(f.Payload, []byte("Hello")) {
		t.Errorf("Payload = %q, want %q", f.Payload, "Hello")
	}
	if !f.FrameFinished || !f.MessageFinished {
		t.Error("expected FrameFinished and MessageFinished both true for FIN=1 single frame")
	}
}

func TestFrameDecoderMaskedFrameFromClient(t *testing.T) {
	d := NewFrameDecoder(false, nil) // server decoder: client frames must be masked
	key := [4]byte{0x12, 0x34, 0x56, 0x78}
	payload := []byte("Hello")
	masked := append([]byte(nil), payload...)
	applyMask(masked, key, 0)

	data := []byte{0x81, 0x85, key[0], key[1], key[2], key[3]}
	data = append(data, masked...)

	f, err := d.ProcessBuffer(NewBuffer(data))
	if err != nil {
		t.Fatalf("ProcessBuffer error = %v", err)
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Errorf("unmasked Payload = %q, want %q", f.Payload, payload)
	}
}

// TestFrameDecoderServerRejectsUnmaskedFrame verifies RFC 6455 Section
// 5.3: a server must reject an unmasked frame from a client.
func TestFrameDecoderServerRejectsUnmaskedFrame(t *testing.T) {
	d := NewFrameDecoder(false, nil)
	buf := NewBuffer([]byte{0x81, 0x05, 'H', 'e', 'l', 'l', 'o'})

	_, err := d.ProcessBuffer(buf)
	if !errors.Is(err, ErrMaskRequired) {
		t.Errorf("error = %v, want ErrMaskRequired", err)
	}
}

// TestFrameDecoderClientRejectsMaskedFrame verifies RFC 6455 Section
// 5.3: a client must reject a masked frame from the server.
func TestFrameDecoderClientRejectsMaskedFrame(t *testing.T) {
	d := NewFrameDecoder(true, nil)
	data := []byte{0x81, 0x85, 1, 2, 3, 4, 'H' ^ 1, 'e' ^ 2, 'l' ^ 3, 'l' ^ 4, 'o' ^ 1}

	_, err := d.ProcessBuffer(NewBuffer(data))
	if !errors.Is(err, ErrMaskUnexpected) {
		t.Errorf("error = %v, want ErrMaskUnexpected", err)
	}
}

func TestFrameDecoderIncompleteHeaderWaitsForMoreBytes(t *testing.T) {
	d := NewFrameDecoder(true, nil)
	buf := NewBuffer([]byte{0x81}) // only the first header byte

	f, err := d.ProcessBuffer(buf)
	if err != nil {
		t.Fatalf("ProcessBuffer error = %v", err)
	}
	if f != nil {
		t.Error("expected nil frame for an incomplete header")
	}
}

func TestFrameDecoderPayloadArrivesInChunks(t *testing.T) {
	d := NewFrameDecoder(true, nil)
	buf := NewBuffer([]byte{0x81, 0x05, 'H', 'e'})

	f, err := d.ProcessBuffer(buf)
	if err != nil {
		t.Fatalf("ProcessBuffer error = %v", err)
	}
	if f == nil || string(f.Payload) != "He" || f.FrameFinished {
		t.Fatalf("first chunk = %+v, want Payload %q with FrameFinished=false", f, "He")
	}

	buf.Feed([]byte{'l', 'l', 'o'})
	f, err = d.ProcessBuffer(buf)
	if err != nil {
		t.Fatalf("ProcessBuffer error = %v", err)
	}
	if f == nil || string(f.Payload) != "llo" || !f.FrameFinished || !f.MessageFinished {
		t.Fatalf("second chunk = %+v, want Payload %q with FrameFinished and MessageFinished true", f, "llo")
	}
}

// TestFrameDecoderNonCanonicalLength16Bit verifies RFC 6455 Section 5.2
// canonical-encoding enforcement: a length of 124 must not be encoded
// using the 2-byte extended length form (Scenario F).
func TestFrameDecoderNonCanonicalLength16Bit(t *testing.T) {
	d := NewFrameDecoder(true, nil)
	data := []byte{0x81, 0x7E, 0x00, 0x7C} // length=124 via 16-bit form
	data = append(data, make([]byte, 124)...)

	_, err := d.ProcessBuffer(NewBuffer(data))
	var pf *ParseFailed
	if !errors.As(err, &pf) {
		t.Fatalf("error = %v, want *ParseFailed", err)
	}
	if !errors.Is(err, ErrNonCanonicalLength) {
		t.Errorf("error = %v, want ErrNonCanonicalLength", err)
	}
	if pf.Reason != CloseReasonProtocolError {
		t.Errorf("Reason = %v, want PROTOCOL_ERROR", pf.Reason)
	}
}

func TestFrameDecoderNonCanonicalLength64Bit(t *testing.T) {
	d := NewFrameDecoder(true, nil)
	data := []byte{0x81, 0x7F, 0, 0, 0, 0, 0, 0, 0xFF, 0xFF} // 65535 via 64-bit form
	data = append(data, make([]byte, 65535)...)

	_, err := d.ProcessBuffer(NewBuffer(data))
	if !errors.Is(err, ErrNonCanonicalLength) {
		t.Errorf("error = %v, want ErrNonCanonicalLength", err)
	}
}

func TestFrameDecoder16BitLength(t *testing.T) {
	d := NewFrameDecoder(true, nil)
	payload := bytes.Repeat([]byte{'x'}, 300)
	data := []byte{0x82, 0x7E, 0x01, 0x2C} // binary, length=300
	data = append(data, payload...)

	f, err := d.ProcessBuffer(NewBuffer(data))
	if err != nil {
		t.Fatalf("ProcessBuffer error = %v", err)
	}
	if len(f.Payload) != 300 {
		t.Errorf("len(Payload) = %d, want 300", len(f.Payload))
	}
}

// TestFrameDecoderControlFrameMustNotFragment verifies RFC 6455 Section
// 5.5: control frames with FIN=0 are a protocol error.
func TestFrameDecoderControlFrameMustNotFragment(t *testing.T) {
	d := NewFrameDecoder(true, nil)
	data := []byte{0x09, 0x00} // FIN=0, opcode=PING, empty payload

	_, err := d.ProcessBuffer(NewBuffer(data))
	if !errors.Is(err, ErrControlFragmented) {
		t.Errorf("error = %v, want ErrControlFragmented", err)
	}
}

// TestFrameDecoderControlFrameTooLarge verifies RFC 6455 Section 5.5:
// control frame payloads longer than 125 bytes are rejected.
func TestFrameDecoderControlFrameTooLarge(t *testing.T) {
	d := NewFrameDecoder(true, nil)
	data := []byte{0x89, 0x7E, 0x00, 0x7E} // PING, 16-bit length=126

	_, err := d.ProcessBuffer(NewBuffer(data))
	if !errors.Is(err, ErrControlTooLarge) {
		t.Errorf("error = %v, want ErrControlTooLarge", err)
	}
}

func TestFrameDecoderInvalidOpcode(t *testing.T) {
	d := NewFrameDecoder(true, nil)
	data := []byte{0x83, 0x00} // reserved opcode 0x3

	_, err := d.ProcessBuffer(NewBuffer(data))
	if !errors.Is(err, ErrInvalidOpcode) {
		t.Errorf("error = %v, want ErrInvalidOpcode", err)
	}
}

// TestFrameDecoderRejectsUnclaimedRSVBit verifies RFC 6455 Section 5.2:
// an RSV bit set with no extension claiming it is a protocol error.
func TestFrameDecoderRejectsUnclaimedRSVBit(t *testing.T) {
	d := NewFrameDecoder(true, nil)
	data := []byte{0xC1, 0x00} // FIN=1, RSV1=1, opcode=TEXT, no extensions

	_, err := d.ProcessBuffer(NewBuffer(data))
	if !errors.Is(err, ErrReservedBits) {
		t.Errorf("error = %v, want ErrReservedBits", err)
	}
}

func TestFrameDecoderFragmentedMessage(t *testing.T) {
	d := NewFrameDecoder(true, nil)

	first, err := d.ProcessBuffer(NewBuffer([]byte{0x01, 0x03, 'a', 'b', 'c'})) // FIN=0 TEXT
	if err != nil {
		t.Fatalf("first frame error = %v", err)
	}
	if first.FrameFinished != true || first.MessageFinished {
		t.Errorf("first frame finished=%v messageFinished=%v, want true,false", first.FrameFinished, first.MessageFinished)
	}
	if first.Opcode != OpcodeText {
		t.Errorf("first frame opcode = %v, want TEXT", first.Opcode)
	}

	last, err := d.ProcessBuffer(NewBuffer([]byte{0x80, 0x03, 'd', 'e', 'f'})) // FIN=1 CONTINUATION
	if err != nil {
		t.Fatalf("last frame error = %v", err)
	}
	if !last.MessageFinished {
		t.Error("expected MessageFinished=true on the final fragment")
	}
	if last.Opcode != OpcodeContinuation {
		t.Errorf("last frame opcode = %v, want CONTINUATION", last.Opcode)
	}
}
