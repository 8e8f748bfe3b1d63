package websocket

import (
	"errors"
	"testing"
)

func TestMessageDecoderPassesControlFramesThrough(t *testing.T) {
	m := NewMessageDecoder()
	f := &decodedFrame{Opcode: OpcodePing, Payload: []byte("x"), FrameFinished: true, MessageFinished: true}

	out, err := m.ProcessFrame(f)
	if err != nil {
		t.Fatalf("ProcessFrame error = %v", err)
	}
	if out.Opcode != OpcodePing {
		t.Errorf("Opcode = %v, want PING", out.Opcode)
	}
}

func TestMessageDecoderUnexpectedContinuation(t *testing.T) {
	m := NewMessageDecoder()
	f := &decodedFrame{Opcode: OpcodeContinuation, Payload: nil, FrameFinished: true, MessageFinished: true}

	_, err := m.ProcessFrame(f)
	if !errors.Is(err, ErrUnexpectedContinuation) {
		t.Errorf("error = %v, want ErrUnexpectedContinuation", err)
	}
}

func TestMessageDecoderExpectedContinuation(t *testing.T) {
	m := NewMessageDecoder()
	first := &decodedFrame{Opcode: OpcodeText, Payload: []byte("a"), FrameFinished: true, MessageFinished: false}
	if _, err := m.ProcessFrame(first); err != nil {
		t.Fatalf("first ProcessFrame error = %v", err)
	}

	second := &decodedFrame{Opcode: OpcodeBinary, Payload: []byte("b"), FrameFinished: true, MessageFinished: true}
	_, err := m.ProcessFrame(second)
	if !errors.Is(err, ErrExpectedContinuation) {
		t.Errorf("error = %v, want ErrExpectedContinuation", err)
	}
}

func TestMessageDecoderFragmentedTextReclassifiesOpcode(t *testing.T) {
	m := NewMessageDecoder()
	first := &decodedFrame{Opcode: OpcodeText, Payload: []byte("He"), FrameFinished: true, MessageFinished: false}
	out1, err := m.ProcessFrame(first)
	if err != nil {
		t.Fatalf("first ProcessFrame error = %v", err)
	}
	if out1.Opcode != OpcodeText {
		t.Errorf("first Opcode = %v, want TEXT", out1.Opcode)
	}

	second := &decodedFrame{Opcode: OpcodeContinuation, Payload: []byte("llo"), FrameFinished: true, MessageFinished: true}
	out2, err := m.ProcessFrame(second)
	if err != nil {
		t.Fatalf("second ProcessFrame error = %v", err)
	}
	if out2.Opcode != OpcodeText {
		t.Errorf("second Opcode = %v, want TEXT (reclassified from CONTINUATION)", out2.Opcode)
	}
}

// TestMessageDecoderSplitCodepointAcrossFrames verifies UTF-8 validation
// carries state across fragment boundaries within one message.
func TestMessageDecoderSplitCodepointAcrossFrames(t *testing.T) {
	m := NewMessageDecoder()
	full := []byte("€") // 0xE2 0x82 0xAC

	first := &decodedFrame{Opcode: OpcodeText, Payload: full[:1], FrameFinished: true, MessageFinished: false}
	if _, err := m.ProcessFrame(first); err != nil {
		t.Fatalf("first ProcessFrame error = %v", err)
	}

	second := &decodedFrame{Opcode: OpcodeContinuation, Payload: full[1:], FrameFinished: true, MessageFinished: true}
	if _, err := m.ProcessFrame(second); err != nil {
		t.Fatalf("second ProcessFrame error = %v", err)
	}
}

func TestMessageDecoderInvalidUTF8RejectsMessage(t *testing.T) {
	m := NewMessageDecoder()
	f := &decodedFrame{Opcode: OpcodeText, Payload: []byte{0xFF, 0xFE}, FrameFinished: true, MessageFinished: true}

	_, err := m.ProcessFrame(f)
	if !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("error = %v, want ErrInvalidUTF8", err)
	}
}

// TestMessageDecoderInvalidUTF8ClearsMessageState verifies a rejected
// message doesn't leave validator/opcode state for the next message to
// trip over.
func TestMessageDecoderInvalidUTF8ClearsMessageState(t *testing.T) {
	m := NewMessageDecoder()
	bad := &decodedFrame{Opcode: OpcodeText, Payload: []byte{0xFF}, FrameFinished: true, MessageFinished: true}
	if _, err := m.ProcessFrame(bad); err == nil {
		t.Fatal("expected an error for invalid UTF-8")
	}

	good := &decodedFrame{Opcode: OpcodeBinary, Payload: []byte("ok"), FrameFinished: true, MessageFinished: true}
	out, err := m.ProcessFrame(good)
	if err != nil {
		t.Fatalf("ProcessFrame after a rejected message error = %v", err)
	}
	if out.Opcode != OpcodeBinary {
		t.Errorf("Opcode = %v, want BINARY", out.Opcode)
	}
}

func TestMessageDecoderBinaryMessageSkipsUTF8Validation(t *testing.T) {
	m := NewMessageDecoder()
	f := &decodedFrame{Opcode: OpcodeBinary, Payload: []byte{0xFF, 0xFE}, FrameFinished: true, MessageFinished: true}

	if _, err := m.ProcessFrame(f); err != nil {
		t.Errorf("ProcessFrame error = %v, want nil (binary payloads skip UTF-8 validation)", err)
	}
}
