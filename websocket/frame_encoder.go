package websocket

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// FrameEncoder serializes outbound data and control frames, running
// compressible payloads through the extension pipeline in reverse
// negotiation order, masking client-originated frames with a key drawn
// from Entropy, and tracking the in-progress outbound message so that
// continuation frames get the right opcode.
type FrameEncoder struct {
	client     bool
	extensions []Extension
	// Entropy supplies masking-key randomness; defaults to
	// crypto/rand.Reader (see NewFrameEncoder) but is overridable so
	// tests can supply deterministic bytes.
	Entropy io.Reader

	outboundOpcode Opcode
	hasOutbound    bool
}

// NewFrameEncoder returns a FrameEncoder for the given role and
// (already negotiated, enabled) extension list, using crypto/rand as
// the default entropy source for masking keys.
func NewFrameEncoder(client bool, extensions []Extension) *FrameEncoder {
	return &FrameEncoder{
		client:     client,
		extensions: extensions,
		Entropy:    rand.Reader,
	}
}

// SendData serializes one frame of a TEXT or BINARY message. opcode
// must be OpcodeText or OpcodeBinary on the first frame of a message;
// subsequent frames must pass the same opcode (anything else is a
// LocalProtocolError) and are sent as CONTINUATION. fin marks the last
// frame of the message.
func (e *FrameEncoder) SendData(opcode Opcode, payload []byte, fin bool) ([]byte, error) {
	if !e.hasOutbound {
		if opcode != OpcodeText && opcode != OpcodeBinary {
			return nil, newLocalError("first frame of a message must be TEXT or BINARY, got %s", opcode)
		}
		e.outboundOpcode = opcode
		e.hasOutbound = true
	} else {
		if opcode != e.outboundOpcode {
			return nil, newLocalError("message in progress is %s, got %s", e.outboundOpcode, opcode)
		}
		opcode = OpcodeContinuation
	}

	out, err := e.serialize(opcode, payload, fin)
	if fin {
		e.hasOutbound = false
	}
	return out, err
}

// SendPing serializes a PING control frame.
func (e *FrameEncoder) SendPing(payload []byte) ([]byte, error) {
	if len(payload) > maxControlPayload {
		return nil, newLocalError("%w: ping payload %d bytes", ErrControlTooLarge, len(payload))
	}
	return e.serialize(OpcodePing, payload, true)
}

// SendPong serializes a PONG control frame.
func (e *FrameEncoder) SendPong(payload []byte) ([]byte, error) {
	if len(payload) > maxControlPayload {
		return nil, newLocalError("%w: pong payload %d bytes", ErrControlTooLarge, len(payload))
	}
	return e.serialize(OpcodePong, payload, true)
}

// SendClose serializes a CLOSE control frame from a code/reason pair.
// A zero code with a non-empty reason is a local programming error
// (RFC 6455 requires a code whenever a reason is present).
func (e *FrameEncoder) SendClose(code CloseReason, reason string) ([]byte, error) {
	if code == 0 && reason != "" {
		return nil, newLocalError("close reason given without a code")
	}
	payload := encodeClosePayload(code, reason)
	return e.serialize(OpcodeClose, payload, true)
}

// serialize runs the outbound extension pipeline (in reverse
// negotiation order, per RFC 7692's composition rule) and writes the
// resulting RSV bits, header, optional masking key, and payload.
func (e *FrameEncoder) serialize(opcode Opcode, payload []byte, fin bool) ([]byte, error) {
	rsv := RsvBits{}
	data := payload

	for i := len(e.extensions) - 1; i >= 0; i-- {
		rsv, data = e.extensions[i].FrameOutbound(opcode, rsv, data, fin)
	}

	if opcode.IsControl() && len(data) > maxControlPayload {
		return nil, newLocalError("%w: %d bytes", ErrControlTooLarge, len(data))
	}

	var maskKey [4]byte
	masked := e.client
	if masked {
		if _, err := io.ReadFull(e.Entropy, maskKey[:]); err != nil {
			return nil, fmt.Errorf("websocket: generate masking key: %w", err)
		}
	}

	header := make([]byte, 0, 14)
	var first byte
	if fin {
		first |= 0x80
	}
	if rsv.Rsv1 {
		first |= 0x40
	}
	if rsv.Rsv2 {
		first |= 0x20
	}
	if rsv.Rsv3 {
		first |= 0x10
	}
	first |= byte(opcode) & 0x0F
	header = append(header, first)

	payloadLen := uint64(len(data))
	var second byte
	if masked {
		second |= 0x80
	}

	switch {
	case payloadLen <= payloadLen7Bit:
		second |= byte(payloadLen)
		header = append(header, second)
	case payloadLen <= 0xFFFF:
		second |= payloadLen16Bit
		header = append(header, second)
		ext := make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(payloadLen))
		header = append(header, ext...)
	default:
		second |= payloadLen64Bit
		header = append(header, second)
		ext := make([]byte, 8)
		binary.BigEndian.PutUint64(ext, payloadLen)
		header = append(header, ext...)
	}

	if masked {
		header = append(header, maskKey[:]...)
	}

	out := make([]byte, len(header)+len(data))
	n := copy(out, header)
	copy(out[n:], data)

	if masked {
		applyMask(out[n:], maskKey, 0)
	}

	return out, nil
}
