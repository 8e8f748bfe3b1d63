package websocket

import (
	"encoding/binary"
	"fmt"
)

// Maximum payload sizes (implementation limits), carried over from the
// blocking frame reader this engine replaces.
const (
	// maxControlPayload is the maximum payload length for control frames.
	// RFC 6455 Section 5.5: control frames must have payload <= 125 bytes.
	maxControlPayload = 125

	// defaultMaxFramePayload is the default data-frame payload ceiling a
	// Connection enforces unless configured otherwise.
	defaultMaxFramePayload = 32 * 1024 * 1024

	// Payload length encoding thresholds (RFC 6455 Section 5.2).
	payloadLen7Bit  = 125 // 0-125: stored in the 7-bit field directly
	payloadLen16Bit = 126 // 126: followed by a 16-bit length
	payloadLen64Bit = 127 // 127: followed by a 64-bit length
)

// decodedFrame is one chunk of a parsed wire frame. FrameFinished is
// true once this wire frame's entire payload has been delivered;
// MessageFinished is true only on the last chunk of a wire frame whose
// FIN bit is set (the end of the message the frame belongs to).
type decodedFrame struct {
	Opcode          Opcode
	Payload         []byte
	FrameFinished   bool
	MessageFinished bool
}

// frameHeader is the parsed fixed + extended header of one wire frame.
type frameHeader struct {
	fin        bool
	rsv        RsvBits
	opcode     Opcode
	payloadLen uint64
	masked     bool
	maskKey    [4]byte
}

// FrameDecoder incrementally parses wire frames out of a Buffer fed by
// ReceiveData, invoking each enabled extension's inbound hooks in
// order and enforcing RFC 6455's structural rules (canonical length
// encoding, control-frame constraints, masking-direction rules, RSV
// claiming).
//
// One FrameDecoder instance is shared by every frame of a connection;
// it carries no garbage-collectible queue — ProcessBuffer is called
// again whenever more bytes are fed, and returns nil when the buffer
// doesn't yet hold a complete header or payload chunk.
type FrameDecoder struct {
	client     bool
	extensions []Extension

	maxFramePayload uint64

	header          *frameHeader
	effectiveOpcode Opcode
	masker          *xorMasker
	payloadRequired uint64
	payloadConsumed uint64
}

// NewFrameDecoder returns a FrameDecoder for the given role and
// extension list (only enabled extensions should be passed in).
func NewFrameDecoder(client bool, extensions []Extension) *FrameDecoder {
	return &FrameDecoder{
		client:          client,
		extensions:      extensions,
		maxFramePayload: defaultMaxFramePayload,
	}
}

// ProcessBuffer attempts to parse the next frame chunk from buf. It
// returns (nil, nil) when more bytes are needed, a decodedFrame on
// success, or a *ParseFailed on a structural violation.
func (d *FrameDecoder) ProcessBuffer(buf *Buffer) (*decodedFrame, error) {
	if d.header == nil {
		ok, err := d.parseHeader(buf)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
	}

	if uint64(buf.Unread()) < d.payloadRequired {
		return nil, nil
	}

	remaining := d.header.payloadLen - d.payloadConsumed
	payload := buf.ConsumeAtMost(int(clampInt(remaining)))
	if len(payload) == 0 && d.header.payloadLen > 0 {
		return nil, nil
	}
	buf.Commit()

	d.payloadConsumed += uint64(len(payload))
	finished := d.payloadConsumed == d.header.payloadLen

	payload = append([]byte(nil), payload...)
	d.masker.process(payload)

	for _, ext := range d.extensions {
		transformed, err := ext.FrameInboundPayloadData(payload)
		if err != nil {
			return nil, err
		}
		payload = transformed
	}

	if finished {
		var tail []byte
		for _, ext := range d.extensions {
			extra, err := ext.FrameInboundComplete(d.header.fin)
			if err != nil {
				return nil, err
			}
			tail = append(tail, extra...)
		}
		payload = append(payload, tail...)
	}

	out := &decodedFrame{
		Opcode:          d.effectiveOpcode,
		Payload:         payload,
		FrameFinished:   finished,
		MessageFinished: finished && d.header.fin,
	}

	if finished {
		d.header = nil
		d.masker = nil
	} else {
		d.effectiveOpcode = OpcodeContinuation
	}

	return out, nil
}

func clampInt(v uint64) uint64 {
	const maxInt = uint64(^uint(0) >> 1)
	if v > maxInt {
		return maxInt
	}
	return v
}

// parseHeader attempts to parse the fixed header, extended length, and
// masking key of the next wire frame. It rolls the buffer cursor back
// and returns ok=false when not enough bytes are available yet.
func (d *FrameDecoder) parseHeader(buf *Buffer) (ok bool, err error) {
	data, got := buf.ConsumeExactly(2)
	if !got {
		buf.Rollback()
		return false, nil
	}

	fin := data[0]&0x80 != 0
	rsv := RsvBits{
		Rsv1: data[0]&0x40 != 0,
		Rsv2: data[0]&0x20 != 0,
		Rsv3: data[0]&0x10 != 0,
	}
	opcode := Opcode(data[0] & 0x0F)
	if !isValidOpcode(opcode) {
		return false, newParseFailed(fmt.Errorf("%w: 0x%X", ErrInvalidOpcode, byte(opcode)), CloseReasonProtocolError)
	}
	if opcode.IsControl() && !fin {
		return false, newParseFailed(ErrControlFragmented, CloseReasonProtocolError)
	}

	hasMask := data[1]&0x80 != 0
	payloadLenShort := uint64(data[1] & 0x7F)

	payloadLen, ok, err := d.parseExtendedPayloadLength(buf, opcode, payloadLenShort)
	if err != nil {
		return false, err
	}
	if !ok {
		buf.Rollback()
		return false, nil
	}

	if payloadLen > d.maxFramePayload {
		return false, newParseFailed(fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, payloadLen), CloseReasonMessageTooBig)
	}

	rsvClaimed, err := d.runExtensionHeaderHooks(opcode, rsv, payloadLen)
	if err != nil {
		return false, err
	}
	if (rsv.Rsv1 && !rsvClaimed.Rsv1) || (rsv.Rsv2 && !rsvClaimed.Rsv2) || (rsv.Rsv3 && !rsvClaimed.Rsv3) {
		return false, newParseFailed(ErrReservedBits, CloseReasonProtocolError)
	}

	if hasMask && d.client {
		return false, newParseFailed(ErrMaskUnexpected, CloseReasonProtocolError)
	}
	if !hasMask && !d.client {
		return false, newParseFailed(ErrMaskRequired, CloseReasonProtocolError)
	}

	var maskKey [4]byte
	if hasMask {
		keyBytes, got := buf.ConsumeExactly(4)
		if !got {
			buf.Rollback()
			return false, nil
		}
		copy(maskKey[:], keyBytes)
		d.masker = newXorMasker(maskKey)
	} else {
		d.masker = newXorMasker([4]byte{})
	}

	buf.Commit()

	d.header = &frameHeader{
		fin:        fin,
		rsv:        rsv,
		opcode:     opcode,
		payloadLen: payloadLen,
		masked:     hasMask,
		maskKey:    maskKey,
	}
	d.effectiveOpcode = opcode
	if opcode.IsControl() {
		d.payloadRequired = payloadLen
	} else {
		d.payloadRequired = 0
	}
	d.payloadConsumed = 0
	return true, nil
}

// parseExtendedPayloadLength resolves the 7-bit length field into the
// real payload length, reading 2 or 8 extended bytes as needed and
// rejecting any non-canonical (longer-than-necessary) encoding.
func (d *FrameDecoder) parseExtendedPayloadLength(buf *Buffer, opcode Opcode, payloadLen uint64) (uint64, bool, error) {
	if opcode.IsControl() && payloadLen > maxControlPayload {
		return 0, false, newParseFailed(ErrControlTooLarge, CloseReasonProtocolError)
	}

	switch payloadLen {
	case payloadLen16Bit:
		data, got := buf.ConsumeExactly(2)
		if !got {
			return 0, false, nil
		}
		payloadLen = uint64(binary.BigEndian.Uint16(data))
		if payloadLen <= payloadLen7Bit {
			return 0, false, newParseFailed(
				fmt.Errorf("%w: used 2 bytes when 1 would have sufficed", ErrNonCanonicalLength),
				CloseReasonProtocolError)
		}
	case payloadLen64Bit:
		data, got := buf.ConsumeExactly(8)
		if !got {
			return 0, false, nil
		}
		payloadLen = binary.BigEndian.Uint64(data)
		if payloadLen <= 0xFFFF {
			return 0, false, newParseFailed(
				fmt.Errorf("%w: used 8 bytes when 2 would have sufficed", ErrNonCanonicalLength),
				CloseReasonProtocolError)
		}
		if payloadLen&(1<<63) != 0 {
			return 0, false, newParseFailed(
				fmt.Errorf("%w: 8-byte payload length with non-zero MSB", ErrProtocolError),
				CloseReasonProtocolError)
		}
	}

	return payloadLen, true, nil
}

// runExtensionHeaderHooks invokes every enabled extension's
// FrameInboundHeader in order, returning the union of RSV bits claimed.
func (d *FrameDecoder) runExtensionHeaderHooks(opcode Opcode, rsv RsvBits, payloadLen uint64) (RsvBits, error) {
	var claimed RsvBits
	for _, ext := range d.extensions {
		used, err := ext.FrameInboundHeader(opcode, rsv, payloadLen)
		if err != nil {
			return RsvBits{}, err
		}
		claimed.Rsv1 = claimed.Rsv1 || used.Rsv1
		claimed.Rsv2 = claimed.Rsv2 || used.Rsv2
		claimed.Rsv3 = claimed.Rsv3 || used.Rsv3
	}
	return claimed, nil
}
