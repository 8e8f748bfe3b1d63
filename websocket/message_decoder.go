package websocket

// MessageDecoder sits on top of a FrameDecoder and enforces
// message-level sequencing: a message is a non-control, non-
// CONTINUATION frame followed by zero or more CONTINUATION frames,
// terminated by the frame whose FIN bit is set. Control frames pass
// through untouched and never affect the in-progress message.
//
// For TEXT messages, MessageDecoder threads payload chunks through an
// incremental UTF-8 validator so that a codepoint split across two
// wire frames (or two ProcessBuffer calls for the same frame) is
// accepted, while a codepoint left incomplete at MessageFinished is
// rejected.
type MessageDecoder struct {
	opcode    Opcode
	hasOpcode bool
	validator *utf8Validator
}

// NewMessageDecoder returns a MessageDecoder with no message in progress.
func NewMessageDecoder() *MessageDecoder {
	return &MessageDecoder{}
}

// ProcessFrame validates and reclassifies one decodedFrame in the
// context of the in-progress message, or returns a *ParseFailed error
// if frame sequencing or UTF-8 is violated.
func (m *MessageDecoder) ProcessFrame(f *decodedFrame) (*decodedFrame, error) {
	if f.Opcode.IsControl() {
		return f, nil
	}

	if !m.hasOpcode {
		if f.Opcode == OpcodeContinuation {
			return nil, newParseFailed(ErrUnexpectedContinuation, CloseReasonProtocolError)
		}
		m.opcode = f.Opcode
		m.hasOpcode = true
	} else if f.Opcode != OpcodeContinuation {
		return nil, newParseFailed(ErrExpectedContinuation, CloseReasonProtocolError)
	}

	if m.opcode == OpcodeText {
		if m.validator == nil {
			m.validator = &utf8Validator{}
		}
		final := f.FrameFinished && f.MessageFinished
		if !m.validator.Validate(f.Payload, final) {
			m.clearMessage()
			return nil, newParseFailed(ErrInvalidUTF8, CloseReasonInvalidFramePayloadData)
		}
	}

	out := &decodedFrame{
		Opcode:          m.opcode,
		Payload:         f.Payload,
		FrameFinished:   f.FrameFinished,
		MessageFinished: f.MessageFinished,
	}

	if f.MessageFinished {
		m.clearMessage()
	}

	return out, nil
}

func (m *MessageDecoder) clearMessage() {
	m.hasOpcode = false
	m.validator = nil
}
