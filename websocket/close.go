package websocket

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// CloseReason is the numeric WebSocket close code carried by a CLOSE
// frame, per RFC 6455 Section 7.4.
type CloseReason uint16

// RFC 6455 Section 7.4.1 defined status codes, plus the IANA library
// range (3000-3999) and the private-use range (4000-4999) from Section
// 7.4.2.
const (
	// CloseReasonNormalClosure indicates a normal closure: the purpose
	// for which the connection was established has been fulfilled.
	CloseReasonNormalClosure CloseReason = 1000

	// CloseReasonGoingAway indicates an endpoint is "going away", such
	// as a server going down or a browser navigating away from a page.
	CloseReasonGoingAway CloseReason = 1001

	// CloseReasonProtocolError indicates termination due to a protocol error.
	CloseReasonProtocolError CloseReason = 1002

	// CloseReasonUnsupportedData indicates an endpoint received a type
	// of data it cannot accept.
	CloseReasonUnsupportedData CloseReason = 1003

	// CloseReasonNoStatusRcvd is LOCAL_ONLY: never sent or accepted on
	// the wire; it signals that no status code was actually present.
	CloseReasonNoStatusRcvd CloseReason = 1005

	// CloseReasonAbnormalClosure is LOCAL_ONLY: signals the connection
	// closed abnormally, without a CLOSE frame.
	CloseReasonAbnormalClosure CloseReason = 1006

	// CloseReasonInvalidFramePayloadData indicates data within a
	// message was inconsistent with the message type (e.g. non-UTF-8
	// data in a text message).
	CloseReasonInvalidFramePayloadData CloseReason = 1007

	// CloseReasonPolicyViolation is a generic status code used when no
	// more specific code applies.
	CloseReasonPolicyViolation CloseReason = 1008

	// CloseReasonMessageTooBig indicates a message too large to process.
	CloseReasonMessageTooBig CloseReason = 1009

	// CloseReasonMandatoryExt indicates a client's required extensions
	// were not negotiated by the server.
	CloseReasonMandatoryExt CloseReason = 1010

	// CloseReasonInternalError indicates the server hit an unexpected
	// condition preventing it from fulfilling the request.
	CloseReasonInternalError CloseReason = 1011

	// CloseReasonServiceRestart indicates the server/service is
	// restarting (not part of RFC 6455).
	CloseReasonServiceRestart CloseReason = 1012

	// CloseReasonTryAgainLater indicates a temporary server condition
	// forced blocking the client's request (not part of RFC 6455).
	CloseReasonTryAgainLater CloseReason = 1013

	// CloseReasonTLSHandshakeFailed is LOCAL_ONLY: signals the
	// connection closed due to a failed TLS handshake.
	CloseReasonTLSHandshakeFailed CloseReason = 1015
)

const (
	minCloseReason         = 1000
	minProtocolCloseReason = 1000
	maxProtocolCloseReason = 2999
	minLibraryCloseReason  = 3000
	maxLibraryCloseReason  = 3999
	minPrivateCloseReason  = 4000
	maxPrivateCloseReason  = 4999
	maxCloseReason         = 4999
)

// localOnlyCloseReasons are never sent or accepted on the wire; an
// incoming CLOSE frame carrying one of these is a protocol error.
var localOnlyCloseReasons = map[CloseReason]bool{
	CloseReasonNoStatusRcvd:       true,
	CloseReasonAbnormalClosure:    true,
	CloseReasonTLSHandshakeFailed: true,
}

// definedProtocolCloseReasons are the RFC-assigned codes in the
// 1000-2999 range that this engine recognizes; any other code in that
// range is reserved and rejected when received.
var definedProtocolCloseReasons = map[CloseReason]bool{
	CloseReasonNormalClosure:            true,
	CloseReasonGoingAway:                true,
	CloseReasonProtocolError:            true,
	CloseReasonUnsupportedData:          true,
	CloseReasonNoStatusRcvd:             true,
	CloseReasonAbnormalClosure:          true,
	CloseReasonInvalidFramePayloadData:  true,
	CloseReasonPolicyViolation:          true,
	CloseReasonMessageTooBig:            true,
	CloseReasonMandatoryExt:             true,
	CloseReasonInternalError:            true,
	CloseReasonServiceRestart:           true,
	CloseReasonTryAgainLater:            true,
	CloseReasonTLSHandshakeFailed:       true,
}

// String returns a short human-readable name for well-known reasons.
func (c CloseReason) String() string {
	switch c {
	case CloseReasonNormalClosure:
		return "NORMAL_CLOSURE"
	case CloseReasonGoingAway:
		return "GOING_AWAY"
	case CloseReasonProtocolError:
		return "PROTOCOL_ERROR"
	case CloseReasonUnsupportedData:
		return "UNSUPPORTED_DATA"
	case CloseReasonNoStatusRcvd:
		return "NO_STATUS_RCVD"
	case CloseReasonAbnormalClosure:
		return "ABNORMAL_CLOSURE"
	case CloseReasonInvalidFramePayloadData:
		return "INVALID_FRAME_PAYLOAD_DATA"
	case CloseReasonPolicyViolation:
		return "POLICY_VIOLATION"
	case CloseReasonMessageTooBig:
		return "MESSAGE_TOO_BIG"
	case CloseReasonMandatoryExt:
		return "MANDATORY_EXT"
	case CloseReasonInternalError:
		return "INTERNAL_ERROR"
	case CloseReasonServiceRestart:
		return "SERVICE_RESTART"
	case CloseReasonTryAgainLater:
		return "TRY_AGAIN_LATER"
	case CloseReasonTLSHandshakeFailed:
		return "TLS_HANDSHAKE_FAILED"
	default:
		return fmt.Sprintf("CLOSE_REASON_%d", uint16(c))
	}
}

// closePayload is the decoded content of a CLOSE frame once it has
// been validated: a reason code plus a UTF-8 explanation. This is kept
// distinct from the wire bytes (see decodeClosePayload/encodeClosePayload)
// so that CloseConnection events never carry a raw, unvalidated byte slice.
type closePayload struct {
	Code   CloseReason
	Reason string
}

// decodeClosePayload validates and parses a CLOSE frame's payload per
// RFC 6455 Section 7.4. An empty payload yields NO_STATUS_RCVD with an
// empty reason, matching "if this Close control frame contains no
// status code, the WebSocket Connection Close Code is considered to be
// 1005" even though 1005 itself is LOCAL_ONLY on the wire.
func decodeClosePayload(data []byte) (closePayload, error) {
	if len(data) == 0 {
		return closePayload{Code: CloseReasonNoStatusRcvd}, nil
	}
	if len(data) == 1 {
		return closePayload{}, newParseFailed(ErrInvalidClosePayload, CloseReasonProtocolError)
	}

	code := CloseReason(binary.BigEndian.Uint16(data[:2]))
	if code < minCloseReason || code > maxCloseReason {
		return closePayload{}, newParseFailed(ErrInvalidCloseCode, CloseReasonProtocolError)
	}
	if localOnlyCloseReasons[code] {
		return closePayload{}, newParseFailed(ErrInvalidCloseCode, CloseReasonProtocolError)
	}
	if code <= maxProtocolCloseReason && !definedProtocolCloseReasons[code] {
		return closePayload{}, newParseFailed(ErrInvalidCloseCode, CloseReasonProtocolError)
	}

	reasonBytes := data[2:]
	if !utf8.Valid(reasonBytes) {
		return closePayload{}, newParseFailed(ErrInvalidUTF8, CloseReasonInvalidFramePayloadData)
	}

	return closePayload{Code: code, Reason: string(reasonBytes)}, nil
}

// encodeClosePayload serializes code and reason into a CLOSE frame
// payload, substituting NORMAL_CLOSURE for any LOCAL_ONLY code, and
// truncating reason (on a UTF-8 codepoint boundary) so the whole
// payload never exceeds the 125-byte control-frame limit.
func encodeClosePayload(code CloseReason, reason string) []byte {
	if code == 0 {
		return nil
	}
	if localOnlyCloseReasons[code] {
		code = CloseReasonNormalClosure
	}

	out := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(out, uint16(code))
	out = append(out, truncateUTF8([]byte(reason), maxControlPayload-2)...)
	return out
}

// truncateUTF8 truncates data to at most nbytes, discarding any
// trailing partial codepoint left dangling by the cut so the result is
// always well-formed UTF-8.
func truncateUTF8(data []byte, nbytes int) []byte {
	if len(data) <= nbytes {
		return data
	}
	cut := data[:nbytes]
	for len(cut) > 0 {
		r, size := utf8.DecodeLastRune(cut)
		if r != utf8.RuneError || size != 1 {
			break
		}
		cut = cut[:len(cut)-1]
	}
	// The loop above only strips a truncated trailing rune; validate and
	// fall back to stripping one byte at a time if still invalid (covers
	// the pathological case of non-minimal trailing bytes).
	for len(cut) > 0 && !utf8.Valid(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
