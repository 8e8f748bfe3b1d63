package websocket

import "unicode/utf8"

// utf8Validator performs incremental UTF-8 validation across a sequence
// of byte chunks that may split a multi-byte codepoint at a chunk
// boundary. Validate reports whether everything seen so far is consistent
// with valid UTF-8; only once final=true is passed does a trailing
// incomplete codepoint become an error (it simply never got closed).
type utf8Validator struct {
	// pending holds the tail of the previous chunk that might be the
	// prefix of a codepoint split across the chunk boundary.
	pending []byte
}

// Validate feeds the next chunk of a byte stream through the validator.
// It returns false as soon as the accumulated bytes are provably not
// valid UTF-8 (either a malformed sequence, or, when final is true, a
// truncated trailing sequence).
func (v *utf8Validator) Validate(chunk []byte, final bool) bool {
	buf := chunk
	if len(v.pending) > 0 {
		buf = append(append([]byte(nil), v.pending...), chunk...)
		v.pending = nil
	}

	for len(buf) > 0 {
		r, size := utf8.DecodeRune(buf)
		if r == utf8.RuneError && size <= 1 {
			// size == 0 never happens here since len(buf) > 0; size == 1
			// means either a genuinely invalid byte, or a valid-so-far
			// prefix of a multi-byte sequence that simply hasn't arrived
			// yet. Distinguish by checking whether extending the buffer
			// with more bytes could still complete a valid sequence.
			if !final && couldBeIncomplete(buf) {
				v.pending = append([]byte(nil), buf...)
				return true
			}
			return false
		}
		buf = buf[size:]
	}

	if final && len(v.pending) > 0 {
		return false
	}
	return true
}

// couldBeIncomplete reports whether buf is a valid-so-far prefix of a
// multi-byte UTF-8 sequence that has simply been truncated by a chunk
// boundary, as opposed to being outright malformed.
func couldBeIncomplete(buf []byte) bool {
	if len(buf) == 0 || len(buf) >= utf8.UTFMax {
		return false
	}
	// Re-decode against a buffer padded with continuation bytes; if that
	// succeeds as a single rune consuming the whole padded buffer, buf
	// was a genuine (if short) prefix rather than malformed.
	lead := buf[0]
	var want int
	switch {
	case lead&0x80 == 0x00:
		want = 1
	case lead&0xE0 == 0xC0:
		want = 2
	case lead&0xF0 == 0xE0:
		want = 3
	case lead&0xF8 == 0xF0:
		want = 4
	default:
		return false
	}
	if want <= len(buf) {
		return false
	}
	for _, c := range buf[1:] {
		if c&0xC0 != 0x80 {
			return false
		}
	}
	return true
}
