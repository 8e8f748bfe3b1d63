package websocket

// Buffer is an append-only byte buffer with a rollback-capable read
// cursor. Parsers that need to attempt a multi-stage read (header, then
// extended length, then mask key, then payload) and undo it when the
// buffer runs short use Buffer instead of copying or re-slicing.
//
// The zero value is an empty, ready-to-use Buffer.
type Buffer struct {
	data      []byte
	bytesUsed int
}

// NewBuffer returns a Buffer primed with initial bytes.
func NewBuffer(initial []byte) *Buffer {
	b := &Buffer{}
	if len(initial) > 0 {
		b.Feed(initial)
	}
	return b
}

// Feed appends newBytes to the buffer.
func (b *Buffer) Feed(newBytes []byte) {
	b.data = append(b.data, newBytes...)
}

// ConsumeAtMost returns up to n unread bytes without committing them;
// the returned slice shrinks if fewer than n bytes are available. It
// never blocks and never returns an error: a short read simply yields
// fewer bytes.
func (b *Buffer) ConsumeAtMost(n int) []byte {
	if n <= 0 {
		return nil
	}
	avail := len(b.data) - b.bytesUsed
	if n > avail {
		n = avail
	}
	out := b.data[b.bytesUsed : b.bytesUsed+n]
	b.bytesUsed += n
	return out
}

// ConsumeExactly returns exactly n unread bytes, or ok=false if fewer
// than n bytes are currently buffered. On ok=false nothing is consumed.
func (b *Buffer) ConsumeExactly(n int) (out []byte, ok bool) {
	if len(b.data)-b.bytesUsed < n {
		return nil, false
	}
	return b.ConsumeAtMost(n), true
}

// Commit discards the consumed prefix, making room permanent. Call this
// once a full frame (or frame chunk) has been successfully parsed.
func (b *Buffer) Commit() {
	b.data = b.data[b.bytesUsed:]
	b.bytesUsed = 0
}

// Rollback moves the read cursor back to the last Commit, undoing any
// ConsumeAtMost/ConsumeExactly calls made since. Call this when a parse
// attempt needs more bytes than are currently available.
func (b *Buffer) Rollback() {
	b.bytesUsed = 0
}

// Len returns the total number of buffered bytes, including any already
// consumed-but-not-committed bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Unread returns the number of bytes available to a fresh ConsumeAtMost
// call after the current read cursor.
func (b *Buffer) Unread() int {
	return len(b.data) - b.bytesUsed
}

// Peek returns up to n unread bytes without advancing the read cursor,
// for parsers (like the handshake's header-terminator scan) that need
// to look ahead without committing to a consume.
func (b *Buffer) Peek(n int) []byte {
	avail := len(b.data) - b.bytesUsed
	if n > avail {
		n = avail
	}
	return b.data[b.bytesUsed : b.bytesUsed+n]
}
