package websocket

import (
	"bytes"
	"testing"
)

func TestBufferFeedAndConsume(t *testing.T) {
	b := NewBuffer(nil)
	b.Feed([]byte("hello"))

	got, ok := b.ConsumeExactly(5)
	if !ok {
		t.Fatalf("ConsumeExactly(5) failed, Unread()=%d", b.Unread())
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("ConsumeExactly(5) = %q, want %q", got, "hello")
	}
	b.Commit()

	if b.Len() != 0 {
		t.Errorf("Len() after Commit = %d, want 0", b.Len())
	}
}

func TestBufferRollback(t *testing.T) {
	b := NewBuffer([]byte("ab"))

	if _, ok := b.ConsumeExactly(4); ok {
		t.Fatal("ConsumeExactly(4) on 2-byte buffer unexpectedly succeeded")
	}
	// A failed ConsumeExactly must not have advanced the cursor.
	if b.Unread() != 2 {
		t.Errorf("Unread() after failed ConsumeExactly = %d, want 2", b.Unread())
	}

	b.ConsumeAtMost(1)
	b.Rollback()
	if b.Unread() != 2 {
		t.Errorf("Unread() after Rollback = %d, want 2", b.Unread())
	}
}

func TestBufferConsumeAtMostShortRead(t *testing.T) {
	b := NewBuffer([]byte("xy"))

	got := b.ConsumeAtMost(10)
	if !bytes.Equal(got, []byte("xy")) {
		t.Errorf("ConsumeAtMost(10) on 2-byte buffer = %q, want %q", got, "xy")
	}
}

func TestBufferPeekDoesNotConsume(t *testing.T) {
	b := NewBuffer([]byte("GET / HTTP/1.1\r\n\r\n"))

	peeked := b.Peek(3)
	if string(peeked) != "GET" {
		t.Errorf("Peek(3) = %q, want %q", peeked, "GET")
	}
	if b.Unread() != 18 {
		t.Errorf("Unread() after Peek = %d, want 18 (Peek must not consume)", b.Unread())
	}
}

func TestBufferFeedAcrossMultipleCalls(t *testing.T) {
	b := NewBuffer(nil)
	b.Feed([]byte("fir"))
	b.Feed([]byte("st"))

	got, ok := b.ConsumeExactly(5)
	if !ok || string(got) != "first" {
		t.Errorf("ConsumeExactly(5) = %q, %v, want %q, true", got, ok, "first")
	}
}
