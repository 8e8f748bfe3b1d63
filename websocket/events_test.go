package websocket

import "testing"

func TestPingResponseEchoesPayload(t *testing.T) {
	p := Ping{Payload: []byte("ping-payload")}
	pong := p.Response()
	if string(pong.Payload) != "ping-payload" {
		t.Errorf("Response().Payload = %q, want %q", pong.Payload, "ping-payload")
	}
}

func TestCloseConnectionResponseEchoesCodeAndReason(t *testing.T) {
	c := CloseConnection{Code: CloseReasonNormalClosure, Reason: "done"}
	reply := c.Response()
	if reply.Code != CloseReasonNormalClosure {
		t.Errorf("Response().Code = %v, want NormalClosure", reply.Code)
	}
	if reply.Reason != "done" {
		t.Errorf("Response().Reason = %q, want %q", reply.Reason, "done")
	}
}

// TestEventImplementersSatisfyInterface is a compile-time-flavored
// check that every event type still implements Event; it fails to
// build (not just fails at runtime) if a type's isEvent method goes
// missing.
func TestEventImplementersSatisfyInterface(t *testing.T) {
	events := []Event{
		Request{},
		AcceptConnection{},
		RejectConnection{},
		RejectData{},
		CloseConnection{},
		TextMessage{},
		BytesMessage{},
		Ping{},
		Pong{},
	}
	if len(events) != 9 {
		t.Fatalf("len(events) = %d, want 9", len(events))
	}
}
