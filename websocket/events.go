package websocket

// Event is implemented by every value that can flow out of
// Connection.Events, and by every value that can be passed to
// Connection.Send. A closed set of structs stands in for the tagged
// union a dynamically typed implementation would use.
type Event interface {
	isEvent()
}

// Header is a single extra HTTP header carried on a handshake event.
type Header struct {
	Name  string
	Value string
}

// Request is fired on the server side when an HTTP Upgrade request
// arrives, and is sent on the client side to initiate one.
type Request struct {
	// Host is the request's Host header value.
	Host string
	// Target is the request path and query string.
	Target string
	// Subprotocols lists the subprotocols proposed in the request.
	Subprotocols []string
	// Extensions lists the Extension objects being offered. Only
	// meaningful when sending a Request on the client side.
	Extensions []Extension
	// ExtensionOffers lists the raw Sec-WebSocket-Extensions offer
	// strings the client sent, e.g. "permessage-deflate; client_max_window_bits=15".
	// Only populated on the server-side Request event, for the
	// embedder to match against its configured extension objects.
	ExtensionOffers []string
	// ExtraHeaders carries additional request headers, excluding the
	// handshake-specific ones the engine manages itself.
	ExtraHeaders []Header
}

func (Request) isEvent() {}

// AcceptConnection is fired on the client side when the server accepts
// the upgrade, and is sent on the server side to accept it.
type AcceptConnection struct {
	Subprotocol  string
	Extensions   []Extension
	ExtraHeaders []Header
}

func (AcceptConnection) isEvent() {}

// RejectConnection is fired on the client side when the server rejects
// the upgrade, and is sent on the server side to reject it. If HasBody
// is true, one or more RejectData events/commands follow.
type RejectConnection struct {
	StatusCode int
	Headers    []Header
	HasBody    bool
}

func (RejectConnection) isEvent() {}

// RejectData carries a chunk of the rejection response body.
type RejectData struct {
	Data         []byte
	BodyFinished bool
}

func (RejectData) isEvent() {}

// CloseConnection represents a CLOSE frame, fired when one is received
// and sent to initiate or acknowledge a close. Response builds the
// acknowledging CloseConnection to echo back to the peer.
type CloseConnection struct {
	Code   CloseReason
	Reason string
}

func (CloseConnection) isEvent() {}

// Response returns the CloseConnection to send in reply, completing
// the closing handshake. The embedder decides whether and when to send
// it; the engine never sends it automatically.
func (c CloseConnection) Response() CloseConnection {
	return CloseConnection{Code: c.Code, Reason: c.Reason}
}

// TextMessage is fired for each chunk of a TEXT message, and sent to
// transmit one. Data represents only this chunk, not the whole
// message; callers reassemble chunks using FrameFinished/MessageFinished.
type TextMessage struct {
	Data            string
	FrameFinished   bool
	MessageFinished bool
}

func (TextMessage) isEvent() {}

// BytesMessage is fired for each chunk of a BINARY message, and sent to
// transmit one.
type BytesMessage struct {
	Data            []byte
	FrameFinished   bool
	MessageFinished bool
}

func (BytesMessage) isEvent() {}

// Ping is fired when a PING frame is received, and sent to transmit
// one. Response builds the PONG to echo back; the engine never sends
// it automatically.
type Ping struct {
	Payload []byte
}

func (Ping) isEvent() {}

// Response returns the Pong that should be sent in reply to this Ping.
func (p Ping) Response() Pong {
	return Pong{Payload: p.Payload}
}

// Pong is fired when a PONG frame is received, and sent to transmit one.
type Pong struct {
	Payload []byte
}

func (Pong) isEvent() {}
