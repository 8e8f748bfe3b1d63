package websocket

// ConnectionState tracks where a Connection sits in the handshake/frame
// lifecycle. Transitions are monotone toward CLOSED except for the
// handshake's CONNECTING -> OPEN or CONNECTING -> REJECTING -> CLOSED
// edges.
type ConnectionState int

const (
	// StateConnecting is the initial state: the opening handshake has
	// not yet completed.
	StateConnecting ConnectionState = iota
	// StateOpen is reached once the handshake succeeds; frames flow.
	StateOpen
	// StateRemoteClosing is reached when a CLOSE frame arrives while OPEN.
	StateRemoteClosing
	// StateLocalClosing is reached when the local side sends CLOSE first.
	StateLocalClosing
	// StateClosed is terminal.
	StateClosed
	// StateRejecting is reached when the server sends RejectConnection
	// with a body still pending.
	StateRejecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateRemoteClosing:
		return "REMOTE_CLOSING"
	case StateLocalClosing:
		return "LOCAL_CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateRejecting:
		return "REJECTING"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Connection at construction. The zero value means
// "sensible default" for every field.
type Config struct {
	// Subprotocols lists subprotocols a client connection offers during
	// the handshake. Server connections do not consult it; a server
	// picks its subprotocol in the AcceptConnection it sends.
	Subprotocols []string
	// Extensions lists the extensions available for negotiation, such
	// as NewPerMessageDeflate().
	Extensions []Extension
	// MaxMessageSize caps a decoded message's total payload size; zero
	// means defaultMaxFramePayload.
	MaxMessageSize uint64
}

// Connection is the sans-I/O façade unifying the opening handshake and
// the frame protocol behind one byte-in/event-out, command-in/byte-out
// surface. It owns a Handshake while CONNECTING/REJECTING and a
// FrameDecoder/FrameEncoder/MessageDecoder trio once OPEN.
//
// Connection is not safe for concurrent use: there is no socket to
// serialize writes against, so no internal mutex is held. Driving one
// Connection from multiple goroutines without external synchronization
// is a caller error.
type Connection struct {
	client bool
	state  ConnectionState

	handshake *Handshake

	decoder    *FrameDecoder
	msgDecoder *MessageDecoder
	encoder    *FrameEncoder

	recvBuf Buffer

	maxMessageSize uint64
	msgSize        uint64

	extensions []Extension

	pendingAbnormalClosure bool
}

// NewClientConnection returns a Connection that drives the client role.
func NewClientConnection(cfg Config) *Connection {
	return newConnection(true, cfg)
}

// NewServerConnection returns a Connection that drives the server role.
func NewServerConnection(cfg Config) *Connection {
	return newConnection(false, cfg)
}

func newConnection(client bool, cfg Config) *Connection {
	maxSize := cfg.MaxMessageSize
	if maxSize == 0 {
		maxSize = defaultMaxFramePayload
	}
	c := &Connection{
		client:         client,
		state:          StateConnecting,
		maxMessageSize: maxSize,
		extensions:     cfg.Extensions,
	}
	if client {
		c.handshake = NewClientHandshake(cfg.Subprotocols, cfg.Extensions)
	} else {
		c.handshake = NewServerHandshake(cfg.Extensions)
	}
	return c
}

// State reports the connection's current lifecycle state.
func (c *Connection) State() ConnectionState { return c.state }

// Send serializes event into bytes to transmit, routing it to the
// handshake or the frame encoder depending on the current state.
// Sending a handshake event once OPEN, or a data/control event before
// OPEN, is a LocalProtocolError.
func (c *Connection) Send(event Event) ([]byte, error) {
	switch c.state {
	case StateConnecting, StateRejecting:
		return c.sendHandshake(event)
	case StateOpen, StateRemoteClosing, StateLocalClosing:
		return c.sendFrame(event)
	case StateClosed:
		return nil, newLocalError("%w", ErrClosed)
	default:
		return nil, newLocalError("%w", ErrWrongState)
	}
}

func (c *Connection) sendHandshake(event Event) ([]byte, error) {
	switch event.(type) {
	case Request, AcceptConnection, RejectConnection, RejectData:
	default:
		return nil, newLocalError("%w: %T not valid while %s", ErrWrongState, event, c.state)
	}

	out, err := c.handshake.Send(event)
	if err != nil {
		return nil, err
	}

	switch event.(type) {
	case AcceptConnection:
		c.openFramePhase()
	case RejectConnection, RejectData:
		if c.handshake.Finished() {
			c.state = StateClosed
		} else {
			c.state = StateRejecting
		}
	}

	return out, nil
}

func (c *Connection) openFramePhase() {
	c.state = StateOpen
	negotiated := c.handshake.NegotiatedExtensions()
	c.decoder = NewFrameDecoder(c.client, negotiated)
	c.msgDecoder = NewMessageDecoder()
	c.encoder = NewFrameEncoder(c.client, negotiated)
}

func (c *Connection) sendFrame(event Event) ([]byte, error) {
	switch e := event.(type) {
	case TextMessage:
		return c.encoder.SendData(OpcodeText, []byte(e.Data), e.MessageFinished)
	case BytesMessage:
		return c.encoder.SendData(OpcodeBinary, e.Data, e.MessageFinished)
	case Ping:
		return c.encoder.SendPing(e.Payload)
	case Pong:
		return c.encoder.SendPong(e.Payload)
	case CloseConnection:
		out, err := c.encoder.SendClose(e.Code, e.Reason)
		if err != nil {
			return nil, err
		}
		switch c.state {
		case StateOpen:
			c.state = StateLocalClosing
		case StateRemoteClosing:
			c.state = StateClosed
		}
		return out, nil
	default:
		return nil, newLocalError("%w: %T not valid while %s", ErrWrongState, event, c.state)
	}
}

// ReceiveData feeds newly arrived bytes into the connection. data=nil
// signals the underlying transport closed: if the frame phase is active
// (OPEN or either closing state), this synthesizes an ABNORMAL_CLOSURE
// CloseConnection event on the next Events() call; in every case the
// state becomes CLOSED. Once CLOSED, a further nil is ignored and
// non-nil data is a LocalProtocolError.
func (c *Connection) ReceiveData(data []byte) error {
	if c.state == StateClosed {
		if data == nil {
			return nil
		}
		return newLocalError("%w: data received after close", ErrClosed)
	}

	if data == nil {
		wasOpen := c.state == StateOpen || c.state == StateLocalClosing || c.state == StateRemoteClosing
		c.state = StateClosed
		if wasOpen {
			c.pendingAbnormalClosure = true
		}
		return nil
	}

	if c.state == StateConnecting || c.state == StateRejecting {
		c.handshake.ReceiveData(data)
		return nil
	}

	c.recvBuf.Feed(data)
	return nil
}

// Events drains as many events as the bytes received so far allow. It
// returns a nil slice, not an error, when no more bytes are available
// to make progress; callers should call it again after ReceiveData.
func (c *Connection) Events() ([]Event, error) {
	if c.pendingAbnormalClosure {
		c.pendingAbnormalClosure = false
		return []Event{CloseConnection{Code: CloseReasonAbnormalClosure}}, nil
	}

	switch c.state {
	case StateConnecting, StateRejecting:
		return c.handshakeEvents()
	case StateClosed:
		if c.recvBuf.Unread() == 0 {
			return nil, nil
		}
	}
	return c.frameEvents()
}

func (c *Connection) handshakeEvents() ([]Event, error) {
	events, err := c.handshake.Events()
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		switch ev.(type) {
		case AcceptConnection:
			c.openFramePhase()
		case RejectConnection, RejectData:
			if c.handshake.Finished() {
				c.state = StateClosed
			} else {
				c.state = StateRejecting
			}
		}
	}
	return events, nil
}

func (c *Connection) frameEvents() ([]Event, error) {
	var out []Event

	if c.decoder == nil {
		return out, nil
	}

	for {
		frame, err := c.decoder.ProcessBuffer(&c.recvBuf)
		if err != nil {
			return out, c.handleParseError(err)
		}
		if frame == nil {
			return out, nil
		}

		decoded, err := c.msgDecoder.ProcessFrame(frame)
		if err != nil {
			return out, c.handleParseError(err)
		}

		ev, closed, err := c.toEvent(decoded)
		if err != nil {
			return out, c.handleParseError(err)
		}
		if ev != nil {
			out = append(out, ev)
		}
		if closed {
			return out, nil
		}
	}
}

func (c *Connection) handleParseError(err error) error {
	if pf, ok := err.(*ParseFailed); ok {
		c.state = StateClosed
		return pf
	}
	return err
}

func (c *Connection) toEvent(f *decodedFrame) (Event, bool, error) {
	switch f.Opcode {
	case OpcodeText:
		if err := c.trackMessageSize(f, uint64(len(f.Payload))); err != nil {
			return nil, true, err
		}
		return TextMessage{Data: string(f.Payload), FrameFinished: f.FrameFinished, MessageFinished: f.MessageFinished}, false, nil
	case OpcodeBinary, OpcodeContinuation:
		if err := c.trackMessageSize(f, uint64(len(f.Payload))); err != nil {
			return nil, true, err
		}
		return BytesMessage{Data: f.Payload, FrameFinished: f.FrameFinished, MessageFinished: f.MessageFinished}, false, nil
	case OpcodePing:
		return Ping{Payload: f.Payload}, false, nil
	case OpcodePong:
		return Pong{Payload: f.Payload}, false, nil
	case OpcodeClose:
		ev, closed := c.toCloseEvent(f)
		return ev, closed, nil
	}
	return nil, false, nil
}

// trackMessageSize accumulates the in-progress message's payload size
// and enforces MaxMessageSize across a whole (possibly fragmented)
// message, rather than per individual frame.
func (c *Connection) trackMessageSize(f *decodedFrame, n uint64) error {
	c.msgSize += n
	if c.msgSize > c.maxMessageSize {
		c.msgSize = 0
		return newParseFailed(ErrMessageTooLarge, CloseReasonMessageTooBig)
	}
	if f.MessageFinished {
		c.msgSize = 0
	}
	return nil
}

func (c *Connection) toCloseEvent(f *decodedFrame) (Event, bool) {
	payload, err := decodeClosePayload(f.Payload)
	if err != nil {
		c.state = StateClosed
		return CloseConnection{Code: CloseReasonProtocolError}, true
	}

	switch c.state {
	case StateOpen:
		c.state = StateRemoteClosing
	case StateLocalClosing:
		c.state = StateClosed
	}

	return CloseConnection{Code: payload.Code, Reason: payload.Reason}, true
}
