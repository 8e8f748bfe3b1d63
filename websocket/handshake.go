package websocket

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/sha1" // #nosec G505 - SHA-1 required by RFC 6455 Section 1.3
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strings"

	"golang.org/x/net/idna"
)

// Magic GUID from RFC 6455 Section 1.3.
// Used for computing Sec-WebSocket-Accept header.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Handshake drives the sans-I/O HTTP/1.1 upgrade exchange for either
// connection role. It buffers bytes until a full header block (request
// or status line plus headers) has arrived, parses it with net/http's
// own request/response readers, and negotiates subprotocol and
// extensions.
type Handshake struct {
	client       bool
	extensions   []Extension
	subprotocols []string

	buf Buffer

	finished bool

	// client-side state
	nonce            string
	offeredExtByName map[string]Extension

	// server-side state
	storedKey       string
	requestedProtos []string
	requestedExtRaw []string
	negotiatedExts  []Extension

	// pending rejection body bookkeeping (both roles can receive one)
	awaitingRejectBody bool
	rejectContentLen   int
	rejectReceived     int
}

// NewClientHandshake returns a Handshake that drives the client side of
// the opening handshake, offering subprotocols and extensions.
func NewClientHandshake(subprotocols []string, extensions []Extension) *Handshake {
	return &Handshake{
		client:           true,
		subprotocols:     subprotocols,
		extensions:       extensions,
		offeredExtByName: make(map[string]Extension),
	}
}

// NewServerHandshake returns a Handshake that drives the server side of
// the opening handshake, matching incoming offers against extensions.
func NewServerHandshake(extensions []Extension) *Handshake {
	return &Handshake{
		client:     false,
		extensions: extensions,
	}
}

// Finished reports whether the handshake has resolved, successfully or
// not; once true the Connection façade switches to the frame phase (on
// success) or to CLOSED (on rejection).
func (h *Handshake) Finished() bool { return h.finished }

// NegotiatedExtensions returns the extensions that finished negotiation
// successfully; only meaningful after a successful handshake.
func (h *Handshake) NegotiatedExtensions() []Extension { return h.negotiatedExts }

// ReceiveData feeds newly arrived bytes into the handshake parser.
func (h *Handshake) ReceiveData(data []byte) {
	h.buf.Feed(data)
}

// Send serializes a handshake command (Request, AcceptConnection,
// RejectConnection, RejectData) into bytes to transmit.
func (h *Handshake) Send(event Event) ([]byte, error) {
	switch e := event.(type) {
	case Request:
		return h.sendRequest(e)
	case AcceptConnection:
		return h.sendAccept(e)
	case RejectConnection:
		return h.sendReject(e)
	case RejectData:
		return h.sendRejectData(e)
	default:
		return nil, newLocalError("event %T not valid during handshake", event)
	}
}

func (h *Handshake) sendRequest(req Request) ([]byte, error) {
	if !h.client {
		return nil, newLocalError("only a client sends Request")
	}

	nonceBytes := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, nonceBytes); err != nil {
		return nil, fmt.Errorf("websocket: generate nonce: %w", err)
	}
	h.nonce = base64.StdEncoding.EncodeToString(nonceBytes)

	host, err := idna.Lookup.ToASCII(req.Host)
	if err != nil {
		// Hosts that are already ASCII (the common case), or that IDNA
		// cannot re-encode (IP literals, host:port), pass through as-is.
		host = req.Host
	}

	target := req.Target
	if target == "" {
		target = "/"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", target)
	fmt.Fprintf(&b, "Host: %s\r\n", host)
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Key: %s\r\n", h.nonce)
	b.WriteString("Sec-WebSocket-Version: 13\r\n")

	subprotocols := req.Subprotocols
	if len(subprotocols) == 0 {
		subprotocols = h.subprotocols
	}
	h.subprotocols = subprotocols
	if len(subprotocols) > 0 {
		fmt.Fprintf(&b, "Sec-WebSocket-Protocol: %s\r\n", strings.Join(subprotocols, ", "))
	}

	extensions := req.Extensions
	if len(extensions) == 0 {
		extensions = h.extensions
	}
	h.extensions = extensions
	h.offeredExtByName = make(map[string]Extension, len(extensions))
	var offers []string
	for _, ext := range extensions {
		params, ok := ext.Offer()
		if !ok {
			continue
		}
		h.offeredExtByName[ext.Name()] = ext
		if params == "" {
			offers = append(offers, ext.Name())
		} else {
			offers = append(offers, ext.Name()+"; "+params)
		}
	}
	if len(offers) > 0 {
		fmt.Fprintf(&b, "Sec-WebSocket-Extensions: %s\r\n", strings.Join(offers, ", "))
	}

	for _, hdr := range req.ExtraHeaders {
		fmt.Fprintf(&b, "%s: %s\r\n", hdr.Name, hdr.Value)
	}
	b.WriteString("\r\n")

	return []byte(b.String()), nil
}

func (h *Handshake) sendAccept(accept AcceptConnection) ([]byte, error) {
	if h.client {
		return nil, newLocalError("only a server sends AcceptConnection")
	}
	if h.storedKey == "" {
		return nil, newLocalError("AcceptConnection sent with no pending request")
	}
	if accept.Subprotocol != "" && !containsString(h.requestedProtos, accept.Subprotocol) {
		return nil, newLocalError("%w: %s", ErrSubprotocolNotOffered, accept.Subprotocol)
	}

	token := computeAcceptKey(h.storedKey)

	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Accept: %s\r\n", token)
	if accept.Subprotocol != "" {
		fmt.Fprintf(&b, "Sec-WebSocket-Protocol: %s\r\n", accept.Subprotocol)
	}

	var negotiated []string
	h.negotiatedExts = nil
	for _, offerRaw := range h.requestedExtRaw {
		name := extensionName(offerRaw)
		ext := findExtensionByName(accept.Extensions, name)
		if ext == nil {
			ext = findExtensionByName(h.extensions, name)
		}
		if ext == nil {
			continue
		}
		params, ok := ext.Accept(offerRaw)
		if !ok {
			continue
		}
		h.negotiatedExts = append(h.negotiatedExts, ext)
		if params == "" {
			negotiated = append(negotiated, ext.Name())
		} else {
			negotiated = append(negotiated, ext.Name()+"; "+params)
		}
	}
	if len(negotiated) > 0 {
		fmt.Fprintf(&b, "Sec-WebSocket-Extensions: %s\r\n", strings.Join(negotiated, ", "))
	}

	for _, hdr := range accept.ExtraHeaders {
		fmt.Fprintf(&b, "%s: %s\r\n", hdr.Name, hdr.Value)
	}
	b.WriteString("\r\n")

	h.finished = true
	return []byte(b.String()), nil
}

func (h *Handshake) sendReject(reject RejectConnection) ([]byte, error) {
	if h.client {
		return nil, newLocalError("only a server sends RejectConnection")
	}

	status := reject.StatusCode
	if status == 0 {
		status = http.StatusBadRequest
	}

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	for _, hdr := range reject.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", hdr.Name, hdr.Value)
	}
	if !reject.HasBody {
		b.WriteString("Content-Length: 0\r\n")
	}
	b.WriteString("\r\n")

	if !reject.HasBody {
		h.finished = true
	}
	return []byte(b.String()), nil
}

func (h *Handshake) sendRejectData(data RejectData) ([]byte, error) {
	if h.client {
		return nil, newLocalError("only a server sends RejectData")
	}
	if data.BodyFinished {
		h.finished = true
	}
	return data.Data, nil
}

// Events parses as many handshake events as the buffered bytes
// currently allow. It returns (nil, nil) when more bytes are needed.
func (h *Handshake) Events() ([]Event, error) {
	if h.awaitingRejectBody {
		return h.continueRejectBody()
	}

	idx := indexHeaderEnd(h.buf.Peek(h.buf.Unread()))
	if idx < 0 {
		return nil, nil
	}
	headerBlock, _ := h.buf.ConsumeExactly(idx)
	h.buf.Commit()

	if h.client {
		return h.parseResponse(headerBlock)
	}
	return h.parseRequest(headerBlock)
}

func indexHeaderEnd(b []byte) int {
	i := bytes.Index(b, []byte("\r\n\r\n"))
	if i < 0 {
		return -1
	}
	return i + 4
}

func (h *Handshake) parseRequest(block []byte) ([]Event, error) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(block)))
	if err != nil {
		return nil, newRemoteError(nil, "websocket: malformed handshake request: %w", err)
	}

	// RFC 6455 Section 4.1/4.2.1: method, Upgrade, Connection, version,
	// and Sec-WebSocket-Key must all be present and valid before a
	// Request event can be surfaced to the embedder.
	if req.Method != http.MethodGet {
		return nil, newRemoteError(
			RejectConnection{StatusCode: http.StatusBadRequest},
			"%w: %s", ErrInvalidMethod, req.Method)
	}
	if !headerContainsToken(req.Header.Get("Upgrade"), "websocket") {
		return nil, newRemoteError(RejectConnection{StatusCode: http.StatusBadRequest}, "%w", ErrMissingUpgrade)
	}
	if !headerContainsToken(req.Header.Get("Connection"), "upgrade") {
		return nil, newRemoteError(RejectConnection{StatusCode: http.StatusBadRequest}, "%w", ErrMissingConnection)
	}
	key := req.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, newRemoteError(RejectConnection{StatusCode: http.StatusBadRequest}, "%w", ErrMissingSecKey)
	}
	if version := req.Header.Get("Sec-WebSocket-Version"); version != "13" {
		return nil, newRemoteError(
			RejectConnection{
				StatusCode: http.StatusUpgradeRequired,
				Headers:    []Header{{Name: "Sec-WebSocket-Version", Value: "13"}},
			},
			"%w: %s", ErrInvalidVersion, version)
	}

	h.storedKey = key
	h.requestedProtos = splitCommaHeader(req.Header.Get("Sec-WebSocket-Protocol"))
	h.requestedExtRaw = splitCommaHeader(req.Header.Get("Sec-WebSocket-Extensions"))

	ev := Request{
		Host:            req.Header.Get("Host"),
		Target:          req.URL.RequestURI(),
		Subprotocols:    h.requestedProtos,
		ExtensionOffers: h.requestedExtRaw,
		ExtraHeaders:    extraHeaders(req.Header),
	}
	return []Event{ev}, nil
}

func (h *Handshake) parseResponse(block []byte) ([]Event, error) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(block)), nil)
	if err != nil {
		return nil, newRemoteError(nil, "websocket: malformed handshake response: %w", err)
	}

	if resp.StatusCode != http.StatusSwitchingProtocols {
		h.rejectContentLen = int(resp.ContentLength)
		reject := RejectConnection{
			StatusCode: resp.StatusCode,
			Headers:    extraHeaders(resp.Header),
			HasBody:    h.rejectContentLen > 0,
		}
		if h.rejectContentLen <= 0 {
			h.finished = true
			return []Event{reject}, nil
		}
		h.awaitingRejectBody = true
		return []Event{reject}, nil
	}

	if !headerContainsToken(resp.Header.Get("Upgrade"), "websocket") {
		return nil, newRemoteError(nil, "%w", ErrMissingUpgrade)
	}
	if !headerContainsToken(resp.Header.Get("Connection"), "upgrade") {
		return nil, newRemoteError(nil, "%w", ErrMissingConnection)
	}
	accept := resp.Header.Get("Sec-WebSocket-Accept")
	if accept != computeAcceptKey(h.nonce) {
		return nil, newRemoteError(nil, "%w", ErrAcceptMismatch)
	}

	subprotocol := resp.Header.Get("Sec-WebSocket-Protocol")
	if subprotocol != "" && !containsString(h.subprotocols, subprotocol) {
		return nil, newRemoteError(nil, "%w: %s", ErrSubprotocolNotOffered, subprotocol)
	}

	h.negotiatedExts = nil
	for _, raw := range splitCommaHeader(resp.Header.Get("Sec-WebSocket-Extensions")) {
		name := extensionName(raw)
		ext, ok := h.offeredExtByName[name]
		if !ok {
			return nil, newRemoteError(nil, "%w: %s", ErrExtensionNotOffered, name)
		}
		if err := ext.Finalize(raw); err != nil {
			return nil, newRemoteError(nil, "websocket: finalize extension %s: %w", name, err)
		}
		h.negotiatedExts = append(h.negotiatedExts, ext)
	}

	h.finished = true
	return []Event{AcceptConnection{
		Subprotocol:  subprotocol,
		ExtraHeaders: extraHeaders(resp.Header),
	}}, nil
}

func (h *Handshake) continueRejectBody() ([]Event, error) {
	remaining := h.rejectContentLen - h.rejectReceived
	if h.buf.Unread() < remaining {
		return nil, nil
	}
	data, _ := h.buf.ConsumeExactly(remaining)
	h.buf.Commit()
	h.rejectReceived += len(data)
	h.awaitingRejectBody = false
	h.finished = true
	return []Event{
		RejectData{Data: data},
		RejectData{BodyFinished: true},
	}, nil
}

// computeAcceptKey computes Sec-WebSocket-Accept from client key.
//
// RFC 6455 Section 1.3:
//
//	Sec-WebSocket-Accept = base64(SHA-1(key + GUID))
//
// Where GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11".
func computeAcceptKey(key string) string {
	// #nosec G401 - SHA-1 required by RFC 6455 Section 1.3 (not for cryptographic security)
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// headerContainsToken checks if header value contains token (case-insensitive).
//
// RFC 6455 Section 4.2.1: Header tokens are case-insensitive.
func headerContainsToken(header, token string) bool {
	header = strings.ToLower(header)
	token = strings.ToLower(token)

	for _, h := range strings.Split(header, ",") {
		if strings.TrimSpace(h) == token {
			return true
		}
	}

	return false
}

// splitCommaHeader splits a comma-separated header value into trimmed,
// non-empty tokens.
func splitCommaHeader(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// extensionName returns the extension-token portion of a (possibly
// parameterized) Sec-WebSocket-Extensions offer.
func extensionName(offer string) string {
	idx := strings.IndexByte(offer, ';')
	if idx < 0 {
		return strings.TrimSpace(offer)
	}
	return strings.TrimSpace(offer[:idx])
}

func findExtensionByName(exts []Extension, name string) Extension {
	for _, e := range exts {
		if e.Name() == name {
			return e
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// extraHeaders collects headers outside the handshake-specific set the
// engine already surfaces through dedicated event fields.
func extraHeaders(h http.Header) []Header {
	if len(h) == 0 {
		return nil
	}
	skip := map[string]bool{
		"Upgrade": true, "Connection": true, "Sec-Websocket-Accept": true,
		"Sec-Websocket-Protocol": true, "Sec-Websocket-Extensions": true,
		"Sec-Websocket-Key": true, "Sec-Websocket-Version": true,
		"Host": true, "Content-Length": true,
	}
	out := make([]Header, 0, len(h))
	for name, values := range h {
		if skip[textproto.CanonicalMIMEHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			out = append(out, Header{Name: name, Value: v})
		}
	}
	return out
}
