package websocket

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
)

// maxDeflateDict is the largest preset dictionary DEFLATE supports,
// also the largest window permessage-deflate ever negotiates.
const maxDeflateDict = 32768

// RsvBits records which of the three reserved header bits a frame
// carries, or which ones an extension's inbound hook consumed.
type RsvBits struct {
	Rsv1, Rsv2, Rsv3 bool
}

// Extension is the fixed capability set every WebSocket extension
// implements: negotiation (Offer/Accept/Finalize) and the four hooks
// the frame pipeline invokes on every frame. Offer/Accept return
// ok=false when the extension declines to participate; Finalize returns
// an error when the accepted parameters cannot be applied.
type Extension interface {
	// Name is the extension token used in Sec-WebSocket-Extensions.
	Name() string
	// Enabled reports whether negotiation finished successfully.
	Enabled() bool
	// Offer builds this extension's client-side offer parameter string.
	Offer() (params string, ok bool)
	// Accept parses a client offer and returns the server's accepted
	// parameter string, or ok=false to decline the offer entirely.
	Accept(offer string) (params string, ok bool)
	// Finalize parses the server's accepted parameter string and
	// enables the extension with those parameters.
	Finalize(params string) error
	// FrameInboundHeader is invoked once per inbound frame header. It
	// returns the RSV bits this extension claims, or a ParseFailed
	// error if the header violates the extension's constraints.
	FrameInboundHeader(opcode Opcode, rsv RsvBits, payloadLen uint64) (RsvBits, error)
	// FrameInboundPayloadData transforms a chunk of inbound payload.
	FrameInboundPayloadData(data []byte) ([]byte, error)
	// FrameInboundComplete is invoked once the current wire frame's
	// payload has been fully consumed; fin is the frame's FIN bit. It
	// may return trailing bytes to append to the decoded payload.
	FrameInboundComplete(fin bool) ([]byte, error)
	// FrameOutbound transforms outbound payload before serialization,
	// returning the RSV bits to set and the (possibly compressed) data.
	FrameOutbound(opcode Opcode, rsv RsvBits, data []byte, fin bool) (RsvBits, []byte)
}

func compressibleOpcode(opcode Opcode) bool {
	return opcode == OpcodeText || opcode == OpcodeBinary || opcode == OpcodeContinuation
}

// PerMessageDeflate implements RFC 7692: per-message DEFLATE compression
// negotiated during the opening handshake, with optional context
// takeover in each direction and configurable (advisory) window bits.
//
// Go's DEFLATE implementations (stdlib compress/flate and the
// API-compatible github.com/klauspost/compress/flate used here) always
// operate a full 32 KiB LZ77 window; there is no constructor knob to
// shrink it. *_max_window_bits is still honored for wire negotiation —
// so window-bits-aware peers agree on the advertised value — but is not
// physically enforced on the compressor, which is safe: a decompressor
// whose window is >= the compressor's window always decodes correctly,
// since the compressed bytes never depend on the consumer's window.
//
// Context takeover (the window persisting across messages) is emulated
// across Go's per-call Writer/Reader pairs using the preset-dictionary
// constructors (NewWriterDict / NewReaderDict): each message's trailing
// decompressed bytes become the preset dictionary seeding the next
// message's (de)compressor, rather than keeping one streaming
// (de)compressor object alive, because compress/flate's Reader treats
// the underlying io.Reader reaching EOF as the stream having ended —
// it cannot be paused mid-stream and resumed later with more input,
// which a frame-at-a-time sans-I/O pipeline would otherwise require.
type PerMessageDeflate struct {
	ClientNoContextTakeover bool
	ClientMaxWindowBits     int
	ServerNoContextTakeover bool
	ServerMaxWindowBits     int

	// client is true when this extension instance lives inside a
	// client-role Connection; it decides which side's parameters
	// govern the local compressor vs. the remote decompressor.
	client bool

	enabled bool

	compressDict   []byte
	decompressDict []byte

	// per-message inbound accumulator: DEFLATE doesn't offer a
	// pausable push-decompress API in this ecosystem, so compressed
	// bytes for the message in progress are buffered here and run
	// through the decompressor once the message's last frame arrives.
	inboundBuf            bytes.Buffer
	inboundIsCompressible bool
	inboundCompressed     *bool

	// frameIsControl records whether the frame currently being read by
	// FrameInboundPayloadData/FrameInboundComplete is a control frame.
	// Control frames may be interleaved inside a fragmented compressed
	// message (RFC 6455 Section 5.4) and must pass through untouched,
	// without disturbing the enclosing message's accumulator or
	// inboundIsCompressible/inboundCompressed state.
	frameIsControl bool

	// per-message outbound accumulator: the whole message's plaintext
	// is buffered and compressed as a single continuous DEFLATE stream
	// when the last frame is produced, so that frames the encoder
	// splits a message across never straddle two independent DEFLATE
	// streams (which per-frame compressor restarts would otherwise
	// produce, breaking the paired inbound accumulate-then-decompress).
	outboundBuf bytes.Buffer
}

// NewPerMessageDeflate returns a PerMessageDeflate offering the default
// window bits (15) and context takeover enabled in both directions.
func NewPerMessageDeflate() *PerMessageDeflate {
	return &PerMessageDeflate{
		ClientMaxWindowBits: 15,
		ServerMaxWindowBits: 15,
	}
}

func (d *PerMessageDeflate) Name() string { return "permessage-deflate" }

func (d *PerMessageDeflate) Enabled() bool { return d.enabled }

// Offer builds the client's parameter offer string.
func (d *PerMessageDeflate) Offer() (string, bool) {
	d.client = true
	params := []string{
		fmt.Sprintf("client_max_window_bits=%d", d.ClientMaxWindowBits),
		fmt.Sprintf("server_max_window_bits=%d", d.ServerMaxWindowBits),
	}
	if d.ClientNoContextTakeover {
		params = append(params, "client_no_context_takeover")
	}
	if d.ServerNoContextTakeover {
		params = append(params, "server_no_context_takeover")
	}
	return strings.Join(params, "; "), true
}

// Finalize applies the server's accepted parameters and enables the
// extension on the client side.
func (d *PerMessageDeflate) Finalize(params string) error {
	d.client = true
	for _, bit := range splitSemicolon(params)[1:] {
		switch {
		case strings.HasPrefix(bit, "client_no_context_takeover"):
			d.ClientNoContextTakeover = true
		case strings.HasPrefix(bit, "server_no_context_takeover"):
			d.ServerNoContextTakeover = true
		case strings.HasPrefix(bit, "client_max_window_bits"):
			v, err := parseWindowBits(bit)
			if err != nil {
				return err
			}
			d.ClientMaxWindowBits = v
		case strings.HasPrefix(bit, "server_max_window_bits"):
			v, err := parseWindowBits(bit)
			if err != nil {
				return err
			}
			d.ServerMaxWindowBits = v
		}
	}
	d.enabled = true
	return nil
}

// Accept parses a client offer and returns the server's accepted
// parameter string, narrowing window bits and adopting any
// no-context-takeover flags the client proposed.
func (d *PerMessageDeflate) Accept(offer string) (string, bool) {
	d.client = false

	var clientBits, serverBits *int
	for _, bit := range splitSemicolon(offer)[1:] {
		switch {
		case strings.HasPrefix(bit, "client_no_context_takeover"):
			d.ClientNoContextTakeover = true
		case strings.HasPrefix(bit, "server_no_context_takeover"):
			d.ServerNoContextTakeover = true
		case strings.HasPrefix(bit, "client_max_window_bits"):
			if v, err := parseWindowBitsOrDefault(bit, d.ClientMaxWindowBits); err == nil {
				if d.ClientMaxWindowBits > 0 && d.ClientMaxWindowBits < v {
					v = d.ClientMaxWindowBits
				}
				clientBits = &v
			}
		case strings.HasPrefix(bit, "server_max_window_bits"):
			if v, err := parseWindowBitsOrDefault(bit, d.ServerMaxWindowBits); err == nil {
				if d.ServerMaxWindowBits > 0 && d.ServerMaxWindowBits < v {
					v = d.ServerMaxWindowBits
				}
				serverBits = &v
			}
		}
	}

	d.enabled = true

	var params []string
	if d.ClientNoContextTakeover {
		params = append(params, "client_no_context_takeover")
	}
	if clientBits != nil {
		params = append(params, fmt.Sprintf("client_max_window_bits=%d", *clientBits))
		d.ClientMaxWindowBits = *clientBits
	}
	if d.ServerNoContextTakeover {
		params = append(params, "server_no_context_takeover")
	}
	if serverBits != nil {
		params = append(params, fmt.Sprintf("server_max_window_bits=%d", *serverBits))
		d.ServerMaxWindowBits = *serverBits
	}
	return strings.Join(params, "; "), true
}

func splitSemicolon(s string) []string {
	parts := strings.Split(s, ";")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func parseWindowBits(bit string) (int, error) {
	idx := strings.IndexByte(bit, '=')
	if idx < 0 {
		return 0, fmt.Errorf("websocket: permessage-deflate: missing window bits value in %q", bit)
	}
	return strconv.Atoi(strings.TrimSpace(bit[idx+1:]))
}

func parseWindowBitsOrDefault(bit string, fallback int) (int, error) {
	if !strings.ContainsRune(bit, '=') {
		return fallback, nil
	}
	return parseWindowBits(bit)
}

// FrameInboundHeader rejects RSV1 on control frames and on CONTINUATION
// frames (only the first frame of a message may carry it), records
// whether the in-progress message is compressible and compressed, and
// claims RSV1. Control frames, which may be interleaved inside a
// fragmented message, leave the enclosing message's state untouched.
func (d *PerMessageDeflate) FrameInboundHeader(opcode Opcode, rsv RsvBits, _ uint64) (RsvBits, error) {
	if rsv.Rsv1 && opcode.IsControl() {
		return RsvBits{}, newParseFailed(ErrReservedBits, CloseReasonProtocolError)
	}
	if rsv.Rsv1 && opcode == OpcodeContinuation {
		return RsvBits{}, newParseFailed(ErrReservedBits, CloseReasonProtocolError)
	}

	d.frameIsControl = opcode.IsControl()
	if d.frameIsControl {
		return RsvBits{Rsv1: true}, nil
	}

	d.inboundIsCompressible = compressibleOpcode(opcode)

	if d.inboundCompressed == nil {
		compressed := rsv.Rsv1
		d.inboundCompressed = &compressed
	}

	return RsvBits{Rsv1: true}, nil
}

// FrameInboundPayloadData buffers compressed payload bytes for the
// message in progress; decompression happens once the message's final
// frame completes (see FrameInboundComplete). A control frame's
// payload passes through untouched.
func (d *PerMessageDeflate) FrameInboundPayloadData(data []byte) ([]byte, error) {
	if d.frameIsControl {
		return data, nil
	}
	if d.inboundCompressed == nil || !*d.inboundCompressed || !d.inboundIsCompressible {
		return data, nil
	}
	d.inboundBuf.Write(data)
	return nil, nil
}

// FrameInboundComplete flushes the buffered compressed bytes through a
// DEFLATE reader once the message's last frame (fin=true) arrives. A
// control frame always completes with fin=true but never owns the
// message accumulator, so it is a no-op here.
func (d *PerMessageDeflate) FrameInboundComplete(fin bool) ([]byte, error) {
	if d.frameIsControl {
		return nil, nil
	}
	if !fin {
		return nil, nil
	}
	compressed := d.inboundCompressed != nil && *d.inboundCompressed
	isCompressible := d.inboundIsCompressible
	d.inboundCompressed = nil

	if !isCompressible || !compressed {
		d.inboundBuf.Reset()
		return nil, nil
	}

	payload := d.inboundBuf.Bytes()
	// The sync-flush marker (00 00 ff ff) alone ends on a non-final
	// DEFLATE block; flate.Reader hits EOF expecting the next block
	// header and returns io.ErrUnexpectedEOF. Appending an empty final
	// stored block (01 00 00 ff ff) gives the reader a proper stream
	// terminator, the same fix gorilla/websocket applies.
	tail := append(append([]byte(nil), payload...), 0x00, 0x00, 0xff, 0xff, 0x01, 0x00, 0x00, 0xff, 0xff)
	d.inboundBuf.Reset()

	r := flate.NewReaderDict(bytes.NewReader(tail), d.decompressDict)
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, newParseFailed(fmt.Errorf("permessage-deflate: %w", err), CloseReasonInvalidFramePayloadData)
	}

	// The decompressor mirrors whichever side produced the bytes we're
	// decoding: the remote peer's own no-context-takeover setting.
	noContextTakeover := d.ClientNoContextTakeover
	if d.client {
		noContextTakeover = d.ServerNoContextTakeover
	}
	if noContextTakeover {
		d.decompressDict = nil
	} else {
		d.decompressDict = lastBytes(out, maxDeflateDict)
	}

	return out, nil
}

// FrameOutbound accumulates the outbound payload of compressible
// messages, claiming RSV1 on the first frame. The accumulated message
// is compressed as one continuous DEFLATE stream and emitted only once
// the last frame (fin=true) is produced, with a sync flush and the
// trailing empty-block marker stripped; intermediate frames of a
// multi-frame message carry no payload bytes yet (a legal zero-length
// CONTINUATION frame), mirroring the buffer-then-transform pairing
// FrameInboundComplete uses on the decode side.
func (d *PerMessageDeflate) FrameOutbound(opcode Opcode, rsv RsvBits, data []byte, fin bool) (RsvBits, []byte) {
	if !compressibleOpcode(opcode) {
		return rsv, data
	}
	if opcode != OpcodeContinuation {
		rsv.Rsv1 = true
	}

	d.outboundBuf.Write(data)
	if !fin {
		return rsv, nil
	}

	plaintext := append([]byte(nil), d.outboundBuf.Bytes()...)
	d.outboundBuf.Reset()

	var buf bytes.Buffer
	w, _ := flate.NewWriterDict(&buf, flate.DefaultCompression, d.compressDict)
	_, _ = w.Write(plaintext)
	_ = w.Flush()

	out := buf.Bytes()
	if len(out) >= 4 {
		out = out[:len(out)-4]
	}

	noContextTakeover := d.ClientNoContextTakeover
	if !d.client {
		noContextTakeover = d.ServerNoContextTakeover
	}
	if noContextTakeover {
		d.compressDict = nil
	} else {
		d.compressDict = lastBytes(plaintext, maxDeflateDict)
	}

	return rsv, out
}

func lastBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return append([]byte(nil), b...)
	}
	return append([]byte(nil), b[len(b)-n:]...)
}
