package websocket

// applyMask XORs data in place against the cyclic 4-byte key, starting
// at the given key phase (0-3), and returns the key phase the next call
// should start at. This lets a masked payload be processed in several
// chunks — as the streaming frame decoder does — while producing the
// same bytes as a single call over the whole payload would.
//
// RFC 6455 Section 5.3: masking-key octet i of the payload is XORed
// with masking-key octet (i mod 4) of the original (unrotated) key.
func applyMask(data []byte, key [4]byte, keyPhase int) int {
	if len(data) == 0 {
		return keyPhase
	}
	for i := range data {
		data[i] ^= key[(keyPhase+i)%4]
	}
	return (keyPhase + len(data)) % 4
}

// xorMasker tracks key rotation across repeated calls against the same
// logical frame payload, mirroring a stateful masking/unmasking cursor.
type xorMasker struct {
	key   [4]byte
	phase int
}

func newXorMasker(key [4]byte) *xorMasker {
	return &xorMasker{key: key}
}

// process XORs data in place and advances the masker's phase.
func (m *xorMasker) process(data []byte) {
	m.phase = applyMask(data, m.key, m.phase)
}
