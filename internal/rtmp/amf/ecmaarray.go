package amf

import (
	"encoding/binary"
	"fmt"
	"io"

	amferrors "github.com/alxayo/rtmp-relay/internal/errors"
)

// markerECMAArray is the AMF0 type marker for ECMAArray (0x08): a declared
// count followed by an Object-shaped body (key/value pairs terminated by an
// empty key + ObjectEnd marker). The declared count is informational only —
// some encoders (Wowza among them) send 0 for a non-empty array — so the
// decoder reads entries until it hits the terminator regardless of count.
const markerECMAArray = 0x08

// ECMAArray is a distinct Go type from plain Object so the generic encoder
// can tell the two apart on the way back to the wire.
type ECMAArray map[string]interface{}

// EncodeECMAArray encodes an AMF0 ECMAArray (marker 0x08). The count field
// reflects len(m); decoders on this wire MUST NOT rely on it being accurate.
func EncodeECMAArray(w io.Writer, m ECMAArray) error {
	var hdr [1 + 4]byte
	hdr[0] = markerECMAArray
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(m)))
	if _, err := w.Write(hdr[:]); err != nil {
		return amferrors.NewAMFError("encode.ecmaarray.header.write", err)
	}
	return encodeObjectBody(w, map[string]interface{}(m))
}

// DecodeECMAArray decodes an AMF0 ECMAArray from r, tolerating any declared
// count value (including 0 for a non-empty array).
func DecodeECMAArray(r io.Reader) (ECMAArray, error) {
	var marker [1]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		return nil, amferrors.NewAMFError("decode.ecmaarray.marker.read", err)
	}
	if marker[0] != markerECMAArray {
		return nil, amferrors.NewAMFError("decode.ecmaarray.marker", fmt.Errorf("expected 0x%02x got 0x%02x", markerECMAArray, marker[0]))
	}
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, amferrors.NewAMFError("decode.ecmaarray.count.read", err)
	}
	// count (binary.BigEndian.Uint32(countBuf[:])) is intentionally unused
	// beyond this point — see doc comment above.
	body, err := decodeObjectBody(r)
	if err != nil {
		return nil, err
	}
	return ECMAArray(body), nil
}
