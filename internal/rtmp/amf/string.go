package amf

import (
	"encoding/binary"
	"fmt"
	"io"

	amferrors "github.com/alxayo/rtmp-relay/internal/errors"
)

// markerString is the AMF0 type marker for String (0x02, 16-bit length).
// markerLongString is the AMF0 type marker for the 32-bit-length variant
// (0x0C), selected automatically by the encoder whenever the narrower form
// cannot hold the byte length.
const (
	markerString     = 0x02
	markerLongString = 0x0C
)

// EncodeString writes an AMF0 String to w, picking the narrower of the two
// wire forms: 0x02 | 2-byte length | UTF-8 bytes for byte length ≤ 65535,
// else 0x0C | 4-byte length | UTF-8 bytes.
func EncodeString(w io.Writer, s string) error {
	b := []byte(s) // UTF-8 in Go string already.
	if len(b) <= 0xFFFF {
		var hdr [1 + 2]byte
		hdr[0] = markerString
		binary.BigEndian.PutUint16(hdr[1:], uint16(len(b)))
		if _, err := w.Write(hdr[:]); err != nil {
			return amferrors.NewAMFError("encode.string.write.header", err)
		}
		if len(b) == 0 {
			return nil
		}
		if _, err := w.Write(b); err != nil {
			return amferrors.NewAMFError("encode.string.write.body", err)
		}
		return nil
	}

	var hdr [1 + 4]byte
	hdr[0] = markerLongString
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return amferrors.NewAMFError("encode.string.long.write.header", err)
	}
	if _, err := w.Write(b); err != nil {
		return amferrors.NewAMFError("encode.string.long.write.body", err)
	}
	return nil
}

// DecodeString reads an AMF0 String from r, accepting either the short
// (0x02) or long (0x0C) wire form.
// Error cases:
//   - Marker mismatch -> decode.string.marker
//   - Short reads -> decode.string.marker.read / decode.string.length.read / decode.string.read
func DecodeString(r io.Reader) (string, error) {
	var m [1]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return "", amferrors.NewAMFError("decode.string.marker.read", err)
	}
	switch m[0] {
	case markerString:
		var ln [2]byte
		if _, err := io.ReadFull(r, ln[:]); err != nil {
			return "", amferrors.NewAMFError("decode.string.length.read", err)
		}
		l := binary.BigEndian.Uint16(ln[:])
		if l == 0 {
			return "", nil
		}
		buf := make([]byte, l)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", amferrors.NewAMFError("decode.string.read", err)
		}
		return string(buf), nil
	case markerLongString:
		var ln [4]byte
		if _, err := io.ReadFull(r, ln[:]); err != nil {
			return "", amferrors.NewAMFError("decode.string.long.length.read", err)
		}
		l := binary.BigEndian.Uint32(ln[:])
		if l == 0 {
			return "", nil
		}
		buf := make([]byte, l)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", amferrors.NewAMFError("decode.string.long.read", err)
		}
		return string(buf), nil
	default:
		return "", amferrors.NewAMFError("decode.string.marker", fmt.Errorf("expected 0x%02x or 0x%02x got 0x%02x", markerString, markerLongString, m[0]))
	}
}
