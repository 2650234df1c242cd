package amf

import (
	"fmt"
	"io"

	amferrors "github.com/alxayo/rtmp-relay/internal/errors"
)

// markerUndefined is the AMF0 type marker for Undefined (0x06).
const markerUndefined = 0x06

// Undefined is the Go representation of the AMF0 Undefined value, kept
// distinct from Go's nil (which represents AMF0 Null).
type Undefined struct{}

// EncodeUndefined writes the single-byte AMF0 Undefined marker to w.
func EncodeUndefined(w io.Writer) error {
	if _, err := w.Write([]byte{markerUndefined}); err != nil {
		return amferrors.NewAMFError("encode.undefined.write", err)
	}
	return nil
}

// DecodeUndefined reads and validates the AMF0 Undefined marker from r.
func DecodeUndefined(r io.Reader) (Undefined, error) {
	var m [1]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return Undefined{}, amferrors.NewAMFError("decode.undefined.marker.read", err)
	}
	if m[0] != markerUndefined {
		return Undefined{}, amferrors.NewAMFError("decode.undefined.marker", fmt.Errorf("expected 0x%02x got 0x%02x", markerUndefined, m[0]))
	}
	return Undefined{}, nil
}
