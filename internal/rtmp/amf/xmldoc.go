package amf

import (
	"encoding/binary"
	"fmt"
	"io"

	amferrors "github.com/alxayo/rtmp-relay/internal/errors"
)

// markerXMLDocument is the AMF0 type marker for XMLDocument (0x0F): a
// 32-bit-length-prefixed UTF-8 string, distinguished from a plain String by
// its own Go type so round-tripping preserves the marker.
const markerXMLDocument = 0x0F

// XMLDocument is the Go representation of an AMF0 XMLDocument value.
type XMLDocument string

// EncodeXMLDocument writes an AMF0 XMLDocument: 0x0F | 4-byte length | UTF-8 bytes.
func EncodeXMLDocument(w io.Writer, doc XMLDocument) error {
	b := []byte(doc)
	var hdr [1 + 4]byte
	hdr[0] = markerXMLDocument
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return amferrors.NewAMFError("encode.xmldoc.header.write", err)
	}
	if len(b) > 0 {
		if _, err := w.Write(b); err != nil {
			return amferrors.NewAMFError("encode.xmldoc.body.write", err)
		}
	}
	return nil
}

// DecodeXMLDocument reads an AMF0 XMLDocument value from r.
func DecodeXMLDocument(r io.Reader) (XMLDocument, error) {
	var m [1]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return "", amferrors.NewAMFError("decode.xmldoc.marker.read", err)
	}
	if m[0] != markerXMLDocument {
		return "", amferrors.NewAMFError("decode.xmldoc.marker", fmt.Errorf("expected 0x%02x got 0x%02x", markerXMLDocument, m[0]))
	}
	var ln [4]byte
	if _, err := io.ReadFull(r, ln[:]); err != nil {
		return "", amferrors.NewAMFError("decode.xmldoc.length.read", err)
	}
	l := binary.BigEndian.Uint32(ln[:])
	if l == 0 {
		return "", nil
	}
	buf := make([]byte, l)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", amferrors.NewAMFError("decode.xmldoc.read", err)
	}
	return XMLDocument(buf), nil
}
