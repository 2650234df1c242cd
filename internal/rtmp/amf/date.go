package amf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	amferrors "github.com/alxayo/rtmp-relay/internal/errors"
)

// markerDate is the AMF0 type marker for Date (0x0B).
const markerDate = 0x0B

// Date is the Go representation of an AMF0 Date value: milliseconds since
// the Unix epoch (UTC) plus a timezone offset in minutes that the wire
// format carries but spec.md marks semantically ignored.
type Date struct {
	MillisUTC    float64
	TZOffsetMins int16
}

// Time converts d to a time.Time in UTC, discarding the ignored offset.
func (d Date) Time() time.Time {
	return time.UnixMilli(int64(d.MillisUTC)).UTC()
}

// EncodeDate writes an AMF0 Date value: 0x0B | 8-byte double milliseconds |
// 2-byte signed big-endian timezone offset.
func EncodeDate(w io.Writer, d Date) error {
	var buf [1 + 8 + 2]byte
	buf[0] = markerDate
	binary.BigEndian.PutUint64(buf[1:9], math.Float64bits(d.MillisUTC))
	binary.BigEndian.PutUint16(buf[9:11], uint16(d.TZOffsetMins))
	if _, err := w.Write(buf[:]); err != nil {
		return amferrors.NewAMFError("encode.date.write", err)
	}
	return nil
}

// DecodeDate reads an AMF0 Date value from r. The 8 milliseconds bytes are
// read as a straightforward big-endian uint64 and bitcast to float64 via
// math.Float64frombits (the spec's resolution of the source's decoder bug).
func DecodeDate(r io.Reader) (Date, error) {
	var m [1]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return Date{}, amferrors.NewAMFError("decode.date.marker.read", err)
	}
	if m[0] != markerDate {
		return Date{}, amferrors.NewAMFError("decode.date.marker", fmt.Errorf("expected 0x%02x got 0x%02x", markerDate, m[0]))
	}
	var body [8 + 2]byte
	if _, err := io.ReadFull(r, body[:]); err != nil {
		return Date{}, amferrors.NewAMFError("decode.date.body.read", err)
	}
	millis := math.Float64frombits(binary.BigEndian.Uint64(body[0:8]))
	offset := int16(binary.BigEndian.Uint16(body[8:10]))
	return Date{MillisUTC: millis, TZOffsetMins: offset}, nil
}
