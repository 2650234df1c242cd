package handshake

// Server-side RTMP simple handshake: read C0+C1, send S0+S1+S2, read C2.
// Version 0x03 (simple handshake) only.

import (
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"time"

	rerrors "github.com/alxayo/rtmp-relay/internal/errors"
	"github.com/alxayo/rtmp-relay/internal/logger"
)

const (
	serverReadTimeout  = 5 * time.Second
	serverWriteTimeout = 5 * time.Second
)

// ServerHandshake runs the server side of the handshake on conn. Blocking;
// on success conn is positioned right after the C2 read, ready for chunk
// stream processing. Returns a *HandshakeError or *TimeoutError on failure
// (IsProtocolError / IsTimeout classify them).
func ServerHandshake(conn net.Conn) error {
	if conn == nil {
		return rerrors.NewHandshakeError("init", fmt.Errorf("nil conn"))
	}
	log := logger.Logger().With("phase", "handshake", "side", "server")
	h := New()

	c1, err := readC0C1(conn, h)
	if err != nil {
		return err
	}

	s1, err := buildS1(h)
	if err != nil {
		return err
	}
	if err := sendS0S1S2(conn, h, s1); err != nil {
		return err
	}

	c2, err := readC2(conn, h)
	if err != nil {
		return err
	}
	if !bytesEqual(c2, s1[:]) {
		log.Warn("C2 echo mismatch", "expected_echo_len", len(s1), "got_len", len(c2))
	}
	_ = c1

	if err := h.Complete(); err != nil {
		return err
	}

	// Clearing deadlines prevents a spurious "i/o timeout" on the first chunk
	// read when a client delays its connect command after the handshake
	// (observed with OBS Studio).
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		log.Warn("failed to clear read deadline", "error", err)
	}
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		log.Warn("failed to clear write deadline", "error", err)
	}

	log.Info("handshake completed", "c1_ts", h.C1Timestamp(), "s1_ts", h.S1Timestamp())
	return nil
}

// readC0C1 reads the 1537-byte C0+C1 burst and validates the version byte.
func readC0C1(conn net.Conn, h *Handshake) ([]byte, error) {
	if err := setReadDeadline(conn, serverReadTimeout); err != nil {
		return nil, err
	}
	buf := make([]byte, 1+PacketSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		if isTimeoutErr(err) {
			return nil, rerrors.NewTimeoutError("read C0+C1", serverReadTimeout, err)
		}
		return nil, rerrors.NewHandshakeError("read C0+C1", err)
	}
	c0, c1 := buf[0], buf[1:]
	if err := h.AcceptC0C1(c0, c1); err != nil {
		return nil, err
	}
	if c0 != Version {
		return nil, rerrors.NewHandshakeError("validate version", fmt.Errorf("unsupported version 0x%02x", c0))
	}
	return c1, nil
}

// buildS1 fills a timestamp + zero + random[1528] S1 packet and feeds it to
// the FSM, which advances to SentS0S1S2.
func buildS1(h *Handshake) ([PacketSize]byte, error) {
	var s1 [PacketSize]byte
	ts := uint32(time.Now().UnixMilli() & 0xFFFFFFFF)
	s1[0] = byte(ts >> 24)
	s1[1] = byte(ts >> 16)
	s1[2] = byte(ts >> 8)
	s1[3] = byte(ts)
	if _, err := rand.Read(s1[randomFieldOffset:]); err != nil {
		return s1, rerrors.NewHandshakeError("rand S1", err)
	}
	if err := h.SetS1(s1[:]); err != nil {
		return s1, err
	}
	return s1, nil
}

// sendS0S1S2 writes the version byte, s1, and S2 (an echo of C1) as one
// contiguous write.
func sendS0S1S2(conn net.Conn, h *Handshake, s1 [PacketSize]byte) error {
	s2 := h.C1() // copy, safe to reuse
	out := make([]byte, 1+PacketSize+PacketSize)
	out[0] = Version
	copy(out[1:1+PacketSize], s1[:])
	copy(out[1+PacketSize:], s2)

	if err := setWriteDeadline(conn, serverWriteTimeout); err != nil {
		return err
	}
	if err := writeFull(conn, out); err != nil {
		if isTimeoutErr(err) {
			return rerrors.NewTimeoutError("write S0+S1+S2", serverWriteTimeout, err)
		}
		return rerrors.NewHandshakeError("write S0+S1+S2", err)
	}
	return nil
}

// readC2 reads the 1536-byte C2 packet and feeds it to the FSM.
func readC2(conn net.Conn, h *Handshake) ([]byte, error) {
	if err := setReadDeadline(conn, serverReadTimeout); err != nil {
		return nil, err
	}
	c2 := make([]byte, PacketSize)
	if _, err := io.ReadFull(conn, c2); err != nil {
		if isTimeoutErr(err) {
			return nil, rerrors.NewTimeoutError("read C2", serverReadTimeout, err)
		}
		return nil, rerrors.NewHandshakeError("read C2", err)
	}
	if err := h.AcceptC2(c2); err != nil {
		return nil, err
	}
	return c2, nil
}

func setReadDeadline(c net.Conn, d time.Duration) error {
	if err := c.SetReadDeadline(time.Now().Add(d)); err != nil {
		return rerrors.NewHandshakeError("set read deadline", err)
	}
	return nil
}

func setWriteDeadline(c net.Conn, d time.Duration) error {
	if err := c.SetWriteDeadline(time.Now().Add(d)); err != nil {
		return rerrors.NewHandshakeError("set write deadline", err)
	}
	return nil
}

// writeFull ensures the entire buffer is written, looping over short writes.
func writeFull(w io.Writer, b []byte) error {
	off := 0
	for off < len(b) {
		n, err := w.Write(b[off:])
		if err != nil {
			return err
		}
		off += n
	}
	return nil
}

// bytesEqual avoids importing "bytes" for a single Equal call.
func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// isTimeoutErr classifies a net.Error-with-Timeout() error so it can be
// wrapped as a TimeoutError instead of a generic HandshakeError.
func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	type to interface{ Timeout() bool }
	ne, ok := err.(to)
	return ok && ne.Timeout()
}
