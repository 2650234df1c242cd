package handshake

// Client-side RTMP simple handshake: send C0+C1, read S0+S1 (+opportunistic
// S2), send C2, best-effort read S2. Mirrors server.go's deadline/error
// wrapping conventions.

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
	clientReadTimeout  = 5 * time.Second
	clientWriteTimeout = 5 * time.Second
)

// ClientHandshake runs the client side of the handshake on conn. On success
// conn is positioned ready for chunk stream negotiation.
func ClientHandshake(conn net.Conn) error {
	if conn == nil {
		return rerrors.NewHandshakeError("init", fmt.Errorf("nil conn"))
	}
	log := logger.Logger().With("phase", "handshake", "side", "client")

	c1, ts := buildC1()
	if err := sendC0C1(conn, c1); err != nil {
		return err
	}

	s1, err := readS0S1(conn)
	if err != nil {
		return err
	}

	// The server may have already flushed S2 right behind S1 (it sends
	// S0+S1+S2 as one write); a tiny opportunistic read here avoids
	// deferring that consumption until after we've sent C2, which would
	// otherwise require a second round trip on some transports.
	haveS2, s2 := tryReadS2Early(conn, c1)

	if err := sendC2(conn, s1); err != nil {
		return err
	}

	if !haveS2 {
		s2 = bestEffortReadS2(conn)
	}
	warnIfEchoMismatch(log, "S2", s2, c1[:])

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		log.Warn("failed to clear read deadline", "error", err)
	}
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		log.Warn("failed to clear write deadline", "error", err)
	}

	log.Info("handshake completed", "c1_ts", ts)
	return nil
}

// buildC1 fills timestamp(4) + zero(4) + random(1528) and returns the
// timestamp alongside it for the completion log line.
func buildC1() ([PacketSize]byte, uint32) {
	var c1 [PacketSize]byte
	ts := uint32(time.Now().UnixMilli() & 0xFFFFFFFF)
	c1[0] = byte(ts >> 24)
	c1[1] = byte(ts >> 16)
	c1[2] = byte(ts >> 8)
	c1[3] = byte(ts)
	_, _ = rand.Read(c1[randomFieldOffset:])
	return c1, ts
}

func sendC0C1(conn net.Conn, c1 [PacketSize]byte) error {
	buf := make([]byte, 1+PacketSize)
	buf[0] = Version
	copy(buf[1:], c1[:])
	if err := setWriteDeadline(conn, clientWriteTimeout); err != nil {
		return err
	}
	if err := writeFull(conn, buf); err != nil {
		if isTimeoutErr(err) {
			return rerrors.NewTimeoutError("write C0+C1", clientWriteTimeout, err)
		}
		return rerrors.NewHandshakeError("write C0+C1", err)
	}
	return nil
}

func readS0S1(conn net.Conn) ([]byte, error) {
	if err := setReadDeadline(conn, clientReadTimeout); err != nil {
		return nil, err
	}
	buf := make([]byte, 1+PacketSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		if isTimeoutErr(err) {
			return nil, rerrors.NewTimeoutError("read S0+S1", clientReadTimeout, err)
		}
		return nil, rerrors.NewHandshakeError("read S0+S1", err)
	}
	if buf[0] != Version {
		return nil, rerrors.NewHandshakeError("validate S0", fmt.Errorf("unsupported version 0x%02x", buf[0]))
	}
	return buf[1:], nil
}

// tryReadS2Early attempts a 1ms read for S2 right after S0+S1, returning
// (false, nil) without error if the server hasn't sent it yet.
func tryReadS2Early(conn net.Conn, c1 [PacketSize]byte) (bool, []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(1 * time.Millisecond))
	var buf [PacketSize]byte
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		return false, nil
	}
	return true, buf[:]
}

func sendC2(conn net.Conn, s1 []byte) error {
	c2 := make([]byte, PacketSize)
	copy(c2, s1)
	if err := setWriteDeadline(conn, clientWriteTimeout); err != nil {
		return err
	}
	if err := writeFull(conn, c2); err != nil {
		if isTimeoutErr(err) {
			return rerrors.NewTimeoutError("write C2", clientWriteTimeout, err)
		}
		return rerrors.NewHandshakeError("write C2", err)
	}
	return nil
}

// bestEffortReadS2 reads S2 after C2 has been sent, tolerating a server
// that never sends it (S2 validation is advisory, not required to complete
// the handshake).
func bestEffortReadS2(conn net.Conn) []byte {
	if err := setReadDeadline(conn, clientReadTimeout); err != nil {
		return nil
	}
	buf := make([]byte, PacketSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil
	}
	return buf
}

func warnIfEchoMismatch(log interface{ Warn(string, ...any) }, label string, got, want []byte) {
	if got == nil {
		return
	}
	if !bytesEqual(got, want) {
		log.Warn(label+" echo mismatch", "expected_echo_len", len(want))
	}
}
