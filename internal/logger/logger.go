// Package logger owns the process-wide slog.Logger: level resolution from
// flag/env, runtime level changes, and the With* helpers that attach the
// relay's common structured fields (connection, stream, endpoint, message).
package logger

import (
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	envLogLevel  = "RTMP_LOG_LEVEL"
	envLogFormat = "RTMP_LOG_FORMAT"
)

var (
	atomicLevel = &dynamicLevel{v: int64(slog.LevelInfo)}

	global     *slog.Logger
	initOnce   sync.Once
	flagLevel  = flag.String("log.level", "", "log level (debug, info, warn, error)")
	flagFormat = flag.String("log.format", "", "log format (json, text)")
)

// dynamicLevel is an atomic slog.Leveler so SetLevel can change verbosity
// without rebuilding every handler that already holds a reference to it.
type dynamicLevel struct{ v int64 }

func (d *dynamicLevel) Level() slog.Level { return slog.Level(atomic.LoadInt64(&d.v)) }
func (d *dynamicLevel) set(l slog.Level)  { atomic.StoreInt64(&d.v, int64(l)) }

// Init lazily builds the global logger. Safe to call repeatedly; only the
// first call constructs it (SetLevel/UseWriter mutate state afterward).
func Init() {
	initOnce.Do(func() {
		atomicLevel.set(resolveLevel())
		global = slog.New(newHandler(os.Stdout, resolveFormat()))
	})
}

// newHandler builds the slog.Handler for format ("text" or anything else
// defaults to JSON), writing to w at the current atomic level.
func newHandler(w io.Writer, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: atomicLevel}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// resolveLevel applies (high to low precedence): -log.level flag,
// RTMP_LOG_LEVEL env var, default info.
func resolveLevel() slog.Level {
	if *flagLevel == "" {
		scanArgsForFlag("-log.level=", flagLevel)
	}
	if lvl, ok := parseLevel(strings.TrimSpace(*flagLevel)); ok {
		return lvl
	}
	if env := os.Getenv(envLogLevel); env != "" {
		if lvl, ok := parseLevel(env); ok {
			return lvl
		}
	}
	return slog.LevelInfo
}

// resolveFormat applies the same precedence as resolveLevel for log format.
func resolveFormat() string {
	if *flagFormat == "" {
		scanArgsForFlag("-log.format=", flagFormat)
	}
	f := strings.ToLower(strings.TrimSpace(*flagFormat))
	if f == "" {
		f = strings.ToLower(strings.TrimSpace(os.Getenv(envLogFormat)))
	}
	return f
}

// scanArgsForFlag reads os.Args looking for a "prefix=value" argument,
// covering the case where Init runs before flag.Parse has.
func scanArgsForFlag(prefix string, dst *string) {
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, prefix) {
			if parts := strings.SplitN(arg, "=", 2); len(parts) == 2 {
				*dst = parts[1]
			}
			return
		}
	}
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error", "err":
		return slog.LevelError, true
	}
	return 0, false
}

// SetLevel changes the runtime log level.
func SetLevel(level string) error {
	Init()
	lvl, ok := parseLevel(level)
	if !ok {
		return errors.New("invalid log level: " + level)
	}
	atomicLevel.set(lvl)
	return nil
}

// Level returns the current runtime level as a string.
func Level() string {
	Init()
	return atomicLevel.Level().String()
}

// UseWriter swaps the global logger's output writer (for tests), keeping
// the current level and format.
func UseWriter(w io.Writer) {
	Init()
	global = slog.New(newHandler(w, resolveFormat()))
}

// Logger returns the global logger, initializing it on first use.
func Logger() *slog.Logger { Init(); return global }

func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }
func Info(msg string, args ...any)  { Logger().Info(msg, args...) }
func Warn(msg string, args ...any)  { Logger().Warn(msg, args...) }
func Error(msg string, args ...any) { Logger().Error(msg, args...) }

// WithConn attaches connection identity fields.
func WithConn(l *slog.Logger, connID, peerAddr string) *slog.Logger {
	return l.With("conn_id", connID, "peer_addr", peerAddr)
}

// WithStream attaches the stream key.
func WithStream(l *slog.Logger, streamKey string) *slog.Logger {
	return l.With("stream_key", streamKey)
}

// WithEndpoint attaches a C6 endpoint descriptor's dial address and
// direction, for push/pull connection log lines.
func WithEndpoint(l *slog.Logger, addr, direction string) *slog.Logger {
	return l.With("endpoint_addr", addr, "endpoint_direction", direction)
}

// WithMessageMeta attaches RTMP message metadata fields. ts is the
// message's RTMP timestamp in milliseconds; if zero, the current wall
// clock (truncated to 32 bits) is used instead.
func WithMessageMeta(l *slog.Logger, msgType string, csid int, msid uint32, ts uint32) *slog.Logger {
	if ts == 0 {
		ts = uint32(time.Now().UnixMilli() & 0xFFFFFFFF)
	}
	return l.With("msg_type", msgType, "csid", csid, "msid", msid, "timestamp", ts)
}
