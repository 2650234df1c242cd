package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// StdioHook writes structured event data to stdout/stderr. Since the
// manager's execution pool can run it from several goroutines at once, a
// mutex serializes writes so two events' lines can't interleave.
type StdioHook struct {
	id     string
	format string // "json" or "env"
	output *os.File
	mu     sync.Mutex
}

// NewStdioHook builds a StdioHook writing to stderr (kept separate from
// normal server output on stdout).
func NewStdioHook(id, format string) *StdioHook {
	return &StdioHook{id: id, format: format, output: os.Stderr}
}

// SetOutput overrides the output destination (default: stderr).
func (h *StdioHook) SetOutput(output *os.File) *StdioHook {
	h.output = output
	return h
}

// Execute writes event in the configured format.
func (h *StdioHook) Execute(ctx context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.format {
	case "json":
		return h.outputJSON(event)
	case "env":
		return h.outputEnv(event)
	default:
		return fmt.Errorf("stdio hook %s: unsupported format: %s", h.id, h.format)
	}
}

func (h *StdioHook) Type() string { return "stdio" }
func (h *StdioHook) ID() string   { return h.id }

// outputJSON writes the event as one "RTMP_EVENT: {...}" JSON line.
func (h *StdioHook) outputJSON(event Event) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("stdio hook %s: failed to marshal JSON: %w", h.id, err)
	}
	if _, err := fmt.Fprintf(h.output, "RTMP_EVENT: %s\n", jsonData); err != nil {
		return fmt.Errorf("stdio hook %s: failed to write JSON: %w", h.id, err)
	}
	return nil
}

// outputEnv writes the event as a block of RTMP_-prefixed env assignments
// followed by a blank line.
func (h *StdioHook) outputEnv(event Event) error {
	lines := []string{
		"# RTMP Event: " + string(event.Type),
		"RTMP_EVENT_TYPE=" + string(event.Type),
		fmt.Sprintf("RTMP_TIMESTAMP=%d", event.Timestamp),
	}
	if event.ConnID != "" {
		lines = append(lines, "RTMP_CONN_ID="+event.ConnID)
	}
	if event.StreamKey != "" {
		lines = append(lines, "RTMP_STREAM_KEY="+event.StreamKey)
	}
	for key, value := range event.Data {
		lines = append(lines, "RTMP_"+strings.ToUpper(key)+"="+fmt.Sprintf("%v", value))
	}
	lines = append(lines, "")

	for _, line := range lines {
		if _, err := fmt.Fprintln(h.output, line); err != nil {
			return fmt.Errorf("stdio hook %s: failed to write env line: %w", h.id, err)
		}
	}
	return nil
}
