package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ShellHook runs an external command, passing event data as environment
// variables (and optionally as JSON on stdin).
type ShellHook struct {
	id       string
	command  string
	args     []string
	env      []string
	passJSON bool
	timeout  time.Duration
}

// NewShellHook builds a hook that runs scriptPath via /bin/bash.
func NewShellHook(id, scriptPath string, timeout time.Duration) *ShellHook {
	return NewShellHookWithCommand(id, "/bin/bash", []string{scriptPath}, timeout)
}

// NewShellHookWithCommand builds a hook that runs an arbitrary command.
func NewShellHookWithCommand(id, command string, args []string, timeout time.Duration) *ShellHook {
	return &ShellHook{id: id, command: command, args: args, timeout: timeout}
}

// SetPassJSON enables writing the event as JSON on the child's stdin.
func (h *ShellHook) SetPassJSON(passJSON bool) *ShellHook {
	h.passJSON = passJSON
	return h
}

// SetEnv sets additional environment variables for the child process.
func (h *ShellHook) SetEnv(env []string) *ShellHook {
	h.env = env
	return h
}

// Execute runs the configured command with event data in its environment
// (and, if SetPassJSON(true), as JSON on stdin), bounded by h.timeout.
func (h *ShellHook) Execute(ctx context.Context, event Event) error {
	execCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, h.command, h.args...)
	cmd.Env = append(cmd.Env, h.eventEnv(event)...)

	if h.passJSON {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("shell hook %s: failed to create stdin pipe: %w", h.id, err)
		}
		go func() {
			defer stdin.Close()
			_ = json.NewEncoder(stdin).Encode(event) // best-effort; the script may ignore stdin
		}()
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("shell hook %s: execution failed: %w", h.id, err)
	}
	return nil
}

func (h *ShellHook) Type() string { return "shell" }
func (h *ShellHook) ID() string   { return h.id }

// eventEnv renders an Event as RTMP_-prefixed environment variable
// assignments, starting from the hook's own configured env.
func (h *ShellHook) eventEnv(event Event) []string {
	env := append([]string{}, h.env...)
	env = append(env,
		"RTMP_EVENT_TYPE="+string(event.Type),
		fmt.Sprintf("RTMP_TIMESTAMP=%d", event.Timestamp),
	)
	if event.ConnID != "" {
		env = append(env, "RTMP_CONN_ID="+event.ConnID)
	}
	if event.StreamKey != "" {
		env = append(env, "RTMP_STREAM_KEY="+event.StreamKey)
	}
	for key, value := range event.Data {
		env = append(env, "RTMP_"+strings.ToUpper(key)+"="+fmt.Sprintf("%v", value))
	}
	return env
}
