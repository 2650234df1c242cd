package hooks

import "context"

// Hook is a handler invoked when a registered EventType fires.
type Hook interface {
	Execute(ctx context.Context, event Event) error
	Type() string
	ID() string
}

// HookConfig configures the HookManager's dispatch behavior.
type HookConfig struct {
	// Timeout bounds a single hook execution, parsed with time.ParseDuration
	// (e.g. "30s"). Invalid or empty falls back to a 5s default.
	Timeout string `json:"timeout"`

	// Concurrency caps how many hooks run at once across all event types.
	Concurrency int `json:"concurrency"`

	// StdioFormat enables structured stdout/stderr hook output: "json",
	// "env", or "" to disable.
	StdioFormat string `json:"stdio_format"`
}

// DefaultHookConfig returns sensible defaults for a freshly started server.
func DefaultHookConfig() HookConfig {
	return HookConfig{
		Timeout:     "30s",
		Concurrency: 10,
	}
}
