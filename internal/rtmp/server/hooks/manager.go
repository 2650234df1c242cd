// Package hooks implements the relay's event bus: lifecycle events (stream
// create/delete, connection accept/close, codec detection) fan out to
// registered shell/stdio/webhook sinks through a bounded worker pool.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultHookTimeout = 5 * time.Second

// HookManager registers hooks per EventType and dispatches TriggerEvent
// calls to them through a bounded-concurrency execution pool.
type HookManager struct {
	hooks     map[EventType][]Hook
	stdioHook *StdioHook
	mu        sync.RWMutex
	pool      *executionPool
	logger    *slog.Logger
	config    HookConfig
	timeout   time.Duration
}

// NewHookManager builds a HookManager from config, falling back to a
// default per-hook timeout when config.Timeout doesn't parse.
func NewHookManager(config HookConfig, logger *slog.Logger) *HookManager {
	if logger == nil {
		logger = slog.Default()
	}

	timeout := defaultHookTimeout
	if config.Timeout != "" {
		if d, err := time.ParseDuration(config.Timeout); err != nil {
			logger.Warn("invalid hook timeout, using default", "timeout", config.Timeout, "default", defaultHookTimeout, "error", err)
		} else {
			timeout = d
		}
	}

	manager := &HookManager{
		hooks:   make(map[EventType][]Hook),
		logger:  logger,
		config:  config,
		timeout: timeout,
		pool:    newExecutionPool(config.Concurrency, logger),
	}

	if config.StdioFormat != "" {
		manager.EnableStdioOutput(config.StdioFormat)
	}

	return manager
}

// RegisterHook registers hook to run whenever eventType fires.
func (hm *HookManager) RegisterHook(eventType EventType, hook Hook) error {
	if hook == nil {
		return fmt.Errorf("cannot register nil hook")
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.hooks[eventType] = append(hm.hooks[eventType], hook)
	hm.logger.Info("hook registered", "event_type", eventType, "hook_type", hook.Type(), "hook_id", hook.ID())
	return nil
}

// UnregisterHook removes a hook by ID from eventType's list, reporting
// whether a matching hook was found.
func (hm *HookManager) UnregisterHook(eventType EventType, hookID string) bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hooks := hm.hooks[eventType]
	for i, hook := range hooks {
		if hook.ID() == hookID {
			hm.hooks[eventType] = append(hooks[:i], hooks[i+1:]...)
			hm.logger.Info("hook unregistered", "event_type", eventType, "hook_id", hookID)
			return true
		}
	}
	return false
}

// TriggerEvent dispatches event to every hook registered for its type
// (plus the stdio hook, if enabled), each in its own pool-bounded
// goroutine with a per-hook timeout derived from config.Timeout.
func (hm *HookManager) TriggerEvent(ctx context.Context, event Event) {
	if hm == nil {
		return
	}

	hm.mu.RLock()
	hooks := make([]Hook, len(hm.hooks[event.Type]))
	copy(hooks, hm.hooks[event.Type])
	stdio := hm.stdioHook
	timeout := hm.timeout
	hm.mu.RUnlock()

	if stdio != nil {
		hooks = append(hooks, stdio)
	}
	if len(hooks) == 0 {
		return
	}

	hm.logger.Debug("triggering event", "event_type", event.Type, "hook_count", len(hooks), "event", event.String())
	for _, hook := range hooks {
		hm.pool.execute(ctx, hook, event, timeout)
	}
}

// EnableStdioOutput turns on structured stdout/stderr output in the given
// format ("json" or "env").
func (hm *HookManager) EnableStdioOutput(format string) error {
	if format != "json" && format != "env" {
		return fmt.Errorf("unsupported stdio format: %s", format)
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.stdioHook = NewStdioHook("stdio", format)
	hm.logger.Info("stdio output enabled", "format", format)
	return nil
}

// DisableStdioOutput turns off structured stdout/stderr output.
func (hm *HookManager) DisableStdioOutput() {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.stdioHook = nil
	hm.logger.Info("stdio output disabled")
}

// GetStats reports registration and pool-utilization counters for the
// status endpoint / operator diagnostics.
func (hm *HookManager) GetStats() map[string]interface{} {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	hooksByType := make(map[string]int, len(hm.hooks))
	total := 0
	for eventType, hooks := range hm.hooks {
		hooksByType[string(eventType)] = len(hooks)
		total += len(hooks)
	}

	return map[string]interface{}{
		"event_types":   len(hm.hooks),
		"total_hooks":   total,
		"hooks_by_type": hooksByType,
		"stdio_enabled": hm.stdioHook != nil,
		"pool_size":     hm.pool.size,
		"pool_active":   hm.pool.active,
		"timeout_ms":    hm.timeout.Milliseconds(),
	}
}

// Close drains the execution pool, waiting for in-flight hooks to finish.
func (hm *HookManager) Close() error {
	if hm.pool != nil {
		hm.pool.close()
	}
	hm.logger.Info("hook manager closed")
	return nil
}

// executionPool bounds how many hooks run concurrently, regardless of how
// many event types fire at once.
type executionPool struct {
	workers chan struct{}
	size    int
	active  int
	mu      sync.Mutex
	logger  *slog.Logger
}

func newExecutionPool(size int, logger *slog.Logger) *executionPool {
	if size <= 0 {
		size = 10
	}
	return &executionPool{
		workers: make(chan struct{}, size),
		size:    size,
		logger:  logger,
	}
}

// execute runs hook in its own goroutine, bounded by the pool's worker
// channel and cancelled after timeout if the hook hasn't returned.
func (ep *executionPool) execute(ctx context.Context, hook Hook, event Event, timeout time.Duration) {
	go func() {
		ep.workers <- struct{}{}
		defer func() { <-ep.workers }()

		ep.mu.Lock()
		ep.active++
		ep.mu.Unlock()
		defer func() {
			ep.mu.Lock()
			ep.active--
			ep.mu.Unlock()
		}()

		hookCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			hookCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		start := time.Now()
		err := hook.Execute(hookCtx, event)
		duration := time.Since(start)

		if err != nil {
			ep.logger.Error("hook execution failed",
				"hook_type", hook.Type(), "hook_id", hook.ID(),
				"event_type", event.Type, "duration_ms", duration.Milliseconds(), "error", err)
			return
		}
		ep.logger.Debug("hook executed",
			"hook_type", hook.Type(), "hook_id", hook.ID(),
			"event_type", event.Type, "duration_ms", duration.Milliseconds())
	}()
}

// close blocks until every in-flight execution has released its worker
// slot, by reacquiring all of them in turn.
func (ep *executionPool) close() {
	for i := 0; i < cap(ep.workers); i++ {
		ep.workers <- struct{}{}
	}
}
