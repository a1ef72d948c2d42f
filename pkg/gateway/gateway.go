// Package gateway executes approved intents behind a decision gate. A
// handler runs either directly under a timeout race (trusted, pre-vetted
// code) or inside a WASI isolation unit with a memory ceiling (registered
// WASM modules). Every in-flight execution is terminable by intent ID.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vorion-labs/cognigate/pkg/intent"
)

// DefaultHandlerKey is used when an action type has no dedicated handler.
const DefaultHandlerKey = "default"

// Handler executes one intent's action and returns its outputs.
type Handler func(ctx context.Context, in *intent.Intent) (map[string]any, error)

// ResourceLimits bound one execution.
type ResourceLimits struct {
	Timeout       time.Duration `json:"timeout"`
	MemoryLimitMB int64         `json:"memory_limit_mb"`
}

// DefaultLimits is applied when the request carries none.
var DefaultLimits = ResourceLimits{Timeout: 30 * time.Second, MemoryLimitMB: 128}

// ResourceUsage reports what one execution consumed. Network and
// filesystem counters are placeholders pending real instrumentation.
type ResourceUsage struct {
	MemoryPeakMB    float64 `json:"memory_peak_mb"`
	CPUTimeMs       int64   `json:"cpu_time_ms"`
	WallTimeMs      int64   `json:"wall_time_ms"`
	NetworkRequests int     `json:"network_requests"`
	FileSystemOps   int     `json:"file_system_ops"`
}

// ExecRequest carries everything the gateway needs for one execution.
type ExecRequest struct {
	Intent   *intent.Intent
	Decision *intent.Decision
	Limits   ResourceLimits
}

// ExecResult is the terminal outcome of one execution attempt.
type ExecResult struct {
	IntentID      string         `json:"intent_id"`
	Success       bool           `json:"success"`
	Outputs       map[string]any `json:"outputs,omitempty"`
	ResourceUsage ResourceUsage  `json:"resource_usage"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   time.Time      `json:"completed_at"`
	Err           *ExecError     `json:"error,omitempty"`
}

type activeExec struct {
	agentID    string
	actionType string
	startedAt  time.Time
	cancel     context.CancelFunc
	terminated atomic.Bool
}

// ActiveExecution is the introspection view of one in-flight execution.
type ActiveExecution struct {
	IntentID   string    `json:"intent_id"`
	AgentID    string    `json:"agent_id"`
	ActionType string    `json:"action_type"`
	StartedAt  time.Time `json:"started_at"`
}

// Gateway dispatches approved intents to registered handlers. The dispatch
// table is closed at startup; registration after serving is a bug.
type Gateway struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	modules  map[string][]byte // actionType -> WASM module bytes
	active   map[string]*activeExec
	sandbox  *sandboxRunner
	log      *slog.Logger
}

func New() *Gateway {
	return &Gateway{
		handlers: make(map[string]Handler),
		modules:  make(map[string][]byte),
		active:   make(map[string]*activeExec),
		log:      slog.Default().With("component", "gateway"),
	}
}

// RegisterHandler maps an action type to a directly executed handler.
// Duplicate registration is an error: the dispatch table is closed.
func (g *Gateway) RegisterHandler(actionType string, h Handler) error {
	if actionType == "" {
		return fmt.Errorf("gateway: empty action type")
	}
	if h == nil {
		return fmt.Errorf("gateway: nil handler for %q", actionType)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, dup := g.handlers[actionType]; dup {
		return fmt.Errorf("gateway: handler already registered for %q", actionType)
	}
	if _, dup := g.modules[actionType]; dup {
		return fmt.Errorf("gateway: sandbox module already registered for %q", actionType)
	}
	g.handlers[actionType] = h
	return nil
}

// RegisterModule maps an action type to a WASM module executed in the WASI
// sandbox. The module reads the intent JSON on stdin and writes its outputs
// JSON to stdout.
func (g *Gateway) RegisterModule(actionType string, wasm []byte) error {
	if actionType == "" {
		return fmt.Errorf("gateway: empty action type")
	}
	if len(wasm) == 0 {
		return fmt.Errorf("gateway: empty module for %q", actionType)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, dup := g.modules[actionType]; dup {
		return fmt.Errorf("gateway: sandbox module already registered for %q", actionType)
	}
	if _, dup := g.handlers[actionType]; dup {
		return fmt.Errorf("gateway: handler already registered for %q", actionType)
	}
	g.modules[actionType] = wasm
	return nil
}

// Execute runs the approved intent and always returns a structured result;
// failures never escape as errors.
func (g *Gateway) Execute(ctx context.Context, req ExecRequest) *ExecResult {
	started := time.Now()
	res := &ExecResult{StartedAt: started}
	if req.Intent != nil {
		res.IntentID = req.Intent.IntentID
	}

	fail := func(e *ExecError) *ExecResult {
		res.Err = e
		res.CompletedAt = time.Now()
		res.ResourceUsage.WallTimeMs = res.CompletedAt.Sub(started).Milliseconds()
		return res
	}

	if req.Intent == nil {
		return fail(execErrorf(ErrCodeHandler, "nil intent"))
	}
	// The gate: only an explicit allow reaches a handler.
	if req.Decision == nil || req.Decision.Action != intent.ActionAllow {
		action := "<nil>"
		if req.Decision != nil {
			action = string(req.Decision.Action)
		}
		return fail(execErrorf(ErrCodeDecisionNotAllow, "decision action is %s, not allow", action))
	}

	limits := req.Limits
	if limits.Timeout <= 0 {
		limits.Timeout = DefaultLimits.Timeout
	}
	if limits.MemoryLimitMB <= 0 {
		limits.MemoryLimitMB = DefaultLimits.MemoryLimitMB
	}

	g.mu.RLock()
	handler, hasHandler := g.handlers[req.Intent.ActionType]
	wasm, hasModule := g.modules[req.Intent.ActionType]
	if !hasHandler && !hasModule {
		handler, hasHandler = g.handlers[DefaultHandlerKey]
	}
	g.mu.RUnlock()
	if !hasHandler && !hasModule {
		return fail(execErrorf(ErrCodeNoHandler, "no handler for action type %q", req.Intent.ActionType))
	}

	execCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()
	entry := &activeExec{
		agentID:    req.Intent.AgentID,
		actionType: req.Intent.ActionType,
		startedAt:  started,
		cancel:     cancel,
	}
	g.mu.Lock()
	g.active[req.Intent.IntentID] = entry
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.active, req.Intent.IntentID)
		g.mu.Unlock()
	}()

	var outputs map[string]any
	var execErr *ExecError
	if hasModule {
		outputs, execErr = g.runSandboxed(execCtx, wasm, req.Intent, limits)
	} else {
		outputs, execErr = g.runDirect(execCtx, handler, req.Intent)
	}

	res.CompletedAt = time.Now()
	res.ResourceUsage.WallTimeMs = res.CompletedAt.Sub(started).Milliseconds()
	res.ResourceUsage.CPUTimeMs = res.ResourceUsage.WallTimeMs

	if execErr != nil {
		// Termination wins over the timeout it caused.
		if entry.terminated.Load() {
			execErr = execErrorf(ErrCodeTerminated, "execution terminated for intent %s", req.Intent.IntentID)
		}
		res.Err = execErr
		return res
	}
	res.Success = true
	res.Outputs = outputs
	return res
}

// runDirect races the handler against the execution deadline. No isolation:
// direct handlers are trusted, pre-vetted code.
func (g *Gateway) runDirect(ctx context.Context, h Handler, in *intent.Intent) (map[string]any, *ExecError) {
	type outcome struct {
		outputs map[string]any
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()
		out, err := h(ctx, in)
		done <- outcome{outputs: out, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, execErrorf(ErrCodeHandler, "handler failed: %v", out.err)
		}
		return out.outputs, nil
	case <-ctx.Done():
		return nil, execErrorf(ErrCodeTimeout, "execution exceeded deadline: %v", ctx.Err())
	}
}

// Terminate is the kill switch: it aborts the in-flight execution for the
// intent and forces the isolation unit down. Returns false when nothing
// matching is active. Safe to call repeatedly.
func (g *Gateway) Terminate(intentID string) bool {
	g.mu.RLock()
	entry, ok := g.active[intentID]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	entry.terminated.Store(true)
	entry.cancel()
	g.log.Warn("execution terminated", slog.String("intent_id", intentID))
	return true
}

// IsExecuting reports whether the intent has an in-flight execution.
func (g *Gateway) IsExecuting(intentID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.active[intentID]
	return ok
}

// ActiveExecutions snapshots every in-flight execution.
func (g *Gateway) ActiveExecutions() []ActiveExecution {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]ActiveExecution, 0, len(g.active))
	for id, e := range g.active {
		out = append(out, ActiveExecution{
			IntentID:   id,
			AgentID:    e.agentID,
			ActionType: e.actionType,
			StartedAt:  e.startedAt,
		})
	}
	return out
}

// Close shuts the sandbox runtime down, if one was ever started.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sandbox != nil {
		err := g.sandbox.close(ctx)
		g.sandbox = nil
		return err
	}
	return nil
}
