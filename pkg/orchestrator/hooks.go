package orchestrator

import (
	"context"
	"log/slog"

	"github.com/vorion-labs/cognigate/pkg/gateway"
	"github.com/vorion-labs/cognigate/pkg/intent"
)

// HookDecision is a hook's verdict on whether processing continues.
type HookDecision string

const (
	HookContinue HookDecision = "continue"
	HookAbort    HookDecision = "abort"
)

// HookResult is the explicit outcome of one hook invocation. Aborts carry
// a reason; Continue never does.
type HookResult struct {
	Decision HookDecision
	Reason   string
}

// Continue lets processing proceed to the next hook or phase.
func Continue() HookResult { return HookResult{Decision: HookContinue} }

// Abort short-circuits processing with the given reason.
func Abort(reason string) HookResult {
	return HookResult{Decision: HookAbort, Reason: reason}
}

// HookContext carries what is known at the hook's point in the sequence.
// Decision is nil for pre-authorize hooks; ExecResult is set only for
// post-execute hooks.
type HookContext struct {
	Intent     *intent.Intent
	Decision   *intent.Decision
	ExecResult *gateway.ExecResult
}

// Hook observes or vetoes intent processing. Hooks run in registration
// order; a panicking hook counts as Continue and is logged.
type Hook func(ctx context.Context, hc *HookContext) HookResult

// OnPreAuthorize registers a hook that runs before authorization. An abort
// here yields success=false with no decision and no execution.
func (o *Orchestrator) OnPreAuthorize(h Hook) { o.preAuthorize = append(o.preAuthorize, h) }

// OnPreExecute registers a hook that runs after a permitting decision and
// before the executor. An abort here marks the execution aborted without
// failing authorization.
func (o *Orchestrator) OnPreExecute(h Hook) { o.preExecute = append(o.preExecute, h) }

// OnPostExecute registers a hook that runs after a successful execution.
func (o *Orchestrator) OnPostExecute(h Hook) { o.postExecute = append(o.postExecute, h) }

// runHooks invokes hooks in order and returns the first abort, if any.
func (o *Orchestrator) runHooks(ctx context.Context, stage string, hooks []Hook, hc *HookContext) (res HookResult) {
	res = Continue()
	for i, h := range hooks {
		r := o.runHook(ctx, stage, i, h, hc)
		if r.Decision == HookAbort {
			return r
		}
	}
	return res
}

func (o *Orchestrator) runHook(ctx context.Context, stage string, idx int, h Hook, hc *HookContext) (res HookResult) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("hook panicked",
				slog.String("stage", stage),
				slog.Int("index", idx),
				slog.Any("panic", r))
			res = Continue()
		}
	}()
	return h(ctx, hc)
}
