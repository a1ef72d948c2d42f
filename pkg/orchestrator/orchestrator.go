// Package orchestrator sequences intent processing: profile lookup,
// authorization through the security pipeline, pluggable hooks, gateway
// execution, and best-effort audit logging of every phase transition.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vorion-labs/cognigate/pkg/gateway"
	"github.com/vorion-labs/cognigate/pkg/intent"
	"github.com/vorion-labs/cognigate/pkg/pipeline"
	"github.com/vorion-labs/cognigate/pkg/trustdyn"
)

const loggerErrBuffer = 64

// Config assembles an Orchestrator. Profiles, Evaluator, and Executor are
// required; the rest default sensibly.
type Config struct {
	Profiles  ProfileStore
	Evaluator Evaluator
	Executor  Executor
	// Logger is the audit sink; nil disables audit logging.
	Logger ProofLogger
	// Trust, when set, receives an outcome observation after every
	// execution attempt.
	Trust *trustdyn.Engine
	// Limits bound each execution; zero values fall back to the
	// gateway defaults.
	Limits gateway.ResourceLimits
}

// Orchestrator composes the trust engine, pipeline, and gateway into the
// intent-processing sequence. Safe for concurrent use; intents for
// different agents share no mutable state here.
type Orchestrator struct {
	cfg    Config
	tracer trace.Tracer
	log    *slog.Logger

	preAuthorize []Hook
	preExecute   []Hook
	postExecute  []Hook

	// loggerErrs observably collects swallowed audit-sink failures.
	loggerErrs chan error
}

// New validates the wiring. Registration of hooks happens after New and
// before serving.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Profiles == nil {
		return nil, fmt.Errorf("orchestrator: profile store is required")
	}
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("orchestrator: evaluator is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("orchestrator: executor is required")
	}
	return &Orchestrator{
		cfg:        cfg,
		tracer:     otel.Tracer("github.com/vorion-labs/cognigate/pkg/orchestrator"),
		log:        slog.Default().With("component", "orchestrator"),
		loggerErrs: make(chan error, loggerErrBuffer),
	}, nil
}

// LoggerFailures exposes swallowed audit-sink errors for observation.
// Reads are optional; the channel drops when full.
func (o *Orchestrator) LoggerFailures() <-chan error { return o.loggerErrs }

// ProcessIntent runs the full phase sequence and always returns a
// structured result. Callers branch on Result fields, never on errors.
func (o *Orchestrator) ProcessIntent(ctx context.Context, in *intent.Intent) *Result {
	start := time.Now()
	res := &Result{}
	defer func() {
		res.Timings.TotalDurationMs = msSince(start)
	}()

	if in == nil || in.IntentID == "" || in.AgentID == "" {
		res.Aborted = true
		res.AbortReason = "malformed intent"
		return res
	}
	res.IntentID = in.IntentID
	res.AgentID = in.AgentID

	ctx, span := o.tracer.Start(ctx, "orchestrator.process_intent",
		trace.WithAttributes(
			attribute.String("intent.id", in.IntentID),
			attribute.String("intent.agent_id", in.AgentID),
			attribute.String("intent.action_type", in.ActionType)))
	defer span.End()

	o.safeLog("intent_received", func() error { return o.logger().LogIntentReceived(ctx, in) })

	if hr := o.runHooks(ctx, "pre_authorize", o.preAuthorize, &HookContext{Intent: in}); hr.Decision == HookAbort {
		res.Aborted = true
		res.AbortReason = hr.Reason
		return res
	}

	profile, denial := o.lookupProfile(ctx, in, res)
	if denial != nil {
		res.Authorization = denial
		o.safeLog("decision_made", func() error { return o.logger().LogDecisionMade(ctx, in, denial) })
		return res
	}

	decision := o.authorize(ctx, in, profile, res)
	res.Authorization = decision
	o.safeLog("decision_made", func() error { return o.logger().LogDecisionMade(ctx, in, decision) })
	if !decision.Permitted {
		return res
	}

	if hr := o.runHooks(ctx, "pre_execute", o.preExecute, &HookContext{Intent: in, Decision: decision}); hr.Decision == HookAbort {
		res.Execution = &Execution{Aborted: true, AbortReason: hr.Reason}
		return res
	}

	o.execute(ctx, in, profile, decision, res)
	return res
}

// lookupProfile resolves the agent's trust profile. An unknown agent is an
// immediate denial with remediations; no further phases run.
func (o *Orchestrator) lookupProfile(ctx context.Context, in *intent.Intent, res *Result) (*Profile, *intent.Decision) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.profile_lookup")
	defer span.End()
	begin := time.Now()
	profile, err := o.cfg.Profiles.Get(ctx, in.AgentID)
	res.Timings.ProfileLookupMs = msSince(begin)
	if err != nil {
		return nil, &intent.Decision{
			DecisionID: intent.NewDecisionID(),
			IntentID:   in.IntentID,
			Permitted:  false,
			Action:     intent.ActionDeny,
			TrustBand:  intent.BandProbationary,
			Reason:     fmt.Sprintf("agent profile unavailable: %v", err),
			Remediations: []string{
				"register the agent before submitting intents",
			},
			DecidedAt: time.Now().UTC(),
		}
	}
	return profile, nil
}

// authorize combines the trust profile with the pipeline verdict into the
// single Decision for this intent. Expired intents are denied here.
func (o *Orchestrator) authorize(ctx context.Context, in *intent.Intent, profile *Profile, res *Result) *intent.Decision {
	ctx, span := o.tracer.Start(ctx, "orchestrator.authorize")
	defer span.End()
	begin := time.Now()
	defer func() { res.Timings.AuthorizationMs = msSince(begin) }()

	band := intent.BandFromScore(profile.Score)
	now := time.Now().UTC()

	if in.Expired(now) {
		return &intent.Decision{
			DecisionID:   intent.NewDecisionID(),
			IntentID:     in.IntentID,
			Permitted:    false,
			Action:       intent.ActionDeny,
			TrustBand:    band,
			Reason:       "intent expired before authorization",
			Remediations: []string{"resubmit the intent with a fresh expiry"},
			DecidedAt:    now,
		}
	}

	eval := o.cfg.Evaluator.Execute(ctx, &pipeline.Input{
		Intent:     in,
		TrustScore: profile.Score,
		TrustBand:  band,
		Ceiling:    profile.Ceiling,
	})
	res.Evaluation = eval
	span.SetAttributes(
		attribute.String("decision.action", string(eval.Decision)),
		attribute.Float64("decision.confidence", eval.Confidence))

	d := &intent.Decision{
		DecisionID: intent.NewDecisionID(),
		IntentID:   in.IntentID,
		Permitted:  permits(eval.Decision),
		Action:     eval.Decision,
		TrustBand:  band,
		Reason:     eval.Explanation,
		DecidedAt:  now,
	}
	for _, m := range eval.Modifications {
		if m.Reason != "" {
			d.Remediations = append(d.Remediations, m.Reason)
		}
	}
	if eval.Decision == intent.ActionMonitor {
		d.Constraints = map[string]any{"monitoring_required": true}
	}
	if eval.Decision == intent.ActionLimit {
		d.Remediations = append(d.Remediations, "retry after the rate-limit window resets")
	}
	return d
}

// permits maps the aggregate control action to the permitted flag. Monitor
// executes under observation; limit and above do not execute.
func permits(a intent.ControlAction) bool {
	return a == intent.ActionAllow || a == intent.ActionMonitor
}

// execute invokes the gateway and records the terminal outcome. The gate
// decision handed to the executor is always an explicit allow: the
// permitted/monitor mapping is the orchestrator's, the gateway only ever
// sees allow.
func (o *Orchestrator) execute(ctx context.Context, in *intent.Intent, profile *Profile, decision *intent.Decision, res *Result) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.execute")
	defer span.End()
	begin := time.Now()
	defer func() { res.Timings.ExecutionMs = msSince(begin) }()

	o.safeLog("execution_started", func() error { return o.logger().LogExecutionStarted(ctx, in) })

	gate := *decision
	gate.Action = intent.ActionAllow
	execRes := o.cfg.Executor.Execute(ctx, gateway.ExecRequest{
		Intent:   in,
		Decision: &gate,
		Limits:   o.cfg.Limits,
	})

	exec := &Execution{Invoked: true, Result: execRes}
	res.Execution = exec

	if execRes == nil || !execRes.Success {
		reason := "executor returned no result"
		if execRes != nil && execRes.Err != nil {
			reason = execRes.Err.Error()
			exec.Retryable = retryable(execRes.Err)
		}
		span.SetAttributes(attribute.Bool("execution.retryable", exec.Retryable))
		o.safeLog("execution_failed", func() error { return o.logger().LogExecutionFailed(ctx, in, reason) })
		o.recordOutcome(ctx, in.AgentID, profile, false)
		return
	}

	if hr := o.runHooks(ctx, "post_execute", o.postExecute,
		&HookContext{Intent: in, Decision: decision, ExecResult: execRes}); hr.Decision == HookAbort {
		// Execution already happened; the abort only flags the result.
		exec.Aborted = true
		exec.AbortReason = hr.Reason
	}

	o.safeLog("execution_completed", func() error { return o.logger().LogExecutionCompleted(ctx, in, execRes.Outputs) })
	o.recordOutcome(ctx, in.AgentID, profile, true)
	res.Success = !exec.Aborted
}

// recordOutcome feeds the execution outcome back into trust dynamics and
// writes the new score through, when both collaborators are wired.
// Best-effort on both counts.
func (o *Orchestrator) recordOutcome(ctx context.Context, agentID string, profile *Profile, success bool) {
	if o.cfg.Trust == nil {
		return
	}
	upd, err := o.cfg.Trust.UpdateTrust(agentID, trustdyn.UpdateRequest{
		CurrentScore: profile.Score,
		Success:      success,
		Ceiling:      profile.Ceiling,
	})
	if err != nil {
		o.log.Warn("trust update failed",
			slog.String("agent_id", agentID), slog.String("error", err.Error()))
		return
	}
	if w, ok := o.cfg.Profiles.(ScoreWriter); ok && upd.Delta != 0 {
		if err := w.UpdateScore(ctx, agentID, upd.NewScore); err != nil {
			o.log.Warn("score write-back failed",
				slog.String("agent_id", agentID), slog.String("error", err.Error()))
		}
	}
}

// retryable classifies an execution error by signature: timeouts and
// unavailability are worth retrying, everything else is not.
func retryable(e *gateway.ExecError) bool {
	if e == nil {
		return false
	}
	if e.Retryable() {
		return true
	}
	msg := strings.ToLower(e.Message)
	for _, sig := range []string{"timeout", "timed out", "unavailable", "connection reset", "temporarily"} {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

type nopLogger struct{}

func (nopLogger) LogIntentReceived(context.Context, *intent.Intent) error { return nil }
func (nopLogger) LogDecisionMade(context.Context, *intent.Intent, *intent.Decision) error {
	return nil
}
func (nopLogger) LogExecutionStarted(context.Context, *intent.Intent) error { return nil }
func (nopLogger) LogExecutionCompleted(context.Context, *intent.Intent, map[string]any) error {
	return nil
}
func (nopLogger) LogExecutionFailed(context.Context, *intent.Intent, string) error { return nil }

func (o *Orchestrator) logger() ProofLogger {
	if o.cfg.Logger != nil {
		return o.cfg.Logger
	}
	return nopLogger{}
}

// safeLog runs one audit-sink call, absorbing errors and panics. Failures
// land on the observation channel when there is room and are dropped
// otherwise; they never interrupt intent processing.
func (o *Orchestrator) safeLog(phase string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			o.reportLoggerFailure(phase, fmt.Errorf("audit logger panicked: %v", r))
		}
	}()
	if err := fn(); err != nil {
		o.reportLoggerFailure(phase, err)
	}
}

func (o *Orchestrator) reportLoggerFailure(phase string, err error) {
	o.log.Warn("audit log call failed",
		slog.String("phase", phase), slog.String("error", err.Error()))
	select {
	case o.loggerErrs <- fmt.Errorf("%s: %w", phase, err):
	default:
	}
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t)) / float64(time.Millisecond)
}
