package orchestrator

import (
	"context"
	"errors"

	"github.com/vorion-labs/cognigate/pkg/gateway"
	"github.com/vorion-labs/cognigate/pkg/intent"
	"github.com/vorion-labs/cognigate/pkg/pipeline"
)

// ErrProfileNotFound is returned by ProfileStore implementations when the
// agent has never been registered.
var ErrProfileNotFound = errors.New("orchestrator: agent profile not found")

// Profile is the trust snapshot used for authorization.
type Profile struct {
	AgentID string  `json:"agent_id"`
	Score   float64 `json:"score"`
	Ceiling float64 `json:"ceiling"`
}

// ProfileStore supplies agent trust profiles. Implementations that also
// provide UpdateScore(ctx, agentID, score) receive best-effort score
// write-back after each execution outcome.
type ProfileStore interface {
	Get(ctx context.Context, agentID string) (*Profile, error)
}

// ScoreWriter is the optional write-back half of a profile store.
type ScoreWriter interface {
	UpdateScore(ctx context.Context, agentID string, score float64) error
}

// ProofLogger is the audit sink contract. Every call is best-effort: the
// orchestrator absorbs logger failures and panics, they never interrupt
// intent processing.
type ProofLogger interface {
	LogIntentReceived(ctx context.Context, in *intent.Intent) error
	LogDecisionMade(ctx context.Context, in *intent.Intent, d *intent.Decision) error
	LogExecutionStarted(ctx context.Context, in *intent.Intent) error
	LogExecutionCompleted(ctx context.Context, in *intent.Intent, outputs map[string]any) error
	LogExecutionFailed(ctx context.Context, in *intent.Intent, reason string) error
}

// Evaluator produces the pipeline verdict for one intent. *pipeline.Pipeline
// satisfies it.
type Evaluator interface {
	Execute(ctx context.Context, in *pipeline.Input) *pipeline.Result
}

// Executor runs an approved intent. *gateway.Gateway satisfies it.
type Executor interface {
	Execute(ctx context.Context, req gateway.ExecRequest) *gateway.ExecResult
}

// Timings reports per-phase wall time in milliseconds.
type Timings struct {
	ProfileLookupMs float64 `json:"profile_lookup_ms"`
	AuthorizationMs float64 `json:"authorization_ms"`
	ExecutionMs     float64 `json:"execution_ms"`
	TotalDurationMs float64 `json:"total_duration_ms"`
}

// Execution describes what happened after authorization. Absent entirely
// when processing never reached the execution stage.
type Execution struct {
	Invoked     bool                `json:"invoked"`
	Aborted     bool                `json:"aborted"`
	AbortReason string              `json:"abort_reason,omitempty"`
	Retryable   bool                `json:"retryable"`
	Result      *gateway.ExecResult `json:"result,omitempty"`
}

// Result is the structured outcome of one ProcessIntent call. Callers
// branch on data; no error escapes the orchestrator's public API.
type Result struct {
	IntentID      string           `json:"intent_id"`
	AgentID       string           `json:"agent_id"`
	Success       bool             `json:"success"`
	Aborted       bool             `json:"aborted,omitempty"`
	AbortReason   string           `json:"abort_reason,omitempty"`
	Authorization *intent.Decision `json:"authorization,omitempty"`
	Evaluation    *pipeline.Result `json:"evaluation,omitempty"`
	Execution     *Execution       `json:"execution,omitempty"`
	Timings       Timings          `json:"timings"`
}
