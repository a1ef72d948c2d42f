package proof

import (
	"context"

	"github.com/vorion-labs/cognigate/pkg/intent"
)

// Recorder adapts a Store to the orchestrator's audit-sink contract: one
// typed method per lifecycle phase, each appending a chained event.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Store exposes the underlying chain for lookup and verification.
func (r *Recorder) Store() Store { return r.store }

func (r *Recorder) LogIntentReceived(ctx context.Context, in *intent.Intent) error {
	_, err := r.store.Append(ctx, PhaseIntentReceived, in.IntentID, in.AgentID, in)
	return err
}

func (r *Recorder) LogDecisionMade(ctx context.Context, in *intent.Intent, d *intent.Decision) error {
	_, err := r.store.Append(ctx, PhaseDecisionMade, in.IntentID, in.AgentID, d)
	return err
}

func (r *Recorder) LogExecutionStarted(ctx context.Context, in *intent.Intent) error {
	payload := map[string]any{"action_type": in.ActionType}
	_, err := r.store.Append(ctx, PhaseExecutionStarted, in.IntentID, in.AgentID, payload)
	return err
}

func (r *Recorder) LogExecutionCompleted(ctx context.Context, in *intent.Intent, outputs map[string]any) error {
	payload := map[string]any{"outputs": outputs}
	_, err := r.store.Append(ctx, PhaseExecutionCompleted, in.IntentID, in.AgentID, payload)
	return err
}

func (r *Recorder) LogExecutionFailed(ctx context.Context, in *intent.Intent, reason string) error {
	payload := map[string]any{"reason": reason}
	_, err := r.store.Append(ctx, PhaseExecutionFailed, in.IntentID, in.AgentID, payload)
	return err
}
