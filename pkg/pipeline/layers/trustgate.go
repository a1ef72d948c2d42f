package layers

import (
	"context"
	"fmt"
	"time"

	"github.com/vorion-labs/cognigate/pkg/intent"
	"github.com/vorion-labs/cognigate/pkg/pipeline"
)

// Minimum trust band required per data sensitivity.
var sensitivityFloor = map[intent.DataSensitivity]intent.TrustBand{
	intent.SensitivityPublic:       intent.BandProbationary,
	intent.SensitivityInternal:     intent.BandProvisional,
	intent.SensitivityConfidential: intent.BandTrusted,
	intent.SensitivityRestricted:   intent.BandExemplary,
}

// TrustGateLayer denies intents whose agent sits below the trust band its
// action demands. Irreversible actions always require at least the trusted
// band, regardless of data sensitivity.
type TrustGateLayer struct{}

func NewTrustGateLayer() *TrustGateLayer { return &TrustGateLayer{} }

func (l *TrustGateLayer) Config() pipeline.LayerConfig {
	return pipeline.LayerConfig{
		ID:            "trust_gate",
		Name:          "Trust Band Gate",
		Tier:          pipeline.TierPolicy,
		PrimaryThreat: "capability_overreach",
		FailMode:      pipeline.FailBlock,
		Required:      true,
		Timeout:       50 * time.Millisecond,
	}
}

func (l *TrustGateLayer) ValidateInput(in *pipeline.Input) error {
	return requireIntent(in)
}

func (l *TrustGateLayer) Execute(_ context.Context, in *pipeline.Input) (*pipeline.LayerResult, error) {
	required, ok := sensitivityFloor[in.Intent.DataSensitivity]
	if !ok {
		// Unknown sensitivity is treated as the most restricted class.
		required = intent.BandExemplary
	}
	if in.Intent.Reversibility == intent.Irreversible && !required.AtLeast(intent.BandTrusted) {
		required = intent.BandTrusted
	}

	if !in.TrustBand.AtLeast(required) {
		return &pipeline.LayerResult{
			Passed:     false,
			Action:     intent.ActionDeny,
			Confidence: 1.0,
			RiskLevel:  pipeline.SeverityHigh,
			Findings: []pipeline.Finding{{
				LayerID:  "trust_gate",
				Code:     "insufficient_trust_band",
				Severity: pipeline.SeverityHigh,
				Message: fmt.Sprintf("action requires band %s, agent is %s (score %.1f)",
					required, in.TrustBand, in.TrustScore),
				Metadata: map[string]any{
					"required_band":  string(required),
					"current_band":   string(in.TrustBand),
					"required_score": required.MinScore(),
				},
			}},
			Modifications: []pipeline.Modification{{
				LayerID: "trust_gate",
				Field:   "remediation",
				Value:   "increase trust through supervised lower-sensitivity operations",
				Reason:  "trust band below action floor",
			}},
		}, nil
	}
	return &pipeline.LayerResult{Passed: true, Action: intent.ActionAllow, Confidence: 1.0}, nil
}

func (l *TrustGateLayer) HealthCheck(context.Context) pipeline.HealthStatus {
	return pipeline.HealthStatus{Healthy: true}
}

func (l *TrustGateLayer) Reset() {}
