package layers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vorion-labs/cognigate/pkg/intent"
	"github.com/vorion-labs/cognigate/pkg/pipeline"
)

// SchemaLayer validates the submitted intent document against the compiled
// intent JSON Schema. A malformed document is denied outright; nothing
// downstream should see it.
type SchemaLayer struct {
	validator *intent.Validator
}

func NewSchemaLayer() (*SchemaLayer, error) {
	v, err := intent.NewValidator()
	if err != nil {
		return nil, err
	}
	return &SchemaLayer{validator: v}, nil
}

func (l *SchemaLayer) Config() pipeline.LayerConfig {
	return pipeline.LayerConfig{
		ID:            "schema",
		Name:          "Intent Schema Validation",
		Tier:          pipeline.TierPreFlight,
		PrimaryThreat: "malformed_input",
		FailMode:      pipeline.FailBlock,
		Required:      true,
		Timeout:       100 * time.Millisecond,
	}
}

func (l *SchemaLayer) ValidateInput(in *pipeline.Input) error {
	return requireIntent(in)
}

func (l *SchemaLayer) Execute(_ context.Context, in *pipeline.Input) (*pipeline.LayerResult, error) {
	doc := any(in.Document)
	if in.Document == nil {
		// No raw form captured; validate the generic projection of the
		// typed intent instead.
		raw, err := json.Marshal(in.Intent)
		if err != nil {
			return nil, fmt.Errorf("marshal intent: %w", err)
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("reproject intent: %w", err)
		}
	}

	if err := l.validator.Validate(doc); err != nil {
		return &pipeline.LayerResult{
			Passed:     false,
			Action:     intent.ActionDeny,
			Confidence: 1.0,
			RiskLevel:  pipeline.SeverityHigh,
			Findings: []pipeline.Finding{{
				LayerID:  "schema",
				Code:     "schema_violation",
				Severity: pipeline.SeverityHigh,
				Message:  err.Error(),
			}},
		}, nil
	}
	return &pipeline.LayerResult{Passed: true, Action: intent.ActionAllow, Confidence: 1.0}, nil
}

func (l *SchemaLayer) HealthCheck(context.Context) pipeline.HealthStatus {
	return pipeline.HealthStatus{Healthy: true}
}

func (l *SchemaLayer) Reset() {}
