// Package intent defines the core contract types exchanged between the
// security pipeline, the orchestrator, and the execution gateway: the Intent
// submitted by an agent, the Decision produced for it, and the control-action
// vocabulary used to express verdicts.
package intent

import (
	"time"

	"github.com/google/uuid"
)

// ControlAction is the pipeline's verdict vocabulary, ordered from least to
// most restrictive.
type ControlAction string

const (
	ActionAllow     ControlAction = "allow"
	ActionMonitor   ControlAction = "monitor"
	ActionLimit     ControlAction = "limit"
	ActionEscalate  ControlAction = "escalate"
	ActionDeny      ControlAction = "deny"
	ActionTerminate ControlAction = "terminate"
)

// restrictiveness ranks control actions; higher wins during aggregation.
var restrictiveness = map[ControlAction]int{
	ActionAllow:     0,
	ActionMonitor:   1,
	ActionLimit:     2,
	ActionEscalate:  3,
	ActionDeny:      4,
	ActionTerminate: 5,
}

// Restrictiveness returns the rank of a used for most-restrictive-wins
// aggregation. Unknown actions rank above terminate (fail closed).
func (a ControlAction) Restrictiveness() int {
	if r, ok := restrictiveness[a]; ok {
		return r
	}
	return len(restrictiveness)
}

// MoreRestrictive reports whether a is strictly more restrictive than b.
func (a ControlAction) MoreRestrictive(b ControlAction) bool {
	return a.Restrictiveness() > b.Restrictiveness()
}

// DataSensitivity classifies the data an intent touches.
type DataSensitivity string

const (
	SensitivityPublic       DataSensitivity = "public"
	SensitivityInternal     DataSensitivity = "internal"
	SensitivityConfidential DataSensitivity = "confidential"
	SensitivityRestricted   DataSensitivity = "restricted"
)

// Reversibility describes whether the proposed action can be undone.
type Reversibility string

const (
	Reversible   Reversibility = "reversible"
	Compensable  Reversibility = "compensable"
	Irreversible Reversibility = "irreversible"
)

// Intent is a structured request describing an agent's proposed action.
// Immutable once submitted.
type Intent struct {
	IntentID        string          `json:"intent_id"`
	AgentID         string          `json:"agent_id"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	Action          string          `json:"action"`
	ActionType      string          `json:"action_type"`
	ResourceScope   []string        `json:"resource_scope,omitempty"`
	DataSensitivity DataSensitivity `json:"data_sensitivity"`
	Reversibility   Reversibility   `json:"reversibility"`
	Context         map[string]any  `json:"context,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
}

// Expired reports whether the intent is past its expiry at the given time.
func (in *Intent) Expired(now time.Time) bool {
	return in.ExpiresAt != nil && now.After(*in.ExpiresAt)
}

// NewID returns a fresh intent identifier.
func NewID() string {
	return "int-" + uuid.New().String()
}

// Decision is the authorization verdict for one Intent. Produced once,
// never mutated after creation.
type Decision struct {
	DecisionID   string         `json:"decision_id"`
	IntentID     string         `json:"intent_id"`
	Permitted    bool           `json:"permitted"`
	Action       ControlAction  `json:"action"`
	TrustBand    TrustBand      `json:"trust_band"`
	Constraints  map[string]any `json:"constraints,omitempty"`
	Remediations []string       `json:"remediations,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	DecidedAt    time.Time      `json:"decided_at"`
}

// NewDecisionID returns a fresh decision identifier.
func NewDecisionID() string {
	return "dec-" + uuid.New().String()
}
