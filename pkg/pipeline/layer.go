// Package pipeline runs an ordered set of independent security layers over a
// submitted intent and aggregates their verdicts into one control decision.
// Layer ordering is resolved once at construction via topological sort over
// declared dependencies; a cycle is a construction error, never a runtime one.
package pipeline

import (
	"context"
	"time"

	"github.com/vorion-labs/cognigate/pkg/intent"
)

// Tier groups layers by where they sit in the evaluation funnel.
type Tier string

const (
	TierPreFlight Tier = "pre_flight"
	TierAnalysis  Tier = "analysis"
	TierPolicy    Tier = "policy"
)

// FailMode controls how a layer's thrown error or timeout is translated
// into a synthesized result.
type FailMode string

const (
	FailBlock    FailMode = "block"    // synthesize deny
	FailEscalate FailMode = "escalate" // synthesize escalate
	FailDegrade  FailMode = "degrade"  // synthesize limit
	FailWarn     FailMode = "warn"     // synthesize monitor, still counts as passed
	FailLogOnly  FailMode = "log_only" // synthesize monitor, still counts as passed
)

// Action returns the control action synthesized for a layer failing in
// this mode. Unknown modes fail closed.
func (m FailMode) Action() intent.ControlAction {
	switch m {
	case FailBlock:
		return intent.ActionDeny
	case FailEscalate:
		return intent.ActionEscalate
	case FailDegrade:
		return intent.ActionLimit
	case FailWarn, FailLogOnly:
		return intent.ActionMonitor
	default:
		return intent.ActionDeny
	}
}

// Passes reports whether a failure in this mode still counts the layer as
// passed. Only warn and log_only are advisory.
func (m FailMode) Passes() bool {
	return m == FailWarn || m == FailLogOnly
}

// Severity ranks findings. Critical dominates.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the severity's position in the low..critical order.
// Unknown severities rank highest.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

// LayerConfig is a layer's static declaration, fixed at registration.
type LayerConfig struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Tier           Tier          `json:"tier"`
	PrimaryThreat  string        `json:"primary_threat"`
	Dependencies   []string      `json:"dependencies,omitempty"`
	FailMode       FailMode      `json:"fail_mode"`
	Required       bool          `json:"required"`
	Timeout        time.Duration `json:"timeout"`
	Parallelizable bool          `json:"parallelizable"`
}

// Input is the evaluation context handed to every layer. Layers must treat
// it as read-only; changes are reported through Modifications.
type Input struct {
	Intent     *intent.Intent
	Document   map[string]any // raw submitted form, for schema-level checks
	TrustScore float64
	TrustBand  intent.TrustBand
	Ceiling    float64
}

// Finding is one piece of evidence a layer surfaces against the intent.
type Finding struct {
	LayerID  string         `json:"layer_id"`
	Code     string         `json:"code"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Modification records a constraint or rewrite a layer wants applied to the
// execution, without mutating the input.
type Modification struct {
	LayerID string `json:"layer_id"`
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Reason  string `json:"reason,omitempty"`
}

// LayerResult is the outcome of one layer in one pipeline run.
type LayerResult struct {
	LayerID       string               `json:"layer_id"`
	LayerName     string               `json:"layer_name"`
	Passed        bool                 `json:"passed"`
	Action        intent.ControlAction `json:"action"`
	Confidence    float64              `json:"confidence"`
	RiskLevel     Severity             `json:"risk_level"`
	Findings      []Finding            `json:"findings,omitempty"`
	Modifications []Modification       `json:"modifications,omitempty"`
	Timing        time.Duration        `json:"timing"`
	Err           string               `json:"error,omitempty"`
}

// HealthStatus is a layer's self-reported health.
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Layer is one independent policy/security check. Execute must honor ctx
// cancellation; the pipeline races it against the configured timeout.
type Layer interface {
	Config() LayerConfig
	ValidateInput(in *Input) error
	Execute(ctx context.Context, in *Input) (*LayerResult, error)
	HealthCheck(ctx context.Context) HealthStatus
	Reset()
}
