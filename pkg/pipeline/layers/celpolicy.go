package layers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/vorion-labs/cognigate/pkg/intent"
	"github.com/vorion-labs/cognigate/pkg/pipeline"
)

// PolicyRule is one CEL expression evaluated over the intent. The
// expression must return a boolean; false applies the rule's action.
type PolicyRule struct {
	ID         string               `json:"id" yaml:"id"`
	Expression string               `json:"expression" yaml:"expression"`
	Action     intent.ControlAction `json:"action" yaml:"action"`
	Message    string               `json:"message" yaml:"message"`
}

// CELPolicyLayer evaluates configured policy rules against a single
// "input" map exposing intent fields and trust state. Compiled programs are
// cached per expression.
type CELPolicyLayer struct {
	env   *cel.Env
	rules []PolicyRule

	mu    sync.RWMutex
	cache map[string]cel.Program
}

func NewCELPolicyLayer(rules []PolicyRule) (*CELPolicyLayer, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	return &CELPolicyLayer{
		env:   env,
		rules: rules,
		cache: make(map[string]cel.Program),
	}, nil
}

func (l *CELPolicyLayer) Config() pipeline.LayerConfig {
	return pipeline.LayerConfig{
		ID:            "cel_policy",
		Name:          "CEL Policy Rules",
		Tier:          pipeline.TierPolicy,
		PrimaryThreat: "policy_violations",
		Dependencies:  []string{"schema"},
		FailMode:      pipeline.FailEscalate,
		Timeout:       500 * time.Millisecond,
	}
}

func (l *CELPolicyLayer) ValidateInput(in *pipeline.Input) error {
	return requireIntent(in)
}

func (l *CELPolicyLayer) Execute(_ context.Context, in *pipeline.Input) (*pipeline.LayerResult, error) {
	activation := map[string]any{"input": policyInput(in)}

	verdict := intent.ActionAllow
	var findings []pipeline.Finding
	for _, rule := range l.rules {
		ok, err := l.eval(rule.Expression, activation)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		if ok {
			continue
		}
		action := rule.Action
		if action == "" {
			action = intent.ActionEscalate
		}
		if action.MoreRestrictive(verdict) {
			verdict = action
		}
		findings = append(findings, pipeline.Finding{
			LayerID:  "cel_policy",
			Code:     rule.ID,
			Severity: pipeline.SeverityHigh,
			Message:  rule.Message,
		})
	}

	return &pipeline.LayerResult{
		Passed:     verdict == intent.ActionAllow,
		Action:     verdict,
		Confidence: 0.9,
		Findings:   findings,
	}, nil
}

// eval compiles on first use and caches the program per expression.
func (l *CELPolicyLayer) eval(expression string, activation map[string]any) (bool, error) {
	l.mu.RLock()
	prog, hit := l.cache[expression]
	l.mu.RUnlock()

	if !hit {
		l.mu.Lock()
		if prog, hit = l.cache[expression]; !hit {
			ast, issues := l.env.Compile(expression)
			if issues != nil && issues.Err() != nil {
				l.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := l.env.Program(ast)
			if err != nil {
				l.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			l.cache[expression] = p
			prog = p
		}
		l.mu.Unlock()
	}

	out, _, err := prog.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return bool")
	}
	return b, nil
}

// policyInput projects the evaluation context into the flat map the CEL
// environment exposes as "input".
func policyInput(in *pipeline.Input) map[string]any {
	scope := make([]any, len(in.Intent.ResourceScope))
	for i, s := range in.Intent.ResourceScope {
		scope[i] = s
	}
	return map[string]any{
		"agent_id":         in.Intent.AgentID,
		"action":           in.Intent.Action,
		"action_type":      in.Intent.ActionType,
		"resource_scope":   scope,
		"data_sensitivity": string(in.Intent.DataSensitivity),
		"reversibility":    string(in.Intent.Reversibility),
		"trust_score":      in.TrustScore,
		"trust_band":       string(in.TrustBand),
		"ceiling":          in.Ceiling,
	}
}

func (l *CELPolicyLayer) HealthCheck(context.Context) pipeline.HealthStatus {
	return pipeline.HealthStatus{Healthy: true}
}

// Reset clears the compiled-program cache.
func (l *CELPolicyLayer) Reset() {
	l.mu.Lock()
	l.cache = make(map[string]cel.Program)
	l.mu.Unlock()
}
