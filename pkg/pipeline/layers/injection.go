package layers

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/vorion-labs/cognigate/pkg/intent"
	"github.com/vorion-labs/cognigate/pkg/pipeline"
)

// Injection phrasing: attempts to reframe or override the governing
// instructions of whatever model consumes this action downstream.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|rules|prompts)`),
	regexp.MustCompile(`(?i)disregard\s+(your|the)\s+(instructions|guidelines|system\s+prompt)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|in)\s`),
	regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+prompt|instructions|configuration)`),
	regexp.MustCompile(`(?i)\b(jailbreak|dan\s+mode|developer\s+mode)\b`),
	regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+have\s+)?no\s+(restrictions|limits|rules)`),
}

// Euphemisms that read benign but pair suspiciously with system paths:
// "clean up /etc" is not housekeeping.
var euphemisms = []string{
	"clean up", "tidy up", "optimize", "streamline", "declutter",
	"free up space", "housekeeping", "prune",
}

var sensitivePaths = []string{
	"/etc", "/var", "/usr", "/boot", "/root", "/dev",
	"system32", ".ssh", ".aws", ".kube", "/proc",
}

// InjectionLayer flags prompt-injection phrasing and euphemism/system-path
// pairings. Advisory: findings escalate for human review but never block
// on their own.
type InjectionLayer struct{}

func NewInjectionLayer() *InjectionLayer { return &InjectionLayer{} }

func (l *InjectionLayer) Config() pipeline.LayerConfig {
	return pipeline.LayerConfig{
		ID:            "injection",
		Name:          "Prompt Injection Heuristics",
		Tier:          pipeline.TierAnalysis,
		PrimaryThreat: "prompt_injection",
		FailMode:      pipeline.FailWarn,
		Timeout:       100 * time.Millisecond,
	}
}

func (l *InjectionLayer) ValidateInput(in *pipeline.Input) error {
	return requireIntent(in)
}

func (l *InjectionLayer) Execute(_ context.Context, in *pipeline.Input) (*pipeline.LayerResult, error) {
	text := in.Intent.Action
	lower := strings.ToLower(text)
	var findings []pipeline.Finding

	for _, re := range injectionPatterns {
		if m := re.FindString(text); m != "" {
			findings = append(findings, pipeline.Finding{
				LayerID:  "injection",
				Code:     "injection_phrase",
				Severity: pipeline.SeverityHigh,
				Message:  "prompt-injection phrasing detected",
				Metadata: map[string]any{"matched": m},
			})
		}
	}

	if euph := containsAny(lower, euphemisms); euph != "" {
		if path := containsAny(lower, sensitivePaths); path != "" {
			findings = append(findings, pipeline.Finding{
				LayerID:  "injection",
				Code:     "euphemism_sensitive_path",
				Severity: pipeline.SeverityHigh,
				Message:  "benign-sounding verb paired with sensitive system path",
				Metadata: map[string]any{"euphemism": euph, "path": path},
			})
		}
	}

	if len(findings) > 0 {
		return &pipeline.LayerResult{
			Passed:     false,
			Action:     intent.ActionEscalate,
			Confidence: 0.7,
			RiskLevel:  pipeline.SeverityHigh,
			Findings:   findings,
		}, nil
	}
	return &pipeline.LayerResult{Passed: true, Action: intent.ActionAllow, Confidence: 0.8}, nil
}

func containsAny(haystack string, needles []string) string {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return n
		}
	}
	return ""
}

func (l *InjectionLayer) HealthCheck(context.Context) pipeline.HealthStatus {
	return pipeline.HealthStatus{Healthy: true}
}

func (l *InjectionLayer) Reset() {}
