package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vorion-labs/cognigate/pkg/intent"
	"github.com/vorion-labs/cognigate/pkg/pipeline/layers"
)

// Policy is the YAML-defined portion of pipeline behavior: tuning knobs,
// CEL rules, and per-band velocity limits.
type Policy struct {
	Pipeline PipelinePolicy              `yaml:"pipeline" json:"pipeline"`
	Rules    []layers.PolicyRule         `yaml:"rules,omitempty" json:"rules,omitempty"`
	Limits   map[string]layers.BandLimit `yaml:"limits,omitempty" json:"limits,omitempty"`
}

// PipelinePolicy tunes pipeline-wide execution behavior.
type PipelinePolicy struct {
	StopOnFirstFailure     bool     `yaml:"stop_on_first_failure" json:"stop_on_first_failure"`
	MaxTotalTimeMs         int      `yaml:"max_total_time_ms" json:"max_total_time_ms"`
	MinConfidenceThreshold float64  `yaml:"min_confidence_threshold" json:"min_confidence_threshold"`
	Allowlist              []string `yaml:"allowlist,omitempty" json:"allowlist,omitempty"`
	Disabled               []string `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// MaxTotalTime returns the whole-run budget as a duration; zero means none.
func (p PipelinePolicy) MaxTotalTime() time.Duration {
	return time.Duration(p.MaxTotalTimeMs) * time.Millisecond
}

// LoadPolicy reads and validates a policy YAML file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load policy %q: %w", path, err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy %q: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("policy %q: %w", path, err)
	}
	return &p, nil
}

// Validate rejects rule sets that would fail at pipeline construction or
// silently misconfigure a band.
func (p *Policy) Validate() error {
	seen := make(map[string]bool, len(p.Rules))
	for i, r := range p.Rules {
		if r.ID == "" {
			return fmt.Errorf("rule %d: missing id", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("rule %q: duplicate id", r.ID)
		}
		seen[r.ID] = true
		if r.Expression == "" {
			return fmt.Errorf("rule %q: missing expression", r.ID)
		}
	}
	for band, limit := range p.Limits {
		switch intent.TrustBand(band) {
		case intent.BandProbationary, intent.BandProvisional, intent.BandCertified,
			intent.BandTrusted, intent.BandExemplary:
		default:
			return fmt.Errorf("limits: unknown trust band %q", band)
		}
		if limit.PerMinute <= 0 || limit.Burst <= 0 {
			return fmt.Errorf("limits[%s]: per_minute and burst must be positive", band)
		}
	}
	return nil
}

// BandLimits converts the string-keyed YAML limits into the typed map the
// velocity layer takes. Nil when the policy defines none.
func (p *Policy) BandLimits() map[intent.TrustBand]layers.BandLimit {
	if len(p.Limits) == 0 {
		return nil
	}
	out := make(map[intent.TrustBand]layers.BandLimit, len(p.Limits))
	for band, limit := range p.Limits {
		out[intent.TrustBand(band)] = limit
	}
	return out
}
