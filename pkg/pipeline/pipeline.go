package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vorion-labs/cognigate/pkg/intent"
)

// Skip reasons recorded on layers that were not executed.
const (
	SkipDisabled          = "disabled"
	SkipNotInAllowlist    = "not_in_allowlist"
	SkipMissingDependency = "missing_dependency"
	SkipBudgetExhausted   = "budget_exhausted"
)

// Clock provides the pipeline's time source. Tests inject a fixed clock.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Config tunes pipeline-wide behavior. Zero values mean: no total budget,
// no allowlist filtering, no confidence floor.
type Config struct {
	// StopOnFirstFailure stops the run when a required layer fails.
	StopOnFirstFailure bool
	// MaxTotalTime is the whole-run budget; layers beyond it are skipped.
	MaxTotalTime time.Duration
	// MinConfidenceThreshold forces escalate when the aggregate confidence
	// of an allow verdict falls below it.
	MinConfidenceThreshold float64
	// Allowlist restricts the run to the named layer IDs when non-empty.
	Allowlist []string
	// Disabled lists layer IDs excluded from every run.
	Disabled []string
}

// SkippedLayer records why a layer did not execute.
type SkippedLayer struct {
	LayerID string `json:"layer_id"`
	Reason  string `json:"reason"`
}

// Result aggregates every layer outcome of one run into a single verdict.
type Result struct {
	Decision      intent.ControlAction `json:"decision"`
	Confidence    float64              `json:"confidence"`
	RiskLevel     Severity             `json:"risk_level"`
	LayersPassed  []string             `json:"layers_passed"`
	LayersFailed  []string             `json:"layers_failed"`
	LayersSkipped []SkippedLayer       `json:"layers_skipped"`
	Findings      []Finding            `json:"findings,omitempty"`
	Modifications []Modification       `json:"modifications,omitempty"`
	LayerResults  []LayerResult        `json:"layer_results"`
	Explanation   string               `json:"explanation"`
	Duration      time.Duration        `json:"duration"`
}

// Pipeline executes registered layers in dependency order and aggregates
// their verdicts. Construction validates the dependency graph; Execute does
// no ordering work.
type Pipeline struct {
	cfg       Config
	ordered   []Layer
	allow     map[string]bool
	disabled  map[string]bool
	listeners []Listener
	clock     Clock
	log       *slog.Logger
}

// New validates the layer set and resolves execution order. A dependency
// cycle, unknown dependency, or duplicate ID fails here, before any traffic.
func New(cfg Config, layers ...Layer) (*Pipeline, error) {
	ordered, err := orderLayers(layers)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:      cfg,
		ordered:  ordered,
		disabled: make(map[string]bool, len(cfg.Disabled)),
		clock:    wallClock{},
		log:      slog.Default().With("component", "pipeline"),
	}
	if len(cfg.Allowlist) > 0 {
		p.allow = make(map[string]bool, len(cfg.Allowlist))
		for _, id := range cfg.Allowlist {
			p.allow[id] = true
		}
	}
	for _, id := range cfg.Disabled {
		p.disabled[id] = true
	}
	return p, nil
}

// SetClock overrides the time source. Tests only.
func (p *Pipeline) SetClock(c Clock) { p.clock = c }

// AddListener registers a lifecycle event listener.
func (p *Pipeline) AddListener(l Listener) {
	p.listeners = append(p.listeners, l)
}

// Order returns the resolved layer execution order.
func (p *Pipeline) Order() []string {
	ids := make([]string, len(p.ordered))
	for i, l := range p.ordered {
		ids[i] = l.Config().ID
	}
	return ids
}

// Execute runs every eligible layer in dependency order and aggregates the
// outcome. It never returns an error: layer failures are folded into the
// result per each layer's fail mode.
func (p *Pipeline) Execute(ctx context.Context, in *Input) *Result {
	start := p.clock.Now()
	intentID := ""
	if in != nil && in.Intent != nil {
		intentID = in.Intent.IntentID
	}
	p.emit(Event{Type: EventPipelineStarted, IntentID: intentID})

	res := &Result{
		Decision:      intent.ActionAllow,
		LayersPassed:  []string{},
		LayersFailed:  []string{},
		LayersSkipped: []SkippedLayer{},
	}
	completed := make(map[string]bool, len(p.ordered))
	stopped := false

	for _, layer := range p.ordered {
		cfg := layer.Config()
		if stopped {
			break
		}

		if reason := p.skipReason(cfg, completed, start); reason != "" {
			res.LayersSkipped = append(res.LayersSkipped, SkippedLayer{LayerID: cfg.ID, Reason: reason})
			p.emit(Event{Type: EventLayerSkipped, IntentID: intentID, LayerID: cfg.ID, SkipReason: reason})
			continue
		}

		p.emit(Event{Type: EventLayerStarted, IntentID: intentID, LayerID: cfg.ID})
		lr := p.runLayer(ctx, layer, in)
		completed[cfg.ID] = true
		res.LayerResults = append(res.LayerResults, *lr)
		res.Findings = append(res.Findings, lr.Findings...)
		res.Modifications = append(res.Modifications, lr.Modifications...)

		if lr.Passed {
			res.LayersPassed = append(res.LayersPassed, cfg.ID)
			p.emit(Event{Type: EventLayerCompleted, IntentID: intentID, LayerID: cfg.ID})
		} else {
			res.LayersFailed = append(res.LayersFailed, cfg.ID)
			p.emit(Event{Type: EventLayerFailed, IntentID: intentID, LayerID: cfg.ID})
			if p.cfg.StopOnFirstFailure && cfg.Required {
				stopped = true
			}
		}
	}

	p.aggregate(res)
	res.Duration = p.clock.Now().Sub(start)
	p.emit(Event{Type: EventPipelineCompleted, IntentID: intentID})
	return res
}

func (p *Pipeline) skipReason(cfg LayerConfig, completed map[string]bool, start time.Time) string {
	if p.disabled[cfg.ID] {
		return SkipDisabled
	}
	if p.allow != nil && !p.allow[cfg.ID] {
		return SkipNotInAllowlist
	}
	for _, dep := range cfg.Dependencies {
		if !completed[dep] {
			return SkipMissingDependency
		}
	}
	if p.cfg.MaxTotalTime > 0 && p.clock.Now().Sub(start) >= p.cfg.MaxTotalTime {
		return SkipBudgetExhausted
	}
	return ""
}

// runLayer executes one layer under its timeout and folds errors and
// timeouts into a synthesized result per the layer's fail mode.
func (p *Pipeline) runLayer(ctx context.Context, layer Layer, in *Input) *LayerResult {
	cfg := layer.Config()
	begin := p.clock.Now()

	if err := layer.ValidateInput(in); err != nil {
		return p.synthesize(cfg, begin, fmt.Errorf("input validation: %w", err))
	}

	runCtx := ctx
	cancel := func() {}
	if cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
	}
	defer cancel()

	type outcome struct {
		res *LayerResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := layer.Execute(runCtx, in)
		done <- outcome{res: r, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return p.synthesize(cfg, begin, out.err)
		}
		lr := out.res
		if lr == nil {
			return p.synthesize(cfg, begin, fmt.Errorf("layer returned no result"))
		}
		lr.LayerID = cfg.ID
		lr.LayerName = cfg.Name
		lr.Timing = p.clock.Now().Sub(begin)
		if lr.RiskLevel == "" {
			lr.RiskLevel = maxSeverity(lr.Findings)
		}
		return lr
	case <-runCtx.Done():
		return p.synthesize(cfg, begin, fmt.Errorf("layer timeout after %v: %w", cfg.Timeout, runCtx.Err()))
	}
}

// synthesize builds the failure result dictated by the layer's fail mode.
func (p *Pipeline) synthesize(cfg LayerConfig, begin time.Time, err error) *LayerResult {
	p.log.Warn("layer failed",
		slog.String("layer", cfg.ID),
		slog.String("fail_mode", string(cfg.FailMode)),
		slog.String("error", err.Error()))
	return &LayerResult{
		LayerID:    cfg.ID,
		LayerName:  cfg.Name,
		Passed:     cfg.FailMode.Passes(),
		Action:     cfg.FailMode.Action(),
		Confidence: 0,
		RiskLevel:  SeverityMedium,
		Timing:     p.clock.Now().Sub(begin),
		Err:        err.Error(),
	}
}

// aggregate folds the per-layer results into the final verdict.
func (p *Pipeline) aggregate(res *Result) {
	executed := res.LayerResults
	if len(executed) == 0 {
		res.Decision = intent.ActionAllow
		res.Confidence = 0
		res.RiskLevel = SeverityLow
		res.Explanation = "no layers executed"
		return
	}

	decision := intent.ActionAllow
	var confSum float64
	deciders := make([]string, 0, 1)
	for _, lr := range executed {
		confSum += lr.Confidence
		if lr.Action.MoreRestrictive(decision) {
			decision = lr.Action
			deciders = deciders[:0]
		}
		if lr.Action == decision {
			deciders = append(deciders, lr.LayerID)
		}
	}
	res.Confidence = confSum / float64(len(executed))
	res.RiskLevel = maxSeverity(res.Findings)

	if decision == intent.ActionAllow && p.cfg.MinConfidenceThreshold > 0 &&
		res.Confidence < p.cfg.MinConfidenceThreshold {
		decision = intent.ActionEscalate
		res.Explanation = fmt.Sprintf("escalate: aggregate confidence %.2f below threshold %.2f",
			res.Confidence, p.cfg.MinConfidenceThreshold)
	} else {
		res.Explanation = fmt.Sprintf("%s: set by %s (%d findings, risk %s)",
			decision, strings.Join(deciders, ","), len(res.Findings), res.RiskLevel)
	}
	res.Decision = decision
}

func maxSeverity(findings []Finding) Severity {
	max := SeverityLow
	for _, f := range findings {
		if f.Severity.Rank() > max.Rank() {
			max = f.Severity
		}
	}
	return max
}

// Health fans out to every layer and reports per-layer status.
func (p *Pipeline) Health(ctx context.Context) map[string]HealthStatus {
	out := make(map[string]HealthStatus, len(p.ordered))
	for _, l := range p.ordered {
		out[l.Config().ID] = l.HealthCheck(ctx)
	}
	return out
}

// Reset fans out to every layer.
func (p *Pipeline) Reset() {
	for _, l := range p.ordered {
		l.Reset()
	}
}
