package layers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vorion-labs/cognigate/pkg/intent"
	"github.com/vorion-labs/cognigate/pkg/pipeline"
)

func requireIntent(in *pipeline.Input) error {
	if in == nil || in.Intent == nil {
		return fmt.Errorf("nil intent")
	}
	return nil
}

// BandLimit is the velocity cap applied to one trust band: a sustained
// per-minute rate with a burst allowance.
type BandLimit struct {
	PerMinute int `json:"per_minute" yaml:"per_minute"`
	Burst     int `json:"burst" yaml:"burst"`
}

// Higher trust earns higher caps. Even a runaway agent is physically
// bounded at its band's rate.
var defaultBandLimits = map[intent.TrustBand]BandLimit{
	intent.BandProbationary: {PerMinute: 10, Burst: 2},
	intent.BandProvisional:  {PerMinute: 30, Burst: 5},
	intent.BandCertified:    {PerMinute: 60, Burst: 10},
	intent.BandTrusted:      {PerMinute: 120, Burst: 20},
	intent.BandExemplary:    {PerMinute: 300, Burst: 50},
}

// LimiterStore answers whether an agent may consume one more action under
// its band limit. Implementations: in-process token buckets and a
// Redis-backed variant for multi-instance deployments.
type LimiterStore interface {
	Allow(ctx context.Context, agentID string, limit BandLimit, cost int) (bool, error)
}

// MemoryLimiterStore keeps one token bucket per agent in process memory.
type MemoryLimiterStore struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
}

type memoryBucket struct {
	limit   BandLimit
	limiter *rate.Limiter
}

func NewMemoryLimiterStore() *MemoryLimiterStore {
	return &MemoryLimiterStore{buckets: make(map[string]*memoryBucket)}
}

func (s *MemoryLimiterStore) Allow(_ context.Context, agentID string, limit BandLimit, cost int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[agentID]
	if !ok || b.limit != limit {
		// Band changes rebuild the bucket at the new rate.
		b = &memoryBucket{
			limit:   limit,
			limiter: rate.NewLimiter(rate.Limit(float64(limit.PerMinute)/60.0), limit.Burst),
		}
		s.buckets[agentID] = b
	}
	return b.limiter.AllowN(time.Now(), cost), nil
}

// Reset drops all buckets.
func (s *MemoryLimiterStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets = make(map[string]*memoryBucket)
}

// VelocityLayer enforces per-agent action velocity caps keyed by trust
// band. Exceeding the cap degrades the verdict to limit rather than deny:
// the agent is slowed, not stopped.
type VelocityLayer struct {
	store  LimiterStore
	limits map[intent.TrustBand]BandLimit
}

// NewVelocityLayer builds the layer over the given store. A nil store
// defaults to in-process buckets; nil limits default to the standard bands.
func NewVelocityLayer(store LimiterStore, limits map[intent.TrustBand]BandLimit) *VelocityLayer {
	if store == nil {
		store = NewMemoryLimiterStore()
	}
	if limits == nil {
		limits = defaultBandLimits
	}
	return &VelocityLayer{store: store, limits: limits}
}

func (l *VelocityLayer) Config() pipeline.LayerConfig {
	return pipeline.LayerConfig{
		ID:            "velocity",
		Name:          "Velocity Caps",
		Tier:          pipeline.TierPreFlight,
		PrimaryThreat: "runaway_agents",
		FailMode:      pipeline.FailDegrade,
		Timeout:       250 * time.Millisecond,
	}
}

func (l *VelocityLayer) ValidateInput(in *pipeline.Input) error {
	return requireIntent(in)
}

func (l *VelocityLayer) Execute(ctx context.Context, in *pipeline.Input) (*pipeline.LayerResult, error) {
	limit, ok := l.limits[in.TrustBand]
	if !ok {
		limit = l.limits[intent.BandProbationary]
	}

	allowed, err := l.store.Allow(ctx, in.Intent.AgentID, limit, 1)
	if err != nil {
		return nil, fmt.Errorf("limiter store: %w", err)
	}
	if !allowed {
		retryAfter := 60.0 / float64(limit.PerMinute)
		return &pipeline.LayerResult{
			Passed:     false,
			Action:     intent.ActionLimit,
			Confidence: 1.0,
			RiskLevel:  pipeline.SeverityMedium,
			Findings: []pipeline.Finding{{
				LayerID:  "velocity",
				Code:     "velocity_limit_exceeded",
				Severity: pipeline.SeverityMedium,
				Message: fmt.Sprintf("velocity cap for band %s exceeded (%d/min, burst %d)",
					in.TrustBand, limit.PerMinute, limit.Burst),
				Metadata: map[string]any{
					"retry_after_seconds": retryAfter,
					"band":                string(in.TrustBand),
				},
			}},
		}, nil
	}
	return &pipeline.LayerResult{Passed: true, Action: intent.ActionAllow, Confidence: 1.0}, nil
}

func (l *VelocityLayer) HealthCheck(ctx context.Context) pipeline.HealthStatus {
	// A store probe with a zero-cost allow verifies reachability.
	if _, err := l.store.Allow(ctx, "healthcheck", BandLimit{PerMinute: 60, Burst: 1}, 0); err != nil {
		return pipeline.HealthStatus{Healthy: false, Detail: err.Error()}
	}
	return pipeline.HealthStatus{Healthy: true}
}

func (l *VelocityLayer) Reset() {
	if r, ok := l.store.(interface{ Reset() }); ok {
		r.Reset()
	}
}
