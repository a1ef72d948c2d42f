package trustdyn

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"
)

// Direction labels which way an update moved the score.
type Direction string

const (
	DirectionGain Direction = "gain"
	DirectionLoss Direction = "loss"
	DirectionNone Direction = "none"
)

// Circuit breaker trip reasons.
const (
	ReasonScoreFloor          = "score_below_threshold"
	ReasonOscillationDetected = "oscillation_detected"
)

var (
	// ErrUnknownAgent is returned for operations that require prior state.
	ErrUnknownAgent = errors.New("trustdyn: unknown agent")
	// ErrAdminOverrideRequired is returned when a breaker reset is attempted
	// without the admin override flag.
	ErrAdminOverrideRequired = errors.New("trustdyn: admin override required to reset circuit breaker")
)

// UpdateRequest carries one trust observation. The caller owns the score
// (it lives in the agent's profile); the engine owns cooldown, oscillation
// and breaker state.
type UpdateRequest struct {
	CurrentScore float64
	Success      bool
	Ceiling      float64
	IsReversal   bool
	// Now overrides the engine clock when non-zero (replay, testing).
	Now time.Time
}

// UpdateResult reports the outcome of one trust update.
type UpdateResult struct {
	AgentID                 string     `json:"agent_id"`
	Delta                   float64    `json:"delta"`
	NewScore                float64    `json:"new_score"`
	Direction               Direction  `json:"direction"`
	BlockedByCooldown       bool       `json:"blocked_by_cooldown"`
	BlockedByCircuitBreaker bool       `json:"blocked_by_circuit_breaker"`
	OscillationDetected     bool       `json:"oscillation_detected"`
	CircuitBreakerTripped   bool       `json:"circuit_breaker_tripped"`
	CooldownUntil           *time.Time `json:"cooldown_until,omitempty"`
	Reason                  string     `json:"reason,omitempty"`
}

// CooldownState is the externally visible cooldown snapshot.
type CooldownState struct {
	InCooldown bool       `json:"in_cooldown"`
	Until      *time.Time `json:"until,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// State is a snapshot of one agent's dynamics state.
type State struct {
	AgentID               string        `json:"agent_id"`
	Cooldown              CooldownState `json:"cooldown"`
	CircuitBreakerTripped bool          `json:"circuit_breaker_tripped"`
	CircuitBreakerReason  string        `json:"circuit_breaker_reason,omitempty"`
	LastDirection         Direction     `json:"last_direction"`
	ReversalsInWindow     int           `json:"reversals_in_window"`
}

// agentState is the mutable per-agent record. All access goes through the
// owning shard's mutex so per-agent updates are serialized.
type agentState struct {
	cooldownUntil  time.Time
	cooldownReason string
	breakerTripped bool
	breakerReason  string
	lastDirection  Direction
	reversals      []time.Time
}

const shardCount = 32

type shard struct {
	mu     sync.Mutex
	agents map[string]*agentState
}

// Engine applies trust dynamics per agent. Updates for one agent are
// serialized by its shard; unrelated agents proceed in parallel.
type Engine struct {
	cfg    Config
	clock  Clock
	shards [shardCount]*shard
}

// NewEngine creates an engine with the given config. A nil clock defaults
// to wall time.
func NewEngine(cfg Config, clock Clock) *Engine {
	if clock == nil {
		clock = wallClock{}
	}
	e := &Engine{cfg: cfg, clock: clock}
	for i := range e.shards {
		e.shards[i] = &shard{agents: make(map[string]*agentState)}
	}
	return e
}

func (e *Engine) shardFor(agentID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(agentID))
	return e.shards[h.Sum32()%shardCount]
}

// UpdateTrust applies one observation and returns the resulting delta and
// state flags. The returned NewScore is always within [0, ceiling].
func (e *Engine) UpdateTrust(agentID string, req UpdateRequest) (UpdateResult, error) {
	if agentID == "" {
		return UpdateResult{}, fmt.Errorf("trustdyn: empty agent id")
	}
	if req.Ceiling <= 0 {
		return UpdateResult{}, fmt.Errorf("trustdyn: ceiling must be positive, got %v", req.Ceiling)
	}

	now := req.Now
	if now.IsZero() {
		now = e.clock.Now()
	}

	sh := e.shardFor(agentID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.agents[agentID]
	if !ok {
		st = &agentState{lastDirection: DirectionNone}
		sh.agents[agentID] = st
	}

	res := UpdateResult{
		AgentID:   agentID,
		NewScore:  clamp(req.CurrentScore, 0, req.Ceiling),
		Direction: DirectionNone,
	}

	// Tripped breaker freezes every update, gain or loss, until reset.
	if st.breakerTripped {
		res.BlockedByCircuitBreaker = true
		res.Reason = st.breakerReason
		return res, nil
	}

	dir := DirectionLoss
	if req.Success {
		dir = DirectionGain
	}

	// Oscillation bookkeeping: a reversal is a change of direction from the
	// previous update. Enough reversals inside the window is a gaming
	// signal and trips the breaker before the delta is applied.
	if st.lastDirection != DirectionNone && st.lastDirection != dir {
		st.reversals = append(st.reversals, now)
	}
	st.lastDirection = dir
	st.pruneReversals(now, e.cfg.OscillationWindow)
	if len(st.reversals) >= e.cfg.OscillationThreshold {
		st.breakerTripped = true
		st.breakerReason = ReasonOscillationDetected
		res.OscillationDetected = true
		res.CircuitBreakerTripped = true
		res.BlockedByCircuitBreaker = true
		res.Reason = ReasonOscillationDetected
		return res, nil
	}

	var delta float64
	if req.Success {
		res.Direction = DirectionGain
		if now.Before(st.cooldownUntil) {
			// Gain is nullified during cooldown. Loss never is.
			res.BlockedByCooldown = true
			until := st.cooldownUntil
			res.CooldownUntil = &until
			res.Reason = st.cooldownReason
			return res, nil
		}
		headroom := req.Ceiling - req.CurrentScore
		if headroom > 0 {
			delta = e.cfg.GainRate * math.Log(1+headroom)
		}
	} else {
		res.Direction = DirectionLoss
		delta = -e.cfg.LossRate * req.CurrentScore
		if req.IsReversal {
			delta *= e.cfg.ReversalPenaltyMultiplier
		}
		st.cooldownUntil = now.Add(e.cfg.Cooldown)
		st.cooldownReason = "trust_loss"
		until := st.cooldownUntil
		res.CooldownUntil = &until
	}

	newScore := clamp(req.CurrentScore+delta, 0, req.Ceiling)
	res.Delta = newScore - clamp(req.CurrentScore, 0, req.Ceiling)
	res.NewScore = newScore

	if newScore < e.cfg.CircuitBreakerThreshold && !req.Success {
		st.breakerTripped = true
		st.breakerReason = ReasonScoreFloor
		res.CircuitBreakerTripped = true
		res.Reason = ReasonScoreFloor
	}
	return res, nil
}

// ResetCircuitBreaker clears a tripped breaker. adminOverride must be true;
// unknown agents are rejected.
func (e *Engine) ResetCircuitBreaker(agentID string, adminOverride bool) error {
	sh := e.shardFor(agentID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	if !adminOverride {
		return ErrAdminOverrideRequired
	}
	st.breakerTripped = false
	st.breakerReason = ""
	return nil
}

// StateOf returns a snapshot of an agent's dynamics state.
func (e *Engine) StateOf(agentID string) (State, error) {
	sh := e.shardFor(agentID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.agents[agentID]
	if !ok {
		return State{}, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	now := e.clock.Now()
	st.pruneReversals(now, e.cfg.OscillationWindow)

	snap := State{
		AgentID:               agentID,
		CircuitBreakerTripped: st.breakerTripped,
		CircuitBreakerReason:  st.breakerReason,
		LastDirection:         st.lastDirection,
		ReversalsInWindow:     len(st.reversals),
	}
	if now.Before(st.cooldownUntil) {
		until := st.cooldownUntil
		snap.Cooldown = CooldownState{InCooldown: true, Until: &until, Reason: st.cooldownReason}
	}
	return snap, nil
}

// ApplyDecay returns the score after the given number of days of inactivity
// decay. Pure function; no state is touched.
func (e *Engine) ApplyDecay(score float64, days float64) float64 {
	if days <= 0 {
		return score
	}
	return score * math.Pow(1-e.cfg.DecayRatePerDay, days)
}

// ClearAllState drops every agent's dynamics state. Teardown and tests only.
func (e *Engine) ClearAllState() {
	for _, sh := range e.shards {
		sh.mu.Lock()
		sh.agents = make(map[string]*agentState)
		sh.mu.Unlock()
	}
}

func (st *agentState) pruneReversals(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(st.reversals) && st.reversals[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		st.reversals = st.reversals[i:]
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
