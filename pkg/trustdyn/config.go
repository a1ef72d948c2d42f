// Package trustdyn implements asymmetric trust dynamics for autonomous
// agents: logarithmic, diminishing gain; proportional loss; a post-loss
// cooldown that blocks gain; oscillation detection; and a per-agent circuit
// breaker that freezes all updates until an explicit reset.
package trustdyn

import "time"

// Config holds the trust dynamics parameters.
type Config struct {
	// GainRate scales the logarithmic gain delta.
	GainRate float64
	// LossRate scales the proportional loss delta. The default 10:1
	// asymmetry against GainRate makes trust slow to earn, fast to lose.
	LossRate float64
	// Cooldown is the window after any loss during which gain is nullified.
	Cooldown time.Duration
	// OscillationThreshold is the number of direction reversals inside
	// OscillationWindow that trips the circuit breaker.
	OscillationThreshold int
	// OscillationWindow is the sliding window for reversal counting.
	OscillationWindow time.Duration
	// ReversalPenaltyMultiplier scales loss when the failure is a reversal
	// of a previously credited outcome.
	ReversalPenaltyMultiplier float64
	// CircuitBreakerThreshold is the score floor; a resulting score below
	// it trips the breaker.
	CircuitBreakerThreshold float64
	// DecayRatePerDay is the per-day multiplicative decay used by ApplyDecay.
	DecayRatePerDay float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		GainRate:                  0.01,
		LossRate:                  0.10,
		Cooldown:                  168 * time.Hour,
		OscillationThreshold:      3,
		OscillationWindow:         24 * time.Hour,
		ReversalPenaltyMultiplier: 2.0,
		CircuitBreakerThreshold:   10,
		DecayRatePerDay:           0.005,
	}
}

// Clock provides the engine's time source. Tests inject a fixed clock.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
