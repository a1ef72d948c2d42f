package layers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorion-labs/cognigate/pkg/intent"
	"github.com/vorion-labs/cognigate/pkg/pipeline"
	"github.com/vorion-labs/cognigate/pkg/pipeline/layers"
)

func TestVelocity_BurstExhaustionLimits(t *testing.T) {
	l := layers.NewVelocityLayer(nil, nil)
	in := input("send email", intent.BandProbationary, 10)

	// Probationary burst is 2; the third immediate request exceeds it.
	for i := 0; i < 2; i++ {
		res, err := l.Execute(context.Background(), in)
		require.NoError(t, err)
		assert.True(t, res.Passed, "request %d within burst", i)
	}
	res, err := l.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, intent.ActionLimit, res.Action, "exceeding velocity limits, never denies")
	require.NotEmpty(t, res.Findings)
	assert.Equal(t, "velocity_limit_exceeded", res.Findings[0].Code)
	assert.Contains(t, res.Findings[0].Metadata, "retry_after_seconds")
}

func TestVelocity_HigherBandHigherBurst(t *testing.T) {
	l := layers.NewVelocityLayer(nil, nil)
	in := input("send email", intent.BandExemplary, 85)

	// Exemplary burst is 50; the probationary-breaking volume sails through.
	for i := 0; i < 10; i++ {
		res, err := l.Execute(context.Background(), in)
		require.NoError(t, err)
		assert.True(t, res.Passed)
	}
}

func TestVelocity_AgentsAreIndependent(t *testing.T) {
	l := layers.NewVelocityLayer(nil, nil)

	a := input("x", intent.BandProbationary, 10)
	for i := 0; i < 3; i++ {
		_, err := l.Execute(context.Background(), a)
		require.NoError(t, err)
	}

	b := input("x", intent.BandProbationary, 10)
	b.Intent.AgentID = "agent-2"
	res, err := l.Execute(context.Background(), b)
	require.NoError(t, err)
	assert.True(t, res.Passed, "another agent's exhaustion must not bleed over")
}

func TestVelocity_ResetRestoresBudget(t *testing.T) {
	l := layers.NewVelocityLayer(nil, nil)
	in := input("x", intent.BandProbationary, 10)

	for i := 0; i < 3; i++ {
		_, err := l.Execute(context.Background(), in)
		require.NoError(t, err)
	}
	l.Reset()

	res, err := l.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestVelocity_CustomLimits(t *testing.T) {
	limits := map[intent.TrustBand]layers.BandLimit{
		intent.BandProbationary: {PerMinute: 60, Burst: 1},
	}
	l := layers.NewVelocityLayer(layers.NewMemoryLimiterStore(), limits)
	in := input("x", intent.BandProbationary, 10)

	res, err := l.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Passed)

	res, err = l.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Passed)
}
