package orchestrator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorion-labs/cognigate/pkg/orchestrator"
)

func TestMemoryProfileStore(t *testing.T) {
	s := orchestrator.NewMemoryProfileStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "agent-1")
	assert.ErrorIs(t, err, orchestrator.ErrProfileNotFound)

	require.NoError(t, s.Put(ctx, &orchestrator.Profile{AgentID: "agent-1", Score: 45, Ceiling: 90}))
	p, err := s.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 45.0, p.Score)

	// Returned profile is a copy, not a live reference.
	p.Score = 99
	again, err := s.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 45.0, again.Score)
}

func TestMemoryProfileStore_Defaults(t *testing.T) {
	s := orchestrator.NewMemoryProfileStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &orchestrator.Profile{AgentID: "agent-1", Score: 150}))
	p, err := s.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.DefaultCeiling, p.Ceiling)
	assert.Equal(t, orchestrator.DefaultCeiling, p.Score, "score clamps to ceiling")

	assert.Error(t, s.Put(ctx, &orchestrator.Profile{}))
}

func TestMemoryProfileStore_UpdateScore(t *testing.T) {
	s := orchestrator.NewMemoryProfileStore()
	ctx := context.Background()

	assert.ErrorIs(t, s.UpdateScore(ctx, "agent-1", 10), orchestrator.ErrProfileNotFound)

	require.NoError(t, s.Put(ctx, &orchestrator.Profile{AgentID: "agent-1", Score: 45, Ceiling: 90}))
	require.NoError(t, s.UpdateScore(ctx, "agent-1", 120))
	p, err := s.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 90.0, p.Score)
}
