package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	// All recording paths must be safe no-ops.
	ctx, finish := p.TrackIntent(context.Background(), "process_intent",
		attribute.String("agent_id", "agent-1"))
	assert.NotNil(t, ctx)
	finish(errors.New("boom"))
	p.RecordDenial(ctx)
	p.RecordError(ctx, errors.New("boom"))

	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "cognigate", cfg.ServiceName)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 1.0, cfg.SampleRate)
}
