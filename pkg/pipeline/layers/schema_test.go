package layers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorion-labs/cognigate/pkg/intent"
	"github.com/vorion-labs/cognigate/pkg/pipeline/layers"
)

func TestSchema_ValidDocumentPasses(t *testing.T) {
	l, err := layers.NewSchemaLayer()
	require.NoError(t, err)

	in := input("send email", intent.BandCertified, 50)
	in.Document = map[string]any{
		"agent_id":         "agent-1",
		"action":           "send email",
		"action_type":      "email",
		"data_sensitivity": "internal",
	}

	res, err := l.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestSchema_MissingRequiredFieldDenied(t *testing.T) {
	l, err := layers.NewSchemaLayer()
	require.NoError(t, err)

	in := input("send email", intent.BandCertified, 50)
	in.Document = map[string]any{"agent_id": "agent-1"}

	res, err := l.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, intent.ActionDeny, res.Action)
	require.NotEmpty(t, res.Findings)
	assert.Equal(t, "schema_violation", res.Findings[0].Code)
}

func TestSchema_FallsBackToTypedIntent(t *testing.T) {
	l, err := layers.NewSchemaLayer()
	require.NoError(t, err)

	// No raw document captured; the typed intent is projected and checked.
	in := input("send email", intent.BandCertified, 50)
	in.Document = nil

	res, err := l.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Passed)
}
