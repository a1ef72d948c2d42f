package layers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorion-labs/cognigate/pkg/intent"
	"github.com/vorion-labs/cognigate/pkg/pipeline/layers"
)

func TestCELPolicy_AllRulesPass(t *testing.T) {
	l, err := layers.NewCELPolicyLayer([]layers.PolicyRule{
		{ID: "score_floor", Expression: `input.trust_score >= 10.0`, Action: intent.ActionDeny},
		{ID: "known_type", Expression: `input.action_type != ""`, Action: intent.ActionEscalate},
	})
	require.NoError(t, err)

	res, err := l.Execute(context.Background(), input("send email", intent.BandCertified, 50))
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, intent.ActionAllow, res.Action)
	assert.Empty(t, res.Findings)
}

func TestCELPolicy_ViolatedRuleAppliesAction(t *testing.T) {
	l, err := layers.NewCELPolicyLayer([]layers.PolicyRule{
		{
			ID:         "no_restricted_below_trusted",
			Expression: `input.data_sensitivity != "restricted" || input.trust_band == "exemplary"`,
			Action:     intent.ActionDeny,
			Message:    "restricted data requires exemplary trust",
		},
	})
	require.NoError(t, err)

	in := input("export customer records", intent.BandCertified, 50)
	in.Intent.DataSensitivity = intent.SensitivityRestricted

	res, err := l.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, intent.ActionDeny, res.Action)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "no_restricted_below_trusted", res.Findings[0].Code)
}

func TestCELPolicy_MostRestrictiveViolationWins(t *testing.T) {
	l, err := layers.NewCELPolicyLayer([]layers.PolicyRule{
		{ID: "soft", Expression: `false`, Action: intent.ActionMonitor},
		{ID: "hard", Expression: `false`, Action: intent.ActionDeny},
	})
	require.NoError(t, err)

	res, err := l.Execute(context.Background(), input("x", intent.BandCertified, 50))
	require.NoError(t, err)
	assert.Equal(t, intent.ActionDeny, res.Action)
	assert.Len(t, res.Findings, 2)
}

func TestCELPolicy_DefaultActionIsEscalate(t *testing.T) {
	l, err := layers.NewCELPolicyLayer([]layers.PolicyRule{
		{ID: "unset_action", Expression: `false`},
	})
	require.NoError(t, err)

	res, err := l.Execute(context.Background(), input("x", intent.BandCertified, 50))
	require.NoError(t, err)
	assert.Equal(t, intent.ActionEscalate, res.Action)
}

func TestCELPolicy_BadExpressionSurfacesError(t *testing.T) {
	l, err := layers.NewCELPolicyLayer([]layers.PolicyRule{
		{ID: "broken", Expression: `input.trust_score >=`},
	})
	require.NoError(t, err)

	_, err = l.Execute(context.Background(), input("x", intent.BandCertified, 50))
	assert.Error(t, err, "compile failure must reach the pipeline's fail mode")
}

func TestCELPolicy_NonBooleanExpressionRejected(t *testing.T) {
	l, err := layers.NewCELPolicyLayer([]layers.PolicyRule{
		{ID: "numeric", Expression: `input.trust_score`},
	})
	require.NoError(t, err)

	_, err = l.Execute(context.Background(), input("x", intent.BandCertified, 50))
	assert.Error(t, err)
}
