package layers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorion-labs/cognigate/pkg/intent"
	"github.com/vorion-labs/cognigate/pkg/pipeline/layers"
)

func TestTrustGate_DeniesBelowSensitivityFloor(t *testing.T) {
	l := layers.NewTrustGateLayer()

	in := input("read customer PII", intent.BandProvisional, 25)
	in.Intent.DataSensitivity = intent.SensitivityConfidential

	res, err := l.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, intent.ActionDeny, res.Action)
	require.NotEmpty(t, res.Findings)
	assert.Equal(t, "insufficient_trust_band", res.Findings[0].Code)
	require.NotEmpty(t, res.Modifications, "denial carries a remediation")
}

func TestTrustGate_AllowsAtOrAboveFloor(t *testing.T) {
	l := layers.NewTrustGateLayer()

	cases := []struct {
		sensitivity intent.DataSensitivity
		band        intent.TrustBand
	}{
		{intent.SensitivityPublic, intent.BandProbationary},
		{intent.SensitivityInternal, intent.BandProvisional},
		{intent.SensitivityConfidential, intent.BandTrusted},
		{intent.SensitivityRestricted, intent.BandExemplary},
	}
	for _, tc := range cases {
		in := input("act", tc.band, tc.band.MinScore())
		in.Intent.DataSensitivity = tc.sensitivity
		res, err := l.Execute(context.Background(), in)
		require.NoError(t, err)
		assert.True(t, res.Passed, "%s at %s", tc.sensitivity, tc.band)
	}
}

func TestTrustGate_IrreversibleRequiresTrusted(t *testing.T) {
	l := layers.NewTrustGateLayer()

	in := input("purge archive", intent.BandCertified, 50)
	in.Intent.DataSensitivity = intent.SensitivityPublic
	in.Intent.Reversibility = intent.Irreversible

	res, err := l.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Passed, "irreversible actions floor at trusted")

	in.TrustBand = intent.BandTrusted
	in.TrustScore = 65
	res, err = l.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestTrustGate_UnknownSensitivityFailsClosed(t *testing.T) {
	l := layers.NewTrustGateLayer()

	in := input("act", intent.BandTrusted, 70)
	in.Intent.DataSensitivity = intent.DataSensitivity("mystery")

	res, err := l.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Passed)
}
