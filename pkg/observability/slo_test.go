package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker() (*SLOTracker, time.Time) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewSLOTracker().WithClock(func() time.Time { return now })
	tr.SetTarget(&SLOTarget{
		SLOID:       "slo-process",
		Operation:   OpProcessIntent,
		LatencyP99:  100 * time.Millisecond,
		SuccessRate: 0.99,
		WindowHours: 24,
	})
	return tr, now
}

func TestSLOTracker_NoObservationsIsCompliant(t *testing.T) {
	tr, _ := newTestTracker()
	st, err := tr.Status(OpProcessIntent)
	require.NoError(t, err)
	assert.True(t, st.InCompliance)
	assert.Equal(t, 100.0, st.ErrorBudgetLeft)
	assert.Zero(t, st.ObservationCount)
}

func TestSLOTracker_UnknownOperation(t *testing.T) {
	tr, _ := newTestTracker()
	_, err := tr.Status("unknown")
	assert.Error(t, err)
}

func TestSLOTracker_CompliantWindow(t *testing.T) {
	tr, _ := newTestTracker()
	for i := 0; i < 100; i++ {
		tr.Record(SLOObservation{Operation: OpProcessIntent, Latency: 10 * time.Millisecond, Success: true})
	}
	st, err := tr.Status(OpProcessIntent)
	require.NoError(t, err)
	assert.True(t, st.InCompliance)
	assert.Equal(t, 1.0, st.CurrentSuccess)
	assert.Equal(t, 100, st.ObservationCount)
}

func TestSLOTracker_BurnRateOverBudget(t *testing.T) {
	tr, _ := newTestTracker()
	for i := 0; i < 90; i++ {
		tr.Record(SLOObservation{Operation: OpProcessIntent, Latency: 10 * time.Millisecond, Success: true})
	}
	for i := 0; i < 10; i++ {
		tr.Record(SLOObservation{Operation: OpProcessIntent, Latency: 10 * time.Millisecond, Success: false})
	}
	st, err := tr.Status(OpProcessIntent)
	require.NoError(t, err)
	assert.False(t, st.InCompliance)
	// 10% errors against a 1% budget burns 10x.
	assert.InDelta(t, 10.0, st.BurnRate, 1e-9)
	assert.Equal(t, 0.0, st.ErrorBudgetLeft)
}

func TestSLOTracker_LatencyBreach(t *testing.T) {
	tr, _ := newTestTracker()
	for i := 0; i < 50; i++ {
		tr.Record(SLOObservation{Operation: OpProcessIntent, Latency: 500 * time.Millisecond, Success: true})
	}
	st, err := tr.Status(OpProcessIntent)
	require.NoError(t, err)
	assert.False(t, st.InCompliance)
	assert.Equal(t, 500.0, st.CurrentP99)
}

func TestSLOTracker_WindowExcludesOldObservations(t *testing.T) {
	tr, now := newTestTracker()
	tr.Record(SLOObservation{
		Operation: OpProcessIntent,
		Latency:   10 * time.Millisecond,
		Success:   false,
		Timestamp: now.Add(-48 * time.Hour),
	})
	tr.Record(SLOObservation{Operation: OpProcessIntent, Latency: 10 * time.Millisecond, Success: true})

	st, err := tr.Status(OpProcessIntent)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ObservationCount)
	assert.True(t, st.InCompliance)
}
