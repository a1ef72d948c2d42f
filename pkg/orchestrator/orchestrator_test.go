package orchestrator_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorion-labs/cognigate/pkg/gateway"
	"github.com/vorion-labs/cognigate/pkg/intent"
	"github.com/vorion-labs/cognigate/pkg/orchestrator"
	"github.com/vorion-labs/cognigate/pkg/pipeline"
	"github.com/vorion-labs/cognigate/pkg/trustdyn"
)

type memProfiles struct {
	mu       sync.Mutex
	profiles map[string]*orchestrator.Profile
	written  map[string]float64
}

func newMemProfiles(profiles ...*orchestrator.Profile) *memProfiles {
	m := &memProfiles{
		profiles: make(map[string]*orchestrator.Profile),
		written:  make(map[string]float64),
	}
	for _, p := range profiles {
		m.profiles[p.AgentID] = p
	}
	return m
}

func (m *memProfiles) Get(_ context.Context, agentID string) (*orchestrator.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[agentID]
	if !ok {
		return nil, orchestrator.ErrProfileNotFound
	}
	return p, nil
}

func (m *memProfiles) UpdateScore(_ context.Context, agentID string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written[agentID] = score
	return nil
}

type stubEvaluator struct {
	result *pipeline.Result
}

func (s *stubEvaluator) Execute(context.Context, *pipeline.Input) *pipeline.Result {
	return s.result
}

type stubExecutor struct {
	mu     sync.Mutex
	calls  int
	result *gateway.ExecResult
}

func (s *stubExecutor) Execute(_ context.Context, req gateway.ExecRequest) *gateway.ExecResult {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.result != nil {
		return s.result
	}
	return &gateway.ExecResult{
		IntentID: req.Intent.IntentID,
		Success:  true,
		Outputs:  map[string]any{"ok": true},
	}
}

func (s *stubExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingLogger struct {
	mu     sync.Mutex
	phases []string
}

func (l *recordingLogger) record(phase string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.phases = append(l.phases, phase)
	return nil
}

func (l *recordingLogger) logged() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.phases...)
}

func (l *recordingLogger) LogIntentReceived(context.Context, *intent.Intent) error {
	return l.record("intent_received")
}
func (l *recordingLogger) LogDecisionMade(context.Context, *intent.Intent, *intent.Decision) error {
	return l.record("decision_made")
}
func (l *recordingLogger) LogExecutionStarted(context.Context, *intent.Intent) error {
	return l.record("execution_started")
}
func (l *recordingLogger) LogExecutionCompleted(context.Context, *intent.Intent, map[string]any) error {
	return l.record("execution_completed")
}
func (l *recordingLogger) LogExecutionFailed(context.Context, *intent.Intent, string) error {
	return l.record("execution_failed")
}

type failingLogger struct{ recordingLogger }

func (l *failingLogger) LogDecisionMade(context.Context, *intent.Intent, *intent.Decision) error {
	return errors.New("audit sink down")
}

func allowResult() *pipeline.Result {
	return &pipeline.Result{
		Decision:    intent.ActionAllow,
		Confidence:  0.9,
		Explanation: "allow: all layers passed",
	}
}

func denyResult(explanation string) *pipeline.Result {
	return &pipeline.Result{
		Decision:    intent.ActionDeny,
		Confidence:  0.95,
		Explanation: explanation,
	}
}

func testIntent() *intent.Intent {
	return &intent.Intent{
		IntentID:        intent.NewID(),
		AgentID:         "agent-1",
		Action:          "send weekly report",
		ActionType:      "email",
		DataSensitivity: intent.SensitivityInternal,
		Reversibility:   intent.Reversible,
		CreatedAt:       time.Now().UTC(),
	}
}

type fixture struct {
	orch     *orchestrator.Orchestrator
	profiles *memProfiles
	executor *stubExecutor
	logger   *recordingLogger
}

func newFixture(t *testing.T, eval *pipeline.Result) *fixture {
	t.Helper()
	f := &fixture{
		profiles: newMemProfiles(&orchestrator.Profile{AgentID: "agent-1", Score: 45, Ceiling: 90}),
		executor: &stubExecutor{},
		logger:   &recordingLogger{},
	}
	orch, err := orchestrator.New(orchestrator.Config{
		Profiles:  f.profiles,
		Evaluator: &stubEvaluator{result: eval},
		Executor:  f.executor,
		Logger:    f.logger,
	})
	require.NoError(t, err)
	f.orch = orch
	return f
}

func TestProcessIntent_SuccessPath(t *testing.T) {
	f := newFixture(t, allowResult())
	res := f.orch.ProcessIntent(context.Background(), testIntent())

	assert.True(t, res.Success)
	require.NotNil(t, res.Authorization)
	assert.True(t, res.Authorization.Permitted)
	assert.Equal(t, intent.ActionAllow, res.Authorization.Action)
	assert.Equal(t, intent.BandCertified, res.Authorization.TrustBand)
	require.NotNil(t, res.Execution)
	assert.True(t, res.Execution.Invoked)
	assert.Equal(t, 1, f.executor.callCount())
	assert.Equal(t,
		[]string{"intent_received", "decision_made", "execution_started", "execution_completed"},
		f.logger.logged())
	assert.GreaterOrEqual(t, res.Timings.TotalDurationMs, res.Timings.ExecutionMs)
}

func TestProcessIntent_DeniedNeverInvokesExecutor(t *testing.T) {
	f := newFixture(t, denyResult("deny: set by tripwires"))
	res := f.orch.ProcessIntent(context.Background(), testIntent())

	assert.False(t, res.Success)
	require.NotNil(t, res.Authorization)
	assert.False(t, res.Authorization.Permitted)
	assert.Nil(t, res.Execution)
	assert.Zero(t, f.executor.callCount())
	assert.Equal(t, []string{"intent_received", "decision_made"}, f.logger.logged())
}

func TestProcessIntent_LowTrustDenied(t *testing.T) {
	f := newFixture(t, denyResult("deny: set by trust_gate"))
	f.profiles.profiles["agent-1"].Score = 5

	res := f.orch.ProcessIntent(context.Background(), testIntent())
	assert.False(t, res.Success)
	assert.Equal(t, intent.BandProbationary, res.Authorization.TrustBand)
	assert.Zero(t, f.executor.callCount())
}

func TestProcessIntent_UnknownAgentDeniedWithRemediations(t *testing.T) {
	f := newFixture(t, allowResult())
	in := testIntent()
	in.AgentID = "ghost"

	res := f.orch.ProcessIntent(context.Background(), in)
	assert.False(t, res.Success)
	require.NotNil(t, res.Authorization)
	assert.False(t, res.Authorization.Permitted)
	assert.NotEmpty(t, res.Authorization.Remediations)
	assert.Nil(t, res.Evaluation)
	assert.Zero(t, f.executor.callCount())
}

func TestProcessIntent_ExpiredIntentDenied(t *testing.T) {
	f := newFixture(t, allowResult())
	in := testIntent()
	expired := time.Now().Add(-time.Minute)
	in.ExpiresAt = &expired

	res := f.orch.ProcessIntent(context.Background(), in)
	assert.False(t, res.Success)
	assert.False(t, res.Authorization.Permitted)
	assert.Contains(t, res.Authorization.Reason, "expired")
	assert.Zero(t, f.executor.callCount())
}

func TestProcessIntent_ExecutorFailureLogsExecutionFailed(t *testing.T) {
	f := newFixture(t, allowResult())
	f.executor.result = &gateway.ExecResult{
		Success: false,
		Err:     &gateway.ExecError{Code: gateway.ErrCodeHandler, Message: "handler failed: smtp rejected"},
	}

	res := f.orch.ProcessIntent(context.Background(), testIntent())
	assert.False(t, res.Success)
	require.NotNil(t, res.Execution)
	assert.True(t, res.Execution.Invoked)
	assert.False(t, res.Execution.Retryable)

	phases := f.logger.logged()
	assert.Contains(t, phases, "execution_failed")
	assert.NotContains(t, phases, "execution_completed")
}

func TestProcessIntent_TimeoutClassifiedRetryable(t *testing.T) {
	f := newFixture(t, allowResult())
	f.executor.result = &gateway.ExecResult{
		Success: false,
		Err:     &gateway.ExecError{Code: gateway.ErrCodeTimeout, Message: "execution exceeded deadline"},
	}

	res := f.orch.ProcessIntent(context.Background(), testIntent())
	assert.False(t, res.Success)
	assert.True(t, res.Execution.Retryable)
}

func TestProcessIntent_PreExecuteHookAborts(t *testing.T) {
	f := newFixture(t, allowResult())
	f.orch.OnPreExecute(func(context.Context, *orchestrator.HookContext) orchestrator.HookResult {
		return orchestrator.Abort("maintenance window")
	})

	res := f.orch.ProcessIntent(context.Background(), testIntent())
	assert.False(t, res.Success)
	assert.True(t, res.Authorization.Permitted, "abort must not fail authorization")
	require.NotNil(t, res.Execution)
	assert.True(t, res.Execution.Aborted)
	assert.Equal(t, "maintenance window", res.Execution.AbortReason)
	assert.False(t, res.Execution.Invoked)
	assert.Zero(t, f.executor.callCount())
}

func TestProcessIntent_PreAuthorizeHookAborts(t *testing.T) {
	f := newFixture(t, allowResult())
	f.orch.OnPreAuthorize(func(context.Context, *orchestrator.HookContext) orchestrator.HookResult {
		return orchestrator.Abort("agent suspended")
	})

	res := f.orch.ProcessIntent(context.Background(), testIntent())
	assert.False(t, res.Success)
	assert.True(t, res.Aborted)
	assert.Equal(t, "agent suspended", res.AbortReason)
	assert.Nil(t, res.Authorization)
	assert.Nil(t, res.Execution)
}

func TestProcessIntent_HooksRunInRegistrationOrder(t *testing.T) {
	f := newFixture(t, allowResult())
	var order []string
	f.orch.OnPreExecute(func(context.Context, *orchestrator.HookContext) orchestrator.HookResult {
		order = append(order, "first")
		return orchestrator.Continue()
	})
	f.orch.OnPreExecute(func(context.Context, *orchestrator.HookContext) orchestrator.HookResult {
		order = append(order, "second")
		return orchestrator.Continue()
	})
	f.orch.OnPostExecute(func(_ context.Context, hc *orchestrator.HookContext) orchestrator.HookResult {
		order = append(order, "post")
		assert.NotNil(t, hc.ExecResult)
		return orchestrator.Continue()
	})

	res := f.orch.ProcessIntent(context.Background(), testIntent())
	assert.True(t, res.Success)
	assert.Equal(t, []string{"first", "second", "post"}, order)
}

func TestProcessIntent_PanickingHookCountsAsContinue(t *testing.T) {
	f := newFixture(t, allowResult())
	f.orch.OnPreExecute(func(context.Context, *orchestrator.HookContext) orchestrator.HookResult {
		panic("hook bug")
	})

	res := f.orch.ProcessIntent(context.Background(), testIntent())
	assert.True(t, res.Success)
	assert.Equal(t, 1, f.executor.callCount())
}

func TestProcessIntent_LoggerFailureNeverInterrupts(t *testing.T) {
	f := newFixture(t, allowResult())
	failing := &failingLogger{}
	orch, err := orchestrator.New(orchestrator.Config{
		Profiles:  f.profiles,
		Evaluator: &stubEvaluator{result: allowResult()},
		Executor:  f.executor,
		Logger:    failing,
	})
	require.NoError(t, err)

	res := orch.ProcessIntent(context.Background(), testIntent())
	assert.True(t, res.Success)

	select {
	case err := <-orch.LoggerFailures():
		assert.Contains(t, err.Error(), "decision_made")
	default:
		t.Fatal("expected a reported logger failure")
	}
}

func TestProcessIntent_MalformedIntent(t *testing.T) {
	f := newFixture(t, allowResult())

	res := f.orch.ProcessIntent(context.Background(), nil)
	assert.False(t, res.Success)
	assert.True(t, res.Aborted)

	res = f.orch.ProcessIntent(context.Background(), &intent.Intent{AgentID: "agent-1"})
	assert.False(t, res.Success)
	assert.True(t, res.Aborted)
}

func TestProcessIntent_TrustFeedbackWritesScoreBack(t *testing.T) {
	profiles := newMemProfiles(&orchestrator.Profile{AgentID: "agent-1", Score: 50, Ceiling: 90})
	executor := &stubExecutor{}
	orch, err := orchestrator.New(orchestrator.Config{
		Profiles:  profiles,
		Evaluator: &stubEvaluator{result: allowResult()},
		Executor:  executor,
		Trust:     trustdyn.NewEngine(trustdyn.DefaultConfig(), nil),
	})
	require.NoError(t, err)

	res := orch.ProcessIntent(context.Background(), testIntent())
	require.True(t, res.Success)

	profiles.mu.Lock()
	written, ok := profiles.written["agent-1"]
	profiles.mu.Unlock()
	require.True(t, ok, "expected a score write-back")
	assert.InDelta(t, 50+0.01*math.Log(41), written, 1e-9)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := orchestrator.New(orchestrator.Config{})
	assert.Error(t, err)

	_, err = orchestrator.New(orchestrator.Config{Profiles: newMemProfiles()})
	assert.Error(t, err)
}
