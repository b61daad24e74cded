package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviswhitehead/chef-chopsky-sub000/pkg/budget"
	"github.com/daviswhitehead/chef-chopsky-sub000/pkg/credentials"
	"github.com/daviswhitehead/chef-chopsky-sub000/pkg/telemetry"
	"github.com/daviswhitehead/chef-chopsky-sub000/services/agent"
	"github.com/daviswhitehead/chef-chopsky-sub000/services/gateway/datatypes"
	"github.com/daviswhitehead/chef-chopsky-sub000/services/retrieval"
)

// mockAgent counts invocations and returns a fixed completion or error.
type mockAgent struct {
	calls      int
	completion *agent.Completion
	err        error
	delay      time.Duration

	lastInvocation *agent.Invocation
}

func (m *mockAgent) Invoke(ctx context.Context, inv *agent.Invocation) (*agent.Completion, error) {
	m.calls++
	m.lastInvocation = inv
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.completion, nil
}

func testConfig(environment string, cred credentials.Status) Config {
	return Config{
		Environment:       environment,
		RetrieverProvider: retrieval.ProviderMemory,
		EmbeddingModel:    "openai/text-embedding-3-small",
		Model:             "gpt-4o-mini",
		DefaultUserID:     "anonymous",
		ModelCredential:   cred,
	}
}

func testBudget() budget.Budget {
	return budget.Budget{
		AgentProcessing: 100 * time.Millisecond,
		Gateway:         200 * time.Millisecond,
		UI:              300 * time.Millisecond,
		RetryAttempts:   2,
		RetryDelayBase:  time.Millisecond,
	}
}

func validRequest() *datatypes.ChatTurnRequest {
	return &datatypes.ChatTurnRequest{
		ConversationID: "conv-1",
		UserID:         "user-123",
		Messages: []datatypes.ChatMessage{
			{Role: "user", Content: "what should I cook with this week's box?"},
		},
	}
}

func TestProcessTurnValidation(t *testing.T) {
	orch := New(testConfig("development", credentials.Present), testBudget(), &mockAgent{}, nil, nil)

	tests := []struct {
		name string
		req  *datatypes.ChatTurnRequest
	}{
		{
			name: "missing conversation id",
			req: &datatypes.ChatTurnRequest{
				Messages: []datatypes.ChatMessage{{Role: "user", Content: "hi"}},
			},
		},
		{
			name: "empty messages",
			req:  &datatypes.ChatTurnRequest{ConversationID: "conv-1"},
		},
		{
			name: "unknown role",
			req: &datatypes.ChatTurnRequest{
				ConversationID: "conv-1",
				Messages:       []datatypes.ChatMessage{{Role: "wizard", Content: "hi"}},
			},
		},
		{
			name: "no user turn",
			req: &datatypes.ChatTurnRequest{
				ConversationID: "conv-1",
				Messages:       []datatypes.ChatMessage{{Role: "assistant", Content: "hello"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := orch.ProcessTurn(context.Background(), tt.req)
			var clientErr *ClientError
			require.ErrorAs(t, err, &clientErr)
		})
	}
}

func TestProcessTurnSuccess(t *testing.T) {
	mock := &mockAgent{completion: &agent.Completion{
		Message: agent.Message{ID: "msg-1", Role: "assistant", Content: "Roast the roots, batch the grains."},
		Model:   "gpt-4o-mini",
		Usage:   agent.Usage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30},
	}}
	orch := New(testConfig("development", credentials.Present), testBudget(), mock, nil, nil)

	resp, err := orch.ProcessTurn(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, mock.calls)
	assert.Equal(t, "Roast the roots, batch the grains.", resp.AssistantMessage.Content)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, "conv-1", resp.ConversationID)
	assert.GreaterOrEqual(t, resp.TimingMs, int64(0))
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 30, resp.Usage.TotalTokens)
}

func TestProcessTurnScopesRetrievalToRequestUser(t *testing.T) {
	mock := &mockAgent{completion: &agent.Completion{
		Message: agent.Message{Role: "assistant", Content: "ok"},
		Model:   "gpt-4o-mini",
	}}
	orch := New(testConfig("development", credentials.Present), testBudget(), mock, nil, nil)

	_, err := orch.ProcessTurn(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "user-123", mock.lastInvocation.Retriever.UserID)
	assert.Equal(t, "development", mock.lastInvocation.Retriever.Environment)

	req := validRequest()
	req.UserID = ""
	_, err = orch.ProcessTurn(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", mock.lastInvocation.Retriever.UserID,
		"missing user id falls back to the configured default")
}

func TestProcessTurnDegradedProductionRefuses(t *testing.T) {
	mock := &mockAgent{}
	orch := New(testConfig("production", credentials.Placeholder), testBudget(), mock, nil, nil)

	_, err := orch.ProcessTurn(context.Background(), validRequest())

	var degraded *DegradedModeError
	require.ErrorAs(t, err, &degraded)
	assert.Contains(t, err.Error(), "critical configuration")
	assert.Equal(t, 0, mock.calls, "production degraded mode must never invoke the model")
}

// mockPathBudget keeps the gateway tier above the simulated mock latency so
// the degraded branch can run to completion.
func mockPathBudget() budget.Budget {
	return budget.Budget{
		AgentProcessing: 500 * time.Millisecond,
		Gateway:         1500 * time.Millisecond,
		UI:              2500 * time.Millisecond,
		RetryAttempts:   2,
		RetryDelayBase:  time.Millisecond,
	}
}

func TestProcessTurnDegradedNonProductionServesMock(t *testing.T) {
	mock := &mockAgent{}
	orch := New(testConfig("development", credentials.Missing), mockPathBudget(), mock, nil, nil)

	start := time.Now()
	resp, err := orch.ProcessTurn(context.Background(), validRequest())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 0, mock.calls)
	assert.Equal(t, MockModelName, resp.Model)
	assert.NotEmpty(t, resp.AssistantMessage.Content)
	assert.LessOrEqual(t, len(resp.AssistantMessage.Content), maxMockContentBytes)
	assert.GreaterOrEqual(t, elapsed, mockLatencyMin, "mock path simulates latency")
	assert.Less(t, elapsed, mockLatencyMax+500*time.Millisecond)
	assert.Greater(t, resp.TimingMs, int64(0))
}

func TestProcessTurnUpstreamFailure(t *testing.T) {
	mock := &mockAgent{err: errors.New("model exploded")}
	orch := New(testConfig("development", credentials.Present), testBudget(), mock, nil, nil)

	_, err := orch.ProcessTurn(context.Background(), validRequest())

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Contains(t, err.Error(), "model exploded")
}

func TestProcessTurnMissingBackendCredential(t *testing.T) {
	mock := &mockAgent{err: fmt.Errorf("retriever provisioning failed: %w",
		&retrieval.MissingCredentialError{Variable: "PINECONE_API_KEY"})}
	orch := New(testConfig("development", credentials.Present), testBudget(), mock, nil, nil)

	_, err := orch.ProcessTurn(context.Background(), validRequest())

	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "PINECONE_API_KEY", configErr.Variable,
		"the failing variable must be named in the configuration error")
}

func TestProcessTurnAgentTimeout(t *testing.T) {
	mock := &mockAgent{
		delay: 500 * time.Millisecond,
		completion: &agent.Completion{
			Message: agent.Message{Role: "assistant", Content: "too slow"},
		},
	}
	orch := New(testConfig("development", credentials.Present), testBudget(), mock, nil, nil)

	start := time.Now()
	_, err := orch.ProcessTurn(context.Background(), validRequest())

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 400*time.Millisecond,
		"the orchestrator stops waiting at the agent tier's budget")
}

func TestProcessTurnGatewayBudgetBoundsTurn(t *testing.T) {
	// Gateway tier below the minimum simulated latency: the turn must give up
	// at the gateway limit instead of waiting out the mock response.
	b := budget.Budget{
		AgentProcessing: 20 * time.Millisecond,
		Gateway:         60 * time.Millisecond,
		UI:              120 * time.Millisecond,
		RetryAttempts:   2,
		RetryDelayBase:  time.Millisecond,
	}
	mock := &mockAgent{}
	orch := New(testConfig("development", credentials.Missing), b, mock, nil, nil)

	start := time.Now()
	_, err := orch.ProcessTurn(context.Background(), validRequest())
	elapsed := time.Since(start)

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, elapsed, b.Gateway)
	assert.Less(t, elapsed, mockLatencyMin,
		"the gateway gives up before the simulated latency elapses")
	assert.Equal(t, 0, mock.calls)
}

// orderedTraceSink records the telemetry lifecycle for ordering assertions.
type orderedTraceSink struct {
	events []string
}

func (s *orderedTraceSink) StartRun(ctx context.Context, run *telemetry.TraceRun) error {
	s.events = append(s.events, "start")
	return nil
}

func (s *orderedTraceSink) EndRun(ctx context.Context, runID string, outputs map[string]any, runErr error) error {
	if runErr != nil {
		s.events = append(s.events, "end_error")
	} else {
		s.events = append(s.events, "end_ok")
	}
	return nil
}

func TestProcessTurnTelemetryLifecycle(t *testing.T) {
	sink := &orderedTraceSink{}
	recorder := telemetry.NewRecorder(sink, nil)
	mock := &mockAgent{completion: &agent.Completion{
		Message: agent.Message{Role: "assistant", Content: "done"},
		Model:   "gpt-4o-mini",
	}}
	orch := New(testConfig("development", credentials.Present), testBudget(), mock, recorder, nil)

	_, err := orch.ProcessTurn(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "end_ok"}, sink.events)
}

func TestProcessTurnTelemetryFailureDoesNotFailTurn(t *testing.T) {
	recorder := telemetry.NewRecorder(&failingTraceSink{}, nil)
	mock := &mockAgent{completion: &agent.Completion{
		Message: agent.Message{Role: "assistant", Content: "still works"},
		Model:   "gpt-4o-mini",
	}}
	orch := New(testConfig("development", credentials.Present), testBudget(), mock, recorder, nil)

	resp, err := orch.ProcessTurn(context.Background(), validRequest())
	require.NoError(t, err, "the response must not depend on telemetry succeeding")
	assert.Equal(t, "still works", resp.AssistantMessage.Content)
}

type failingTraceSink struct{}

func (failingTraceSink) StartRun(ctx context.Context, run *telemetry.TraceRun) error {
	return errors.New("tracing backend down")
}

func (failingTraceSink) EndRun(ctx context.Context, runID string, outputs map[string]any, runErr error) error {
	return errors.New("tracing backend down")
}
