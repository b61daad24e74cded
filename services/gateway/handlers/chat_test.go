package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviswhitehead/chef-chopsky-sub000/pkg/budget"
	"github.com/daviswhitehead/chef-chopsky-sub000/pkg/credentials"
	"github.com/daviswhitehead/chef-chopsky-sub000/services/agent"
	"github.com/daviswhitehead/chef-chopsky-sub000/services/gateway/datatypes"
	"github.com/daviswhitehead/chef-chopsky-sub000/services/gateway/orchestrator"
	"github.com/daviswhitehead/chef-chopsky-sub000/services/retrieval"
)

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// mockAgentClient implements agent.Client for handler testing.
type mockAgentClient struct {
	calls      int
	completion *agent.Completion
	err        error
}

func (m *mockAgentClient) Invoke(ctx context.Context, inv *agent.Invocation) (*agent.Completion, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.completion, nil
}

func newTestRouter(cfg orchestrator.Config, agentClient agent.Client) *gin.Engine {
	// Gateway tier comfortably above the simulated mock latency so the
	// degraded-development path completes.
	b := budget.Budget{
		AgentProcessing: 1 * time.Second,
		Gateway:         2 * time.Second,
		UI:              3 * time.Second,
		RetryAttempts:   2,
		RetryDelayBase:  time.Millisecond,
	}
	orch := orchestrator.New(cfg, b, agentClient, nil, nil)

	router := gin.New()
	router.POST("/v1/chat/turn", HandleChatTurn(orch))
	return router
}

func devConfig(cred credentials.Status) orchestrator.Config {
	return orchestrator.Config{
		Environment:       "development",
		RetrieverProvider: retrieval.ProviderMemory,
		EmbeddingModel:    "openai/text-embedding-3-small",
		Model:             "gpt-4o-mini",
		DefaultUserID:     "anonymous",
		ModelCredential:   cred,
	}
}

func performTurn(t *testing.T, router *gin.Engine, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/turn", bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func validBody() map[string]any {
	return map[string]any{
		"conversation_id": "conv-1",
		"user_id":         "user-123",
		"messages": []map[string]string{
			{"role": "user", "content": "what should I cook tonight?"},
		},
	}
}

func TestHandleChatTurnSuccess(t *testing.T) {
	mock := &mockAgentClient{completion: &agent.Completion{
		Message: agent.Message{ID: "msg-1", Role: "assistant", Content: "Try a frittata."},
		Model:   "gpt-4o-mini",
		Usage:   agent.Usage{PromptTokens: 15, CompletionTokens: 5, TotalTokens: 20},
	}}
	router := newTestRouter(devConfig(credentials.Present), mock)

	w := performTurn(t, router, validBody())

	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.ChatTurnResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Try a frittata.", resp.AssistantMessage.Content)
	assert.Equal(t, "assistant", resp.AssistantMessage.Role)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.GreaterOrEqual(t, resp.TimingMs, int64(0))
}

func TestHandleChatTurnMalformedJSON(t *testing.T) {
	router := newTestRouter(devConfig(credentials.Present), &mockAgentClient{})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/turn", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request", resp.Error)
}

func TestHandleChatTurnValidationError(t *testing.T) {
	mock := &mockAgentClient{}
	router := newTestRouter(devConfig(credentials.Present), mock)

	body := validBody()
	delete(body, "conversation_id")
	w := performTurn(t, router, body)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.Error)
	assert.Equal(t, 0, mock.calls)
}

func TestHandleChatTurnDegradedProduction(t *testing.T) {
	cfg := devConfig(credentials.Placeholder)
	cfg.Environment = "production"
	mock := &mockAgentClient{}
	router := newTestRouter(cfg, mock)

	w := performTurn(t, router, validBody())

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "critical_configuration_error", resp.Error)
	assert.Contains(t, resp.Message, "critical configuration")
	assert.Equal(t, 0, mock.calls, "production degraded mode must not call the model")
}

func TestHandleChatTurnDegradedDevelopmentServesMock(t *testing.T) {
	mock := &mockAgentClient{}
	router := newTestRouter(devConfig(credentials.Missing), mock)

	w := performTurn(t, router, validBody())

	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.ChatTurnResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, orchestrator.MockModelName, resp.Model)
	assert.Greater(t, len(resp.AssistantMessage.Content), 0)
	assert.Equal(t, 0, mock.calls)
}

func TestHandleChatTurnUpstreamFailure(t *testing.T) {
	mock := &mockAgentClient{err: errors.New("backend unreachable")}
	router := newTestRouter(devConfig(credentials.Present), mock)

	w := performTurn(t, router, validBody())

	require.Equal(t, http.StatusServiceUnavailable, w.Code,
		"upstream failures map to a retryable status for the client loop")
	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "upstream_error", resp.Error)
	assert.NotContains(t, resp.Message, "backend unreachable",
		"raw upstream detail must not reach the client")
}
