// Package orchestrator drives one chat turn end to end: validation,
// degraded-mode branching on the resolved model credential, the agent
// invocation under its tier's timeout, and conversation telemetry around the
// whole lifecycle.
//
// The orchestrator holds no cross-request mutable state. Its only shared
// inputs are the immutable timeout budget and the resolved configuration;
// every turn is an independent task.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/daviswhitehead/chef-chopsky-sub000/pkg/budget"
	"github.com/daviswhitehead/chef-chopsky-sub000/pkg/credentials"
	"github.com/daviswhitehead/chef-chopsky-sub000/pkg/telemetry"
	"github.com/daviswhitehead/chef-chopsky-sub000/services/agent"
	"github.com/daviswhitehead/chef-chopsky-sub000/services/gateway/datatypes"
	"github.com/daviswhitehead/chef-chopsky-sub000/services/gateway/observability"
	"github.com/daviswhitehead/chef-chopsky-sub000/services/retrieval"
)

var orchestratorTracer = otel.Tracer("chopsky.gateway.orchestrator")

// MockModelName tags responses served by the degraded-mode branch so clients
// and telemetry can tell them from real completions.
const MockModelName = "chopsky-mock"

// Mock responses wait a short simulated latency so the client-side loading
// states are exercised outside production.
const (
	mockLatencyMin = 300 * time.Millisecond
	mockLatencyMax = 900 * time.Millisecond
)

// maxMockContentBytes bounds the degraded-mode response body.
const maxMockContentBytes = 2048

// Turn processing stages, recorded on the trace span as the turn advances.
const (
	stageValidating    = "validating"
	stageConfiguring   = "configuring"
	stageMockReturning = "mock_returning"
	stageModelInvoking = "model_invoking"
	stageResponding    = "responding"
)

// Orchestrator processes chat turns. All collaborators are injected; nothing
// is constructed at import time.
type Orchestrator struct {
	cfg      Config
	budget   budget.Budget
	agent    agent.Client
	recorder *telemetry.Recorder
	metrics  *observability.ChatMetrics
}

// New wires an orchestrator. recorder and metrics may be nil, which disables
// telemetry and instrumentation respectively; agent may be nil only when the
// model credential is not Present (the degraded branch never invokes it).
func New(cfg Config, b budget.Budget, agentClient agent.Client, recorder *telemetry.Recorder, metrics *observability.ChatMetrics) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		budget:   b,
		agent:    agentClient,
		recorder: recorder,
		metrics:  metrics,
	}
}

// ProcessTurn handles one conversation turn.
//
// The flow is validate, resolve the degraded-mode branch, then either serve a
// mock response (non-production) or invoke the agent under the agent tier's
// timeout. Telemetry brackets the turn: the user message is logged before the
// model is invoked and the assistant message after, in that order. Telemetry
// failures never fail the turn.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req *datatypes.ChatTurnRequest) (*datatypes.ChatTurnResponse, error) {
	ctx, span := orchestratorTracer.Start(ctx, "Orchestrator.ProcessTurn")
	defer span.End()

	// The whole turn, telemetry sinks and simulated latency included, gives up
	// at the gateway tier's limit, before the client's own timeout fires.
	ctx, cancel := context.WithTimeout(ctx, o.budget.Gateway)
	defer cancel()

	start := time.Now()
	if o.metrics != nil {
		o.metrics.TurnStarted()
		defer o.metrics.TurnEnded()
	}

	span.SetAttributes(attribute.String("turn.stage", stageValidating))
	if err := o.validate(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		o.recordError(observability.ErrorCodeValidation, start, "error")
		return nil, err
	}
	span.SetAttributes(attribute.String("conversation.id", req.ConversationID))

	span.SetAttributes(attribute.String("turn.stage", stageConfiguring))
	userID := req.UserID
	if userID == "" {
		userID = o.cfg.DefaultUserID
	}

	telemetryOK := o.startTelemetry(ctx, req, userID)

	if o.cfg.ModelCredential != credentials.Present {
		if o.cfg.Production() {
			span.SetStatus(codes.Error, "model credential unusable in production")
			if o.metrics != nil {
				o.metrics.RecordDegradedMode("production_refused")
			}
			o.recordError(observability.ErrorCodeDegradedMode, start, "error")
			err := &DegradedModeError{
				Message: fmt.Sprintf("model credential is %s; refusing to serve synthetic responses in production", o.cfg.ModelCredential),
			}
			if telemetryOK {
				o.recorder.LogError(ctx, req.ConversationID, err, nil)
			}
			return nil, err
		}
		return o.serveMock(ctx, span, req, telemetryOK, start)
	}

	span.SetAttributes(attribute.String("turn.stage", stageModelInvoking))
	if telemetryOK {
		o.logUserMessage(ctx, req)
	}

	agentCtx, cancel := context.WithTimeout(ctx, o.budget.AgentProcessing)
	defer cancel()

	completion, err := o.agent.Invoke(agentCtx, &agent.Invocation{
		Messages: toAgentMessages(req.Messages),
		Model:    o.cfg.Model,
		Retriever: retrieval.Config{
			Provider:       o.cfg.RetrieverProvider,
			UserID:         userID,
			Environment:    o.cfg.Environment,
			EmbeddingModel: o.cfg.EmbeddingModel,
		},
		RunID: req.ConversationID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent invocation failed")
		mapped := classifyAgentError(err)
		if _, ok := mapped.(*ConfigurationError); ok {
			o.recordError(observability.ErrorCodeConfiguration, start, "error")
		} else {
			o.recordError(observability.ErrorCodeUpstream, start, "error")
		}
		if telemetryOK {
			o.recorder.LogError(ctx, req.ConversationID, mapped, nil)
		}
		return nil, mapped
	}

	span.SetAttributes(attribute.String("turn.stage", stageResponding))
	timing := time.Since(start)

	if telemetryOK {
		responseMs := int(timing.Milliseconds())
		o.recorder.LogMessage(ctx, req.ConversationID, "assistant", completion.Message.Content,
			completion.Usage.CompletionTokens, &responseMs, 0)
		o.recorder.CompleteRun(ctx, req.ConversationID, map[string]any{
			"answer": completion.Message.Content,
			"model":  completion.Model,
		}, nil)
	}

	if o.metrics != nil {
		o.metrics.RecordTurn("success", timing.Seconds())
		o.metrics.RecordTokens(completion.Usage.PromptTokens, completion.Usage.CompletionTokens, completion.Model)
	}
	span.SetAttributes(
		attribute.String("response.model", completion.Model),
		attribute.Int("response.total_tokens", completion.Usage.TotalTokens),
		attribute.Int64("response.timing_ms", timing.Milliseconds()),
	)

	resp := datatypes.NewChatTurnResponse(req.ConversationID, datatypes.ChatMessage{
		ID:      completion.Message.ID,
		Role:    "assistant",
		Content: completion.Message.Content,
	}, completion.Model, timing.Milliseconds())
	resp.Usage = &datatypes.TokenUsage{
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
		TotalTokens:      completion.Usage.TotalTokens,
	}
	return resp, nil
}

func (o *Orchestrator) validate(req *datatypes.ChatTurnRequest) error {
	if err := req.Validate(); err != nil {
		return &ClientError{Message: err.Error()}
	}
	if req.LastUserContent() == "" {
		return &ClientError{Message: "messages must include at least one user turn"}
	}
	return nil
}

// startTelemetry opens (or reuses) the conversation's run. A trace sink
// failure is logged and disables telemetry for this turn; the response never
// depends on it.
func (o *Orchestrator) startTelemetry(ctx context.Context, req *datatypes.ChatTurnRequest, userID string) bool {
	if o.recorder == nil {
		return false
	}

	inputs := map[string]any{"message": req.LastUserContent()}
	if o.cfg.TracingCredential == credentials.Present {
		for k, v := range req.ClientMetadata {
			inputs["client_"+k] = v
		}
	}

	_, err := o.recorder.StartRun(ctx, req.ConversationID, userID, inputs)
	if err != nil {
		slog.Warn("Telemetry run start failed, continuing without telemetry",
			"conversationId", req.ConversationID, "error", err)
		if o.metrics != nil {
			o.metrics.RecordError(observability.ErrorCodeTelemetry)
		}
		return false
	}
	return true
}

func (o *Orchestrator) logUserMessage(ctx context.Context, req *datatypes.ChatTurnRequest) {
	content := req.LastUserContent()
	o.recorder.LogMessage(ctx, req.ConversationID, "user", content, estimateTokens(content), nil, 0)
}

// serveMock handles the non-production degraded branch: a canned answer after
// a short simulated latency, tagged with the mock model name. The agent is
// never invoked.
func (o *Orchestrator) serveMock(ctx context.Context, span trace.Span, req *datatypes.ChatTurnRequest, telemetryOK bool, start time.Time) (*datatypes.ChatTurnResponse, error) {
	span.SetAttributes(attribute.String("turn.stage", stageMockReturning))
	slog.Warn("Model credential unusable, serving mock response",
		"conversationId", req.ConversationID,
		"credentialStatus", o.cfg.ModelCredential.String(),
	)
	if o.metrics != nil {
		o.metrics.RecordDegradedMode("mock_served")
	}

	if telemetryOK {
		o.logUserMessage(ctx, req)
	}

	latency := mockLatencyMin + time.Duration(rand.Int63n(int64(mockLatencyMax-mockLatencyMin)))
	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		span.SetStatus(codes.Error, "turn gave up before the simulated response completed")
		o.recordError(observability.ErrorCodeUpstream, start, "error")
		err := &UpstreamError{Message: "turn gave up at the gateway time limit", Err: ctx.Err()}
		if telemetryOK {
			o.recorder.LogError(context.WithoutCancel(ctx), req.ConversationID, err, nil)
		}
		return nil, err
	case <-timer.C:
	}

	content := mockContent(req.LastUserContent())
	timing := time.Since(start)

	if telemetryOK {
		responseMs := int(timing.Milliseconds())
		o.recorder.LogMessage(ctx, req.ConversationID, "assistant", content,
			estimateTokens(content), &responseMs, 0)
		o.recorder.CompleteRun(ctx, req.ConversationID, map[string]any{
			"answer": content,
			"model":  MockModelName,
		}, nil)
	}
	if o.metrics != nil {
		o.metrics.RecordTurn("mock", timing.Seconds())
	}

	return datatypes.NewChatTurnResponse(req.ConversationID, datatypes.ChatMessage{
		ID:      uuid.NewString(),
		Role:    "assistant",
		Content: content,
	}, MockModelName, timing.Milliseconds()), nil
}

// classifyAgentError maps an agent failure to the taxonomy. A missing
// backend credential is a configuration fault naming its variable; anything
// else is an upstream failure the client loop may retry.
func classifyAgentError(err error) error {
	var missingCred *retrieval.MissingCredentialError
	if errors.As(err, &missingCred) {
		return &ConfigurationError{
			Variable: missingCred.Variable,
			Message:  "retrieval backend credential is not configured",
		}
	}
	var unsupported *retrieval.UnsupportedProviderError
	if errors.As(err, &unsupported) {
		return &ConfigurationError{
			Variable: "RETRIEVER_PROVIDER",
			Message:  unsupported.Error(),
		}
	}
	return &UpstreamError{Message: "agent invocation failed", Err: err}
}

func (o *Orchestrator) recordError(code observability.ErrorCode, start time.Time, status string) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordError(code)
	o.metrics.RecordTurn(status, time.Since(start).Seconds())
}

// mockContent produces the degraded-mode answer. It echoes a trimmed view of
// the question so manual testing is legible, and stays under the size bound.
func mockContent(question string) string {
	trimmed := strings.TrimSpace(question)
	if len(trimmed) > 120 {
		trimmed = trimmed[:120] + "..."
	}
	content := fmt.Sprintf(
		"I'm running without a configured model right now, so here is a canned answer to %q: "+
			"start with what's in this week's box, pick two recipes that share prep, and batch "+
			"cook a grain to carry both. Configure OPENAI_API_KEY to get real answers.",
		trimmed,
	)
	if len(content) > maxMockContentBytes {
		content = content[:maxMockContentBytes]
	}
	return content
}

// estimateTokens is a rough 4-chars-per-token heuristic used only for
// telemetry accounting where the backend reported no usage.
func estimateTokens(content string) int {
	n := len(content) / 4
	if n == 0 && content != "" {
		n = 1
	}
	return n
}

func toAgentMessages(msgs []datatypes.ChatMessage) []agent.Message {
	out := make([]agent.Message, len(msgs))
	for i, m := range msgs {
		out[i] = agent.Message{ID: m.ID, Role: m.Role, Content: m.Content}
	}
	return out
}
