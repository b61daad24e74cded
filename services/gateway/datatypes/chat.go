// Package datatypes provides request and response types for the gateway
// service, with validation via go-playground/validator.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	// Byte length, not rune count, so oversized payloads are rejected before
	// they cost memory.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxMessagesPerRequest caps the conversation history per request.
	MaxMessagesPerRequest = 100
)

// chatValidate is the shared validator instance for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// ChatMessage is one turn of a conversation.
//
// Role must be one of "user", "assistant", or "system". Content is limited to
// 32KB per message.
type ChatMessage struct {
	ID      string `json:"id,omitempty"`
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required,maxbytes"`
}

// ChatTurnRequest is the body of POST /v1/chat/turn.
//
// # Fields
//
//   - ConversationID: Required. Stable identifier for the conversation; the
//     telemetry run is keyed by it.
//   - UserID: Optional. Scopes document retrieval to the requesting user.
//     When empty, the server-configured default owner applies.
//   - Messages: Required. Chronological history, 1-100 entries, ending with
//     the user turn to answer.
//   - ClientMetadata: Optional. Free-form client context attached to the
//     telemetry run (client name, app version).
type ChatTurnRequest struct {
	ConversationID string            `json:"conversation_id" validate:"required,max=128"`
	UserID         string            `json:"user_id" validate:"omitempty,max=128"`
	Messages       []ChatMessage     `json:"messages" validate:"required,min=1,max=100,dive"`
	ClientMetadata map[string]string `json:"client_metadata,omitempty" validate:"omitempty,max=16"`
}

// Validate checks the request after JSON binding.
func (r *ChatTurnRequest) Validate() error {
	return chatValidate.Struct(r)
}

// LastUserContent returns the content of the most recent user message, or ""
// when the history has none.
func (r *ChatTurnRequest) LastUserContent() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// ChatTurnResponse is the success body of POST /v1/chat/turn.
//
// TimingMs is always present, including on the degraded-mode mock path, so
// clients can chart latency without branching on outcome.
type ChatTurnResponse struct {
	ResponseID       string      `json:"response_id"`
	ConversationID   string      `json:"conversation_id"`
	AssistantMessage ChatMessage `json:"assistant_message"`
	Model            string      `json:"model"`
	Usage            *TokenUsage `json:"usage,omitempty"`
	TimingMs         int64       `json:"timing_ms"`
	Timestamp        int64       `json:"timestamp"`
}

// NewChatTurnResponse stamps a response with its server-side identifiers.
func NewChatTurnResponse(conversationID string, assistant ChatMessage, model string, timingMs int64) *ChatTurnResponse {
	return &ChatTurnResponse{
		ResponseID:       uuid.NewString(),
		ConversationID:   conversationID,
		AssistantMessage: assistant,
		Model:            model,
		TimingMs:         timingMs,
		Timestamp:        time.Now().UnixMilli(),
	}
}

// TokenUsage tracks token consumption for a turn.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ErrorResponse is the body of every non-2xx response. Error is a stable
// machine-readable code; Message is human-readable. TimingMs is included for
// processing failures so failed turns still report latency.
type ErrorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	TimingMs int64  `json:"timing_ms,omitempty"`
}
