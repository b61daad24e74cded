package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/daviswhitehead/chef-chopsky-sub000/services/retrieval"
)

var agentTracer = otel.Tracer("chopsky.agent")

// defaultTopK is the grounding document count when the invocation does not
// specify one.
const defaultTopK = 4

// systemPersona frames the assistant. Retrieved documents are appended
// underneath it per request.
const systemPersona = "You are Chef Chopsky, a meal-prep assistant. You help plan " +
	"weeknight dinners around a weekly CSA vegetable box: practical recipes, batch " +
	"cooking, and minimal waste. Ground answers in the provided context when it is " +
	"relevant, and say so when it is not."

// OpenAIClient is the production agent graph backend: provisions the
// configured retriever, grounds the system prompt with retrieved documents,
// and generates the assistant turn through the chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient constructs the backend from OPENAI_API_KEY and an optional
// default model. The key must be set; the degraded-mode decision for an
// unusable key belongs to the orchestrator, which never constructs this
// client in that case.
func NewOpenAIClient(defaultModel string) (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	if defaultModel == "" {
		defaultModel = openai.GPT4oMini
		slog.Warn("model not configured, defaulting", "model", defaultModel)
	}
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  defaultModel,
	}, nil
}

// Invoke implements Client.
//
// Retrieval failures degrade to an ungrounded answer rather than failing the
// turn; the model call itself failing is the caller's upstream error.
func (c *OpenAIClient) Invoke(ctx context.Context, inv *Invocation) (*Completion, error) {
	ctx, span := agentTracer.Start(ctx, "OpenAIClient.Invoke")
	defer span.End()

	model := inv.Model
	if model == "" {
		model = c.model
	}
	span.SetAttributes(
		attribute.String("agent.model", model),
		attribute.String("agent.retriever", string(inv.Retriever.Provider)),
		attribute.Int("agent.messages", len(inv.Messages)),
	)

	sources, err := c.retrieveContext(ctx, inv)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retriever provisioning failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("agent.sources", len(sources)))

	messages := make([]openai.ChatCompletionMessage, 0, len(inv.Messages)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: buildSystemPrompt(sources),
	})
	for _, m := range inv.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion failed")
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	return &Completion{
		Message: Message{
			ID:      uuid.NewString(),
			Role:    "assistant",
			Content: resp.Choices[0].Message.Content,
		},
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Sources: sources,
	}, nil
}

// retrieveContext provisions the configured retriever and fetches grounding
// documents for the last user message. Provisioning failures are
// configuration problems and propagate; a failed search against a correctly
// configured backend is logged and results in an ungrounded answer.
func (c *OpenAIClient) retrieveContext(ctx context.Context, inv *Invocation) ([]retrieval.Document, error) {
	query := lastUserMessage(inv.Messages)
	if query == "" {
		return nil, nil
	}

	retriever, err := retrieval.Provision(ctx, inv.Retriever)
	if err != nil {
		return nil, fmt.Errorf("retriever provisioning failed: %w", err)
	}

	topK := inv.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	docs, err := retriever.Search(ctx, query, topK)
	if err != nil {
		slog.Warn("Document retrieval failed, answering ungrounded",
			"provider", inv.Retriever.Provider, "error", err)
		return nil, nil
	}
	return docs, nil
}

// buildSystemPrompt appends numbered document context to the persona, in the
// "[Document N: source]" layout the prompt was tuned for.
func buildSystemPrompt(docs []retrieval.Document) string {
	if len(docs) == 0 {
		return systemPersona
	}

	var b strings.Builder
	b.WriteString(systemPersona)
	b.WriteString("\n\nContext:\n")
	for i, doc := range docs {
		fmt.Fprintf(&b, "[Document %d: %s]\n%s\n", i+1, doc.Source, doc.Content)
	}
	return b.String()
}

// lastUserMessage returns the content of the most recent user turn.
func lastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
