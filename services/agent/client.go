// Package agent invokes the conversation agent graph: document retrieval
// grounding plus model generation, behind one backend-agnostic interface.
package agent

import (
	"context"

	"github.com/daviswhitehead/chef-chopsky-sub000/services/retrieval"
)

// Message is one turn of a conversation, in wire order.
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Invocation is the agent graph input: the assembled conversation plus the
// configurable retrieval/model fields derived from environment configuration.
type Invocation struct {
	Messages  []Message
	Model     string
	Retriever retrieval.Config

	// TopK is how many grounding documents to retrieve. Zero means the
	// default.
	TopK int

	// RunID tags the invocation with the telemetry run, when tracing
	// metadata is enabled.
	RunID string
}

// Completion is the agent graph output: the generated assistant turn plus
// accounting metadata.
type Completion struct {
	Message Message `json:"message"`
	Model   string  `json:"model"`
	Usage   Usage   `json:"usage"`

	// Sources lists the documents the answer was grounded on. Empty when
	// retrieval was skipped or degraded.
	Sources []retrieval.Document `json:"sources,omitempty"`
}

// Client is the standard interface for any agent graph backend.
type Client interface {
	Invoke(ctx context.Context, inv *Invocation) (*Completion, error)
}
