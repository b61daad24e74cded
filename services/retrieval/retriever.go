// Package retrieval provisions document retrievers for the conversation
// pipeline.
//
// A logical retriever configuration (provider kind, user scope, deployment
// environment, search parameters) is resolved into a concrete backend bound
// to one of several incompatible search systems. Every backend applies the
// same scoped filter so that documents belonging to other users or other
// deployment environments are never returned, and every backend exposes the
// same Search call shape so callers stay backend-agnostic.
package retrieval

import (
	"context"
	"fmt"
)

// Document is a retrieved document chunk, normalized across backends.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Source   string         `json:"source,omitempty"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Retriever is the uniform retrieval contract every provisioned backend
// satisfies. Search returns at most k documents ranked by relevance.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]Document, error)
}

// =============================================================================
// Error Types
// =============================================================================

// MissingUserError is returned when provisioning is attempted without a user
// id. The scoped filter cannot be built without one, so this fails before any
// backend is touched.
type MissingUserError struct{}

func (e *MissingUserError) Error() string {
	return "retriever provisioning requires a non-empty user id"
}

// MissingCredentialError names a required environment variable that was unset
// for the chosen backend. Provisioning-time configuration gaps are hard
// failures, never deferred to first query.
type MissingCredentialError struct {
	Variable string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("missing required environment variable %s", e.Variable)
}

// UnsupportedProviderError is returned for a provider name outside the known
// set, at construction time.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported retriever provider %q", e.Provider)
}

// =============================================================================
// Scoped Filter
// =============================================================================

// scopedParams merges caller-supplied search parameters with the mandatory
// {user_id, env} scope. The scope keys are written last so caller input can
// never override them.
func scopedParams(params map[string]any, userID, env string) map[string]any {
	merged := make(map[string]any, len(params)+2)
	for k, v := range params {
		merged[k] = v
	}
	merged["user_id"] = userID
	merged["env"] = env
	return merged
}
