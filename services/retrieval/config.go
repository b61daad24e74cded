package retrieval

import (
	"context"
	"fmt"
	"log/slog"
)

// ProviderKind selects the backend family a retriever is bound to. The set
// is closed: adding a backend means adding a constant and a case to the
// Provision switch, which keeps the dispatch compile-checked rather than
// string-compared at call sites.
type ProviderKind string

const (
	// ProviderElastic is a managed Elasticsearch deployment (API-key auth).
	ProviderElastic ProviderKind = "elastic"

	// ProviderElasticLocal is a self-hosted Elasticsearch node (basic auth).
	ProviderElasticLocal ProviderKind = "elastic-local"

	// ProviderPinecone is a Pinecone serverless index.
	ProviderPinecone ProviderKind = "pinecone"

	// ProviderMongoDB is a MongoDB Atlas vector search collection.
	ProviderMongoDB ProviderKind = "mongodb"

	// ProviderWeaviate is a Weaviate class with nearVector search.
	ProviderWeaviate ProviderKind = "weaviate"

	// ProviderMemory is the in-process backend used when no external search
	// system is available. It applies the same scoping semantics as the real
	// backends so the pipeline stays testable end to end.
	ProviderMemory ProviderKind = "memory"
)

// ParseProviderKind maps a configured provider name to its kind.
func ParseProviderKind(s string) (ProviderKind, error) {
	switch ProviderKind(s) {
	case ProviderElastic, ProviderElasticLocal, ProviderPinecone,
		ProviderMongoDB, ProviderWeaviate, ProviderMemory:
		return ProviderKind(s), nil
	default:
		return "", &UnsupportedProviderError{Provider: s}
	}
}

// Default index naming roots. The deployment environment is always suffixed
// onto these, which is the mechanism keeping environments from ever sharing
// an index.
const (
	defaultBaseIndex       = "chopsky-recipes"
	defaultNamespacePrefix = "chopsky.documents"
)

// Config is the declarative retriever configuration, built once per chat
// turn and immutable afterwards.
type Config struct {
	// Provider selects the backend family.
	Provider ProviderKind

	// UserID scopes every query. Must be non-empty.
	UserID string

	// Environment is the deployment environment name (production,
	// development, ...). Suffixed into index and namespace names and merged
	// into every scoped filter.
	Environment string

	// EmbeddingModel is a "provider/model" spec; see ResolveEmbedder.
	EmbeddingModel string

	// SearchParams are caller-supplied filter parameters. The mandatory
	// {user_id, env} scope always takes precedence over them.
	SearchParams map[string]any

	// BaseIndex overrides the default index name root.
	BaseIndex string

	// NamespacePrefix overrides the default MongoDB namespace prefix. The
	// prefix carries the database/collection split as "db.collection".
	NamespacePrefix string
}

// baseIndex returns the configured or default index root.
func (c Config) baseIndex() string {
	if c.BaseIndex != "" {
		return c.BaseIndex
	}
	return defaultBaseIndex
}

// namespacePrefix returns the configured or default namespace prefix.
func (c Config) namespacePrefix() string {
	if c.NamespacePrefix != "" {
		return c.NamespacePrefix
	}
	return defaultNamespacePrefix
}

// IndexName computes the environment-suffixed index name, {base}-{env}.
func IndexName(base, env string) string {
	return fmt.Sprintf("%s-%s", base, env)
}

// Provision resolves the configuration into a concrete retriever.
//
// The user id is checked before any backend work. Each backend branch fails
// with a MissingCredentialError naming the first absent environment variable
// it needs; configuration gaps never surface later at query time. A fresh
// backend handle is constructed per call, so a retriever must not be cached
// across users.
func Provision(ctx context.Context, cfg Config) (Retriever, error) {
	if cfg.UserID == "" {
		return nil, &MissingUserError{}
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	slog.Debug("Provisioning retriever",
		"provider", cfg.Provider,
		"user_id", cfg.UserID,
		"env", cfg.Environment,
	)

	switch cfg.Provider {
	case ProviderElastic:
		return newElasticRetriever(cfg, false)
	case ProviderElasticLocal:
		return newElasticRetriever(cfg, true)
	case ProviderPinecone:
		return newPineconeRetriever(cfg)
	case ProviderMongoDB:
		return newMongoRetriever(ctx, cfg)
	case ProviderWeaviate:
		return newWeaviateRetriever(cfg)
	case ProviderMemory:
		return newMemoryRetriever(cfg), nil
	default:
		return nil, &UnsupportedProviderError{Provider: string(cfg.Provider)}
	}
}
