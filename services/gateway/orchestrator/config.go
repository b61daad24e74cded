package orchestrator

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/daviswhitehead/chef-chopsky-sub000/pkg/credentials"
	"github.com/daviswhitehead/chef-chopsky-sub000/services/retrieval"
)

// Config is the orchestrator's environment-driven configuration, resolved
// once at startup. Credential statuses are resolved here and consumed by
// value everywhere; no later code re-inspects the raw key strings.
type Config struct {
	// Environment is the deployment environment name (APP_ENV). It suffixes
	// retrieval index names and selects the degraded-mode branch.
	Environment string

	// RetrieverProvider selects the retrieval backend for every turn.
	RetrieverProvider retrieval.ProviderKind

	// EmbeddingModel is the "provider/model" embedding spec.
	EmbeddingModel string

	// Model is the chat model identifier passed to the agent backend.
	Model string

	// DefaultUserID scopes retrieval when the request carries no user id.
	DefaultUserID string

	// ModelCredential is the resolved status of OPENAI_API_KEY. Anything
	// other than Present puts the gateway in degraded mode.
	ModelCredential credentials.Status

	// TracingCredential is the resolved status of TRACING_API_KEY. Run
	// metadata is attached to traces only when it is Present.
	TracingCredential credentials.Status
}

// FromEnv resolves the orchestrator configuration. An unknown retriever
// provider is a startup error; a missing model credential is not (that is the
// degraded-mode branch, decided per request).
func FromEnv() (Config, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
		slog.Warn("APP_ENV not set, using default", "environment", env)
	}

	providerName := os.Getenv("RETRIEVER_PROVIDER")
	if providerName == "" {
		providerName = string(retrieval.ProviderMemory)
		slog.Warn("RETRIEVER_PROVIDER not set, using default", "provider", providerName)
	}
	provider, err := retrieval.ParseProviderKind(providerName)
	if err != nil {
		return Config{}, fmt.Errorf("invalid RETRIEVER_PROVIDER: %w", err)
	}

	embeddingModel := os.Getenv("EMBEDDING_MODEL")
	if embeddingModel == "" {
		embeddingModel = "openai/text-embedding-3-small"
	}

	defaultUserID := os.Getenv("DEFAULT_USER_ID")
	if defaultUserID == "" {
		defaultUserID = "anonymous"
	}

	cfg := Config{
		Environment:       env,
		RetrieverProvider: provider,
		EmbeddingModel:    embeddingModel,
		Model:             os.Getenv("OPENAI_MODEL"),
		DefaultUserID:     defaultUserID,
		ModelCredential:   credentials.ResolveEnv("OPENAI_API_KEY"),
		TracingCredential: credentials.ResolveEnv("TRACING_API_KEY"),
	}

	slog.Info("Orchestrator configuration resolved",
		"environment", cfg.Environment,
		"retrieverProvider", cfg.RetrieverProvider,
		"embeddingModel", cfg.EmbeddingModel,
		"modelCredential", cfg.ModelCredential,
		"tracingCredential", cfg.TracingCredential,
	)
	return cfg, nil
}

// Production reports whether the environment is production, which turns an
// unusable model credential from a mock response into a hard failure.
func (c Config) Production() bool {
	return c.Environment == "production"
}
