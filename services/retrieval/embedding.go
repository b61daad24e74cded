package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// EmbeddingSpec is a parsed "provider/model" embedding specification.
type EmbeddingSpec struct {
	Provider string
	Model    string
}

// ParseEmbeddingSpec splits a spec string on the first "/". A spec without a
// slash is an OpenAI model name.
func ParseEmbeddingSpec(spec string) EmbeddingSpec {
	provider, model, found := strings.Cut(spec, "/")
	if !found {
		return EmbeddingSpec{Provider: "openai", Model: spec}
	}
	return EmbeddingSpec{Provider: provider, Model: model}
}

// openaiTokenFallback is handed to the client when OPENAI_API_KEY is unset.
// The client constructor refuses an empty token, but a missing key is not an
// error at resolve time; it has to surface on the first embedding call
// instead, which an implausible token guarantees.
const openaiTokenFallback = "unset-openai-api-key"

// ResolveEmbedder resolves a "provider/model" spec into a callable embedding
// backend. No network call is made until the embedder is used. An unknown
// provider is an UnsupportedProviderError, never a silent default beyond the
// missing-slash openai fallback.
func ResolveEmbedder(spec string) (embeddings.Embedder, error) {
	parsed := ParseEmbeddingSpec(spec)
	if parsed.Model == "" {
		return nil, fmt.Errorf("embedding spec %q has no model name", spec)
	}

	switch parsed.Provider {
	case "openai":
		token := os.Getenv("OPENAI_API_KEY")
		if token == "" {
			token = openaiTokenFallback
		}
		llm, err := openai.New(
			openai.WithToken(token),
			openai.WithEmbeddingModel(parsed.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to construct openai embedding client: %w", err)
		}
		return embeddings.NewEmbedder(llm)
	case "cohere":
		return newCohereEmbedder(parsed.Model), nil
	default:
		return nil, &UnsupportedProviderError{Provider: parsed.Provider}
	}
}

// =============================================================================
// Cohere Embedder
// =============================================================================

// cohereEmbedder implements embeddings.Embedder over the Cohere embed API.
// The upstream abstraction has no Cohere embedding client, so this talks to
// the documented HTTP contract directly.
type cohereEmbedder struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

var _ embeddings.Embedder = (*cohereEmbedder)(nil)

func newCohereEmbedder(model string) *cohereEmbedder {
	baseURL := os.Getenv("COHERE_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.cohere.com"
	}
	return &cohereEmbedder{
		model:      model,
		apiKey:     os.Getenv("COHERE_API_KEY"),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
}

type cohereEmbedRequest struct {
	Model     string   `json:"model"`
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
}

type cohereEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedDocuments implements embeddings.Embedder.
func (c *cohereEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embed(ctx, texts, "search_document")
}

// EmbedQuery implements embeddings.Embedder.
func (c *cohereEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embed(ctx, []string{text}, "search_query")
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("cohere returned no embeddings")
	}
	return vectors[0], nil
}

func (c *cohereEmbedder) embed(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	payload, err := json.Marshal(cohereEmbedRequest{
		Model:     c.model,
		Texts:     texts,
		InputType: inputType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/embed", bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cohere embed request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cohere embed returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed cohereEmbedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse embed response: %w", err)
	}
	return parsed.Embeddings, nil
}
