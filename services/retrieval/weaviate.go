package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// weaviateRetriever runs nearVector queries against a Weaviate class. The
// environment-suffixed index name is sanitized into a legal class name, and
// the scoped filter becomes a where clause of equality operands.
type weaviateRetriever struct {
	client    *weaviate.Client
	className string
	embedder  embeddings.Embedder
	where     *filters.WhereBuilder
}

var _ Retriever = (*weaviateRetriever)(nil)

func newWeaviateRetriever(cfg Config) (*weaviateRetriever, error) {
	rawURL := os.Getenv("WEAVIATE_URL")
	if rawURL == "" {
		return nil, &MissingCredentialError{Variable: "WEAVIATE_URL"}
	}
	parsed, err := url.Parse(strings.Trim(rawURL, "\"' "))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid WEAVIATE_URL %q", rawURL)
	}

	clientConf := weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	}
	if apiKey := os.Getenv("WEAVIATE_API_KEY"); apiKey != "" {
		clientConf.AuthConfig = auth.ApiKey{Value: apiKey}
	}
	client, err := weaviate.NewClient(clientConf)
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}

	embedder, err := ResolveEmbedder(cfg.EmbeddingModel)
	if err != nil {
		return nil, err
	}

	scope := scopedParams(cfg.SearchParams, cfg.UserID, cfg.Environment)
	operands := make([]*filters.WhereBuilder, 0, len(scope))
	for field, value := range scope {
		operands = append(operands, filters.Where().
			WithPath([]string{field}).
			WithOperator(filters.Equal).
			WithValueText(fmt.Sprintf("%v", value)))
	}
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands(operands)

	return &weaviateRetriever{
		client:    client,
		className: weaviateClassName(IndexName(cfg.baseIndex(), cfg.Environment)),
		embedder:  embedder,
		where:     where,
	}, nil
}

// weaviateClassName converts an environment-suffixed index name into a legal
// Weaviate class name (CapitalizedCamelCase, no separators).
func weaviateClassName(index string) string {
	var b strings.Builder
	for _, part := range strings.FieldsFunc(index, func(r rune) bool {
		return r == '-' || r == '_' || r == '.'
	}) {
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

type weaviateQueryResult struct {
	Get map[string][]struct {
		Content    string `json:"content"`
		Source     string `json:"source"`
		Additional struct {
			ID       string  `json:"id"`
			Distance float64 `json:"distance"`
		} `json:"_additional"`
	} `json:"Get"`
}

// Search implements Retriever.
func (r *weaviateRetriever) Search(ctx context.Context, query string, k int) ([]Document, error) {
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	nearVector := r.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	resp, err := r.client.GraphQL().Get().
		WithClassName(r.className).
		WithNearVector(nearVector).
		WithWhere(r.where).
		WithLimit(k).
		WithFields(
			graphql.Field{Name: "content"},
			graphql.Field{Name: "source"},
			graphql.Field{Name: "_additional { id distance }"},
		).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate query failed: %w", err)
	}

	return parseWeaviateDocuments(resp, r.className)
}

// parseWeaviateDocuments converts a GraphQL response into Documents. The
// response shape is a map keyed by class name, so the round trip goes
// through JSON to reach typed structs.
func parseWeaviateDocuments(resp *models.GraphQLResponse, className string) ([]Document, error) {
	if resp == nil || resp.Data == nil {
		return []Document{}, nil
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response data: %w", err)
	}
	var result weaviateQueryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weaviate query result: %w", err)
	}

	items := result.Get[className]
	docs := make([]Document, 0, len(items))
	for _, item := range items {
		docs = append(docs, Document{
			ID:      item.Additional.ID,
			Content: item.Content,
			Source:  item.Source,
			// Distance is a dissimilarity; flip it so larger means closer,
			// matching the other backends.
			Score: 1 - item.Additional.Distance,
		})
	}
	return docs, nil
}
