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
)

// elasticRetriever runs kNN queries against an Elasticsearch index over its
// HTTP search API. Two auth modes exist: managed deployments authenticate
// with an API key, self-hosted ("-local") nodes with basic auth.
type elasticRetriever struct {
	baseURL    string
	index      string
	apiKey     string
	username   string
	password   string
	local      bool
	embedder   embeddings.Embedder
	filter     map[string]any
	httpClient *http.Client
}

var _ Retriever = (*elasticRetriever)(nil)

// newElasticRetriever builds the retriever for the elastic and elastic-local
// provider kinds. Every missing variable is reported by name; nothing is
// deferred to the first query.
func newElasticRetriever(cfg Config, local bool) (*elasticRetriever, error) {
	baseURL := os.Getenv("ELASTICSEARCH_URL")
	if baseURL == "" {
		return nil, &MissingCredentialError{Variable: "ELASTICSEARCH_URL"}
	}

	r := &elasticRetriever{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		index:      IndexName(cfg.baseIndex(), cfg.Environment),
		local:      local,
		filter:     scopedParams(cfg.SearchParams, cfg.UserID, cfg.Environment),
		httpClient: http.DefaultClient,
	}

	if local {
		r.username = os.Getenv("ELASTICSEARCH_USERNAME")
		if r.username == "" {
			return nil, &MissingCredentialError{Variable: "ELASTICSEARCH_USERNAME"}
		}
		r.password = os.Getenv("ELASTICSEARCH_PASSWORD")
		if r.password == "" {
			return nil, &MissingCredentialError{Variable: "ELASTICSEARCH_PASSWORD"}
		}
	} else {
		r.apiKey = os.Getenv("ELASTICSEARCH_API_KEY")
		if r.apiKey == "" {
			return nil, &MissingCredentialError{Variable: "ELASTICSEARCH_API_KEY"}
		}
	}

	embedder, err := ResolveEmbedder(cfg.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	r.embedder = embedder
	return r, nil
}

type elasticSearchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string  `json:"_id"`
			Score  float64 `json:"_score"`
			Source struct {
				Content  string         `json:"content"`
				Source   string         `json:"source"`
				Metadata map[string]any `json:"metadata"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search implements Retriever with an embedded-vector kNN query. The scoped
// filter is expressed as term clauses, restricting candidates before ranking.
func (r *elasticRetriever) Search(ctx context.Context, query string, k int) ([]Document, error) {
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	termFilters := make([]map[string]any, 0, len(r.filter))
	for field, value := range r.filter {
		termFilters = append(termFilters, map[string]any{
			"term": map[string]any{field: value},
		})
	}

	body := map[string]any{
		"size": k,
		"knn": map[string]any{
			"field":          "embedding",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": k * 10,
			"filter":         termFilters,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	searchURL := fmt.Sprintf("%s/%s/_search", r.baseURL, r.index)
	req, err := http.NewRequestWithContext(ctx, "POST", searchURL, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.local {
		req.SetBasicAuth(r.username, r.password)
	} else {
		req.Header.Set("Authorization", "ApiKey "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elasticsearch returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed elasticSearchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	docs := make([]Document, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		docs = append(docs, Document{
			ID:       hit.ID,
			Content:  hit.Source.Content,
			Source:   hit.Source.Source,
			Score:    hit.Score,
			Metadata: hit.Source.Metadata,
		})
	}
	return docs, nil
}
