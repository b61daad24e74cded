package retrieval

import (
	"context"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/vectorstores"
	"github.com/tmc/langchaingo/vectorstores/pinecone"
)

// pineconeRetriever wraps a Pinecone index behind the uniform Retriever
// shape. The environment-suffixed index name becomes the Pinecone namespace,
// and the scoped filter is expressed in Pinecone's metadata filter DSL with
// explicit $eq comparisons.
type pineconeRetriever struct {
	store  pinecone.Store
	filter map[string]any
}

var _ Retriever = (*pineconeRetriever)(nil)

func newPineconeRetriever(cfg Config) (*pineconeRetriever, error) {
	apiKey := os.Getenv("PINECONE_API_KEY")
	if apiKey == "" {
		return nil, &MissingCredentialError{Variable: "PINECONE_API_KEY"}
	}
	host := os.Getenv("PINECONE_HOST")
	if host == "" {
		return nil, &MissingCredentialError{Variable: "PINECONE_HOST"}
	}

	embedder, err := ResolveEmbedder(cfg.EmbeddingModel)
	if err != nil {
		return nil, err
	}

	store, err := pinecone.New(
		pinecone.WithAPIKey(apiKey),
		pinecone.WithHost(host),
		pinecone.WithEmbedder(embedder),
		pinecone.WithNameSpace(IndexName(cfg.baseIndex(), cfg.Environment)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to construct pinecone store: %w", err)
	}

	scope := scopedParams(cfg.SearchParams, cfg.UserID, cfg.Environment)
	filter := make(map[string]any, len(scope))
	for field, value := range scope {
		filter[field] = map[string]any{"$eq": value}
	}

	return &pineconeRetriever{store: store, filter: filter}, nil
}

// Search implements Retriever.
func (r *pineconeRetriever) Search(ctx context.Context, query string, k int) ([]Document, error) {
	results, err := r.store.SimilaritySearch(ctx, query, k,
		vectorstores.WithFilters(r.filter))
	if err != nil {
		return nil, fmt.Errorf("pinecone search failed: %w", err)
	}

	docs := make([]Document, 0, len(results))
	for _, res := range results {
		doc := Document{
			Content:  res.PageContent,
			Score:    float64(res.Score),
			Metadata: res.Metadata,
		}
		if src, ok := res.Metadata["source"].(string); ok {
			doc.Source = src
		}
		if id, ok := res.Metadata["id"].(string); ok {
			doc.ID = id
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
