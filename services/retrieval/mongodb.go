package retrieval

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoNamespace computes the environment- and user-suffixed namespace,
// {prefix}_{env}_{userID}, and splits it into database and collection on the
// first "." carried by the prefix.
func mongoNamespace(prefix, env, userID string) (database, collection string) {
	namespace := fmt.Sprintf("%s_%s_%s", prefix, env, userID)
	database, collection, found := strings.Cut(namespace, ".")
	if !found {
		return namespace, "documents"
	}
	return database, collection
}

// mongoRetriever runs $vectorSearch aggregations against a MongoDB Atlas
// collection. The scoped filter is a pre-filter using Atlas's
// comparison-operator form ($eq) rather than plain equality documents, which
// is what the vector search stage requires.
type mongoRetriever struct {
	collection *mongo.Collection
	embedder   embeddings.Embedder
	filter     bson.D
}

var _ Retriever = (*mongoRetriever)(nil)

func newMongoRetriever(ctx context.Context, cfg Config) (*mongoRetriever, error) {
	uri := os.Getenv("MONGODB_ATLAS_URI")
	if uri == "" {
		return nil, &MissingCredentialError{Variable: "MONGODB_ATLAS_URI"}
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	embedder, err := ResolveEmbedder(cfg.EmbeddingModel)
	if err != nil {
		return nil, err
	}

	database, collection := mongoNamespace(cfg.namespacePrefix(), cfg.Environment, cfg.UserID)

	filter := bson.D{}
	for field, value := range scopedParams(cfg.SearchParams, cfg.UserID, cfg.Environment) {
		filter = append(filter, bson.E{Key: field, Value: bson.D{{Key: "$eq", Value: value}}})
	}

	return &mongoRetriever{
		collection: client.Database(database).Collection(collection),
		embedder:   embedder,
		filter:     filter,
	}, nil
}

// Search implements Retriever.
func (r *mongoRetriever) Search(ctx context.Context, query string, k int) ([]Document, error) {
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: "vector_index"},
			{Key: "path", Value: "embedding"},
			{Key: "queryVector", Value: vector},
			{Key: "numCandidates", Value: k * 10},
			{Key: "limit", Value: k},
			{Key: "filter", Value: r.filter},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "content", Value: 1},
			{Key: "source", Value: 1},
			{Key: "metadata", Value: 1},
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongodb vector search failed: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID       any            `bson:"_id"`
		Content  string         `bson:"content"`
		Source   string         `bson:"source"`
		Metadata map[string]any `bson:"metadata"`
		Score    float64        `bson:"score"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode vector search results: %w", err)
	}

	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, Document{
			ID:       fmt.Sprintf("%v", row.ID),
			Content:  row.Content,
			Source:   row.Source,
			Score:    row.Score,
			Metadata: row.Metadata,
		})
	}
	return docs, nil
}
