package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRetriever_ScopedSeedDocuments(t *testing.T) {
	r := newMemoryRetriever(baseConfig(ProviderMemory))

	docs, err := r.Search(context.Background(), "batch cooking grains", 3)
	require.NoError(t, err)
	require.NotEmpty(t, docs)

	for _, doc := range docs {
		assert.Equal(t, "user-123", doc.Metadata["user_id"])
		assert.Equal(t, "development", doc.Metadata["env"])
	}
}

func TestMemoryRetriever_RankingAndLimit(t *testing.T) {
	r := newMemoryRetriever(baseConfig(ProviderMemory))

	docs, err := r.Search(context.Background(), "roasted root vegetables farro", 2)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.LessOrEqual(t, len(docs), 2)

	// Best match first.
	assert.Equal(t, "recipes/roasted-root-bowl.md", docs[0].Source)
	for i := 1; i < len(docs); i++ {
		assert.GreaterOrEqual(t, docs[i-1].Score, docs[i].Score)
	}
}

func TestMemoryRetriever_NoMatches(t *testing.T) {
	r := newMemoryRetriever(baseConfig(ProviderMemory))

	docs, err := r.Search(context.Background(), "quantum chromodynamics", 5)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMemoryRetriever_CanceledContext(t *testing.T) {
	r := newMemoryRetriever(baseConfig(ProviderMemory))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Search(ctx, "greens", 2)
	assert.ErrorIs(t, err, context.Canceled)
}
