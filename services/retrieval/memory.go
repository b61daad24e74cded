package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// sampleDocuments is the fixed corpus the in-process backend serves. The
// content mirrors the kind of material the real indexes hold so downstream
// prompt assembly behaves the same without an external store.
var sampleDocuments = []struct {
	source  string
	content string
}{
	{
		source: "guides/csa-box-basics.md",
		content: "A weekly CSA box typically includes leafy greens, root vegetables, " +
			"and seasonal produce. Plan meals around the most perishable items first: " +
			"use delicate greens within two days, then move to squash, brassicas, and roots.",
	},
	{
		source: "guides/batch-cooking.md",
		content: "Batch cooking on Sunday covers most weeknight dinners. Roast two trays " +
			"of vegetables, cook a pot of grains, and prepare one versatile sauce. " +
			"Combinations of these three components yield distinct meals all week.",
	},
	{
		source: "recipes/roasted-root-bowl.md",
		content: "Roasted root bowl: toss carrots, beets, and parsnips with olive oil, " +
			"roast at 220C for 30 minutes, serve over farro with tahini dressing. " +
			"Stores well for four days refrigerated.",
	},
	{
		source: "recipes/greens-frittata.md",
		content: "Greens frittata: wilt chard or kale with onion, add eight beaten eggs, " +
			"finish in the oven. A fast way to use large volumes of leafy greens before " +
			"they fade.",
	},
	{
		source: "guides/pantry-staples.md",
		content: "Keep grains, dried beans, canned tomatoes, and a good olive oil stocked. " +
			"With those staples, any vegetable box converts to soups, stews, and grain " +
			"bowls without extra shopping.",
	},
}

// memoryRetriever is the in-process backend. It requires no external service
// and exists so the full pipeline is exercisable in tests and local
// development; the scoping semantics match the real backends exactly.
type memoryRetriever struct {
	docs   []Document
	filter map[string]any
}

var _ Retriever = (*memoryRetriever)(nil)

func newMemoryRetriever(cfg Config) *memoryRetriever {
	filter := scopedParams(cfg.SearchParams, cfg.UserID, cfg.Environment)

	docs := make([]Document, 0, len(sampleDocuments))
	for i, sample := range sampleDocuments {
		docs = append(docs, Document{
			ID:      fmt.Sprintf("mem-%d", i),
			Content: sample.content,
			Source:  sample.source,
			Metadata: map[string]any{
				"user_id": cfg.UserID,
				"env":     cfg.Environment,
			},
		})
	}
	return &memoryRetriever{docs: docs, filter: filter}
}

// Search implements Retriever with deterministic term-overlap scoring.
// Documents whose metadata does not satisfy the scoped filter are excluded,
// mirroring the pre-filter behavior of the external backends.
func (r *memoryRetriever) Search(ctx context.Context, query string, k int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := strings.Fields(strings.ToLower(query))
	scored := make([]Document, 0, len(r.docs))
	for _, doc := range r.docs {
		if !r.matchesFilter(doc) {
			continue
		}
		content := strings.ToLower(doc.Content + " " + doc.Source)
		hits := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				hits++
			}
		}
		if len(terms) > 0 && hits == 0 {
			continue
		}
		doc.Score = float64(hits) / float64(max(len(terms), 1))
		scored = append(scored, doc)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (r *memoryRetriever) matchesFilter(doc Document) bool {
	for field, want := range r.filter {
		got, ok := doc.Metadata[field]
		if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}
