// Package semantic adapts an embedding function into the relevance scorer the
// routing engine consumes. Scoring runs through an ephemeral in-memory
// chromem-go collection holding the conversation summary, so cosine
// similarity semantics stay identical to the retrieval stack.
package semantic

import (
	"context"
	"fmt"
	"hash/fnv"

	lru "github.com/hashicorp/golang-lru/v2"
	chromem "github.com/philippgille/chromem-go"
)

const defaultCacheSize = 512

// ChromemScorer scores message-vs-summary similarity with chromem-go.
// Identical (message, summary) pairs are memoized; the rolling summary
// changes rarely compared to message arrival rate.
type ChromemScorer struct {
	embed chromem.EmbeddingFunc
	cache *lru.Cache[uint64, float64]
}

// NewChromemScorer wraps the given embedding function. The embedder is the
// external collaborator; chromem only supplies storage and cosine math.
func NewChromemScorer(embed chromem.EmbeddingFunc, cacheSize int) (*ChromemScorer, error) {
	if embed == nil {
		return nil, fmt.Errorf("embedding function is required")
	}
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[uint64, float64](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create score cache: %w", err)
	}
	return &ChromemScorer{embed: embed, cache: cache}, nil
}

// Score returns cosine similarity in [0,1] between the candidate message and
// the conversation's reference summary.
func (s *ChromemScorer) Score(ctx context.Context, text, referenceSummary string) (float64, error) {
	if text == "" || referenceSummary == "" {
		return 0, fmt.Errorf("empty input to semantic scorer")
	}

	key := cacheKey(text, referenceSummary)
	if score, ok := s.cache.Get(key); ok {
		return score, nil
	}

	db := chromem.NewDB()
	collection, err := db.GetOrCreateCollection("reference", nil, s.embed)
	if err != nil {
		return 0, fmt.Errorf("create collection: %w", err)
	}
	if err := collection.AddDocument(ctx, chromem.Document{ID: "summary", Content: referenceSummary}); err != nil {
		return 0, fmt.Errorf("add summary document: %w", err)
	}

	results, err := collection.Query(ctx, text, 1, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("query similarity: %w", err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("no similarity result")
	}

	score := clamp01(float64(results[0].Similarity))
	s.cache.Add(key, score)
	return score, nil
}

func cacheKey(text, reference string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(reference))
	return h.Sum64()
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
