package retrieve

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/koopa0/recall/internal/index"
)

// DefaultLambda balances relevance against diversity in session
// context selection. Higher values favor relevance.
const DefaultLambda = 0.7

// fetchMultiple is how many candidates are pulled per requested result
// before diversity reranking.
const fetchMultiple = 2

type sessionConfig struct {
	topK   int
	lambda float64
}

// SessionOption configures a SessionContext call.
type SessionOption func(*sessionConfig)

// WithSessionTopK sets the number of context passages returned.
func WithSessionTopK(k int) SessionOption {
	return func(c *sessionConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithLambda overrides the relevance/diversity tradeoff. Values are
// clamped to [0, 1].
func WithLambda(lambda float64) SessionOption {
	return func(c *sessionConfig) {
		c.lambda = math.Min(1, math.Max(0, lambda))
	}
}

// SessionContext selects conversation passages for a session that are
// relevant to the query but not redundant with each other, using
// maximal marginal relevance over an oversampled candidate set.
func (e *Engine) SessionContext(ctx context.Context, sessionID, query string, opts ...SessionOption) ([]Result, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	cfg := sessionConfig{topK: e.topK, lambda: e.lambda}
	for _, opt := range opts {
		opt(&cfg)
	}

	embedding, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	fetchK := cfg.topK * fetchMultiple
	candidates, err := e.idx.Query(ctx, index.CollectionConversations, embedding[0], fetchK,
		index.Filter{SessionID: sessionID}, true)
	if err != nil {
		return nil, fmt.Errorf("query session %s: %w", sessionID, err)
	}

	selected := maxMarginalRelevance(candidates, cfg.topK, cfg.lambda)

	results := make([]Result, 0, len(selected))
	for _, hit := range selected {
		results = append(results, e.toResult(ctx, hit))
	}
	e.logger.Debug("session context selected",
		"session_id", sessionID, "candidates", len(candidates), "selected", len(results))
	return results, nil
}

// maxMarginalRelevance greedily picks k hits maximizing
//
//	lambda*relevance - (1-lambda)*maxSimilarityToSelected
//
// so each pick is relevant to the query yet different from what is
// already chosen. Candidates must carry their embeddings.
func maxMarginalRelevance(candidates []index.Hit, k int, lambda float64) []index.Hit {
	if len(candidates) <= k || len(candidates) == 0 {
		return candidates
	}

	selected := make([]index.Hit, 0, k)
	remaining := make([]index.Hit, len(candidates))
	copy(remaining, candidates)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := 0
		bestScore := math.Inf(-1)
		for i, cand := range remaining {
			redundancy := 0.0
			for _, sel := range selected {
				if sim := cosine32(cand.Embedding, sel.Embedding); sim > redundancy {
					redundancy = sim
				}
			}
			score := lambda*cand.Score - (1-lambda)*redundancy
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func cosine32(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
