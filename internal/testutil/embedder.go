package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// Embedder is a deterministic in-memory embedder: the same text always
// yields the same unit vector, and different texts almost always yield
// different ones. Cosine similarity between vectors is therefore
// stable across test runs.
type Embedder struct {
	Dimension int

	// Err, when set, fails every call.
	Err error
	// FailOn fails any batch containing this exact text.
	FailOn string
	// Fixed overrides the derived vector for specific texts.
	Fixed map[string][]float32

	mu    sync.Mutex
	calls int
}

// NewEmbedder creates a fake embedder producing vectors of the given
// dimension.
func NewEmbedder(dimension int) *Embedder {
	return &Embedder{Dimension: dimension, Fixed: make(map[string][]float32)}
}

// Embed implements llm.Embedder.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if e.Err != nil {
		return nil, e.Err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if e.FailOn != "" && text == e.FailOn {
			return nil, &batchError{text: text}
		}
		if fixed, ok := e.Fixed[text]; ok {
			vectors[i] = fixed
			continue
		}
		vectors[i] = e.vector(text)
	}
	return vectors, nil
}

// Calls reports how many Embed calls were made.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// vector derives a unit vector from the text via a seeded hash chain.
func (e *Embedder) vector(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, e.Dimension)
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed>>11))/float64(1<<52) - 1
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

type batchError struct{ text string }

func (e *batchError) Error() string { return "embedding failed for text: " + e.text }
