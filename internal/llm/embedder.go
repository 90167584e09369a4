// Package llm wraps the model-facing concerns: embedding text into
// vectors, summarizing content, and answering questions over retrieved
// context. Adapters exist for Genkit models and the OpenAI API; every
// consumer depends on the small interfaces defined here, never on a
// provider SDK.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"

	"github.com/koopa0/recall/internal/log"
)

// ErrEmptyEmbedding indicates the provider returned no vector for an
// input text.
var ErrEmptyEmbedding = errors.New("provider returned empty embedding")

// Embedder turns text into fixed-dimension vectors. Implementations
// must be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Gateway adapts a Genkit ai.Embedder into the Embedder interface,
// adding rate limiting, a per-call timeout, and dimension validation.
type Gateway struct {
	embedder  ai.Embedder
	dimension int
	options   any
	limiter   *rate.Limiter
	timeout   time.Duration
	logger    log.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithRateLimit caps embedding calls at rps requests per second with
// the given burst.
func WithRateLimit(rps float64, burst int) GatewayOption {
	return func(g *Gateway) {
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTimeout bounds each provider call. Zero disables the bound.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.timeout = d }
}

// WithEmbedOptions attaches provider-specific options to every embed
// request. Gemini models need &genai.EmbedContentConfig with
// OutputDimensionality set, or they return full-width vectors that the
// dimension check rejects.
func WithEmbedOptions(options any) GatewayOption {
	return func(g *Gateway) { g.options = options }
}

// NewGateway creates a Gateway around a Genkit embedder. dimension is
// the vector size the provider is expected to produce; mismatched
// responses are rejected rather than silently stored.
func NewGateway(embedder ai.Embedder, dimension int, logger log.Logger, opts ...GatewayOption) *Gateway {
	if logger == nil {
		logger = log.NewNop()
	}
	g := &Gateway{
		embedder:  embedder,
		dimension: dimension,
		timeout:   30 * time.Second,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Embed embeds a batch of texts in one provider call. The returned
// slice is index-aligned with texts.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding rate limit wait: %w", err)
		}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	docs := make([]*ai.Document, len(texts))
	for i, text := range texts {
		docs[i] = ai.DocumentFromText(text, nil)
	}

	resp, err := g.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs, Options: g.options})
	if err != nil {
		return nil, fmt.Errorf("failed to embed batch of %d: %w", len(texts), err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("%w: input %d", ErrEmptyEmbedding, i)
		}
		if g.dimension > 0 && len(emb.Embedding) != g.dimension {
			return nil, fmt.Errorf("embedder returned dimension %d, expected %d", len(emb.Embedding), g.dimension)
		}
		vectors[i] = emb.Embedding
	}

	g.logger.Debug("embedded batch", "texts", len(texts), "dimension", len(vectors[0]))
	return vectors, nil
}

// EmbedOne embeds a single text.
func (g *Gateway) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
