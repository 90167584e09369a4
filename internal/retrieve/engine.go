// Package retrieve implements the read path: cross-collection semantic
// search, diversity-aware session context selection, and exact full
// content recovery.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/koopa0/recall/internal/content"
	"github.com/koopa0/recall/internal/index"
	"github.com/koopa0/recall/internal/llm"
	"github.com/koopa0/recall/internal/log"
)

// DefaultTopK is the result count when the caller does not specify one.
const DefaultTopK = 5

var (
	// ErrEmptyQuery indicates a blank search query.
	ErrEmptyQuery = errors.New("query must not be empty")

	// ErrEmptySessionID indicates a blank session id.
	ErrEmptySessionID = errors.New("session id must not be empty")

	// ErrUnknownCollection indicates a collection outside the known set.
	ErrUnknownCollection = errors.New("unknown collection")
)

// Index is the slice of the vector index the engine reads from.
type Index interface {
	Query(ctx context.Context, collection string, embedding []float32, k int, f index.Filter, withVectors bool) ([]index.Hit, error)
	Get(ctx context.Context, collection string, f index.Filter, withVectors bool, limit int) ([]index.Point, error)
}

// Contents is the slice of the content backup store the engine reads.
type Contents interface {
	Get(ctx context.Context, contentType, contentID string) (string, error)
	Put(ctx context.Context, contentType, contentID, body string) error
	Exists(ctx context.Context, contentType, contentID string) (bool, error)
}

// Result is one search hit, flattened for callers.
type Result struct {
	ID                   string  `json:"id"`
	Collection           string  `json:"collection"`
	SourceType           string  `json:"source_type"`
	SourceID             string  `json:"source_id"`
	SessionID            string  `json:"session_id,omitempty"`
	Text                 string  `json:"text"`
	Summary              string  `json:"summary,omitempty"`
	Score                float64 `json:"score"`
	ChunkIndex           int     `json:"chunk_index"`
	TotalChunks          int     `json:"total_chunks"`
	FullContentAvailable bool    `json:"full_content_available"`
}

// Engine answers retrieval queries against the index and the content
// backup store.
type Engine struct {
	idx      Index
	contents Contents
	embedder llm.Embedder
	logger   log.Logger
	topK     int
	lambda   float64
}

// EngineOption sets an engine-wide default.
type EngineOption func(*Engine)

// WithDefaultTopK sets the result count used when a call does not
// specify one.
func WithDefaultTopK(k int) EngineOption {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithDefaultLambda sets the relevance/diversity tradeoff used when a
// session context call does not specify one. Values are clamped to
// [0, 1].
func WithDefaultLambda(lambda float64) EngineOption {
	return func(e *Engine) {
		e.lambda = math.Min(1, math.Max(0, lambda))
	}
}

// NewEngine creates an Engine.
func NewEngine(idx Index, contents Contents, embedder llm.Embedder, logger log.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = log.NewNop()
	}
	e := &Engine{
		idx:      idx,
		contents: contents,
		embedder: embedder,
		logger:   logger,
		topK:     DefaultTopK,
		lambda:   DefaultLambda,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type searchConfig struct {
	topK        int
	collections []string
	filter      index.Filter
	filters     map[string]index.Filter
	minScore    float64
}

// filterFor resolves the filter for one collection: a per-collection
// filter wins, otherwise the shared one applies.
func (c *searchConfig) filterFor(collection string) index.Filter {
	if f, ok := c.filters[collection]; ok {
		return f
	}
	return c.filter
}

// SearchOption configures a Search call.
type SearchOption func(*searchConfig)

// WithTopK sets the maximum number of results.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithCollections restricts the search to specific collections.
func WithCollections(collections ...string) SearchOption {
	return func(c *searchConfig) {
		if len(collections) > 0 {
			c.collections = collections
		}
	}
}

// WithFilter applies a metadata filter to every queried collection.
func WithFilter(f index.Filter) SearchOption {
	return func(c *searchConfig) { c.filter = f }
}

// WithCollectionFilters applies a different metadata filter per
// collection. Collections absent from the map fall back to the
// WithFilter filter, or to no filter at all.
func WithCollectionFilters(filters map[string]index.Filter) SearchOption {
	return func(c *searchConfig) { c.filters = filters }
}

// WithMinScore drops results scoring below the threshold.
func WithMinScore(score float64) SearchOption {
	return func(c *searchConfig) { c.minScore = score }
}

// Search embeds the query once and runs it against every target
// collection in parallel. Results are merged, sorted by descending
// score, deduplicated to the best hit per source, and truncated to
// topK.
func (e *Engine) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	cfg := searchConfig{
		topK: e.topK,
		collections: []string{
			index.CollectionConversations,
			index.CollectionDocuments,
			index.CollectionWorkflows,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	for _, c := range cfg.collections {
		if !index.ValidCollection(c) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
		}
	}

	embedding, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	queryVec := embedding[0]

	var (
		mu   sync.Mutex
		hits []index.Hit
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, collection := range cfg.collections {
		g.Go(func() error {
			collHits, err := e.idx.Query(gctx, collection, queryVec, cfg.topK, cfg.filterFor(collection), false)
			if err != nil {
				return fmt.Errorf("query %s: %w", collection, err)
			}
			mu.Lock()
			hits = append(hits, collHits...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := dedupe(hits)

	results := make([]Result, 0, cfg.topK)
	for _, hit := range merged {
		if hit.Score < cfg.minScore {
			continue
		}
		results = append(results, e.toResult(ctx, hit))
		if len(results) == cfg.topK {
			break
		}
	}

	e.logger.Debug("search complete",
		"collections", len(cfg.collections), "hits", len(hits), "results", len(results))
	return results, nil
}

// dedupe sorts hits by descending score and keeps only the best hit
// per (source type, source id).
func dedupe(hits []index.Hit) []index.Hit {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	seen := make(map[string]bool, len(hits))
	out := hits[:0]
	for _, hit := range hits {
		key := hit.Meta.SourceType + "/" + hit.Meta.SourceID
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, hit)
	}
	return out
}

func (e *Engine) toResult(ctx context.Context, hit index.Hit) Result {
	available := false
	if ok, err := e.contents.Exists(ctx, hit.Meta.SourceType, hit.Meta.SourceID); err == nil {
		available = ok
	}
	return Result{
		ID:                   hit.ID,
		Collection:           hit.Collection,
		SourceType:           hit.Meta.SourceType,
		SourceID:             hit.Meta.SourceID,
		SessionID:            hit.Meta.SessionID,
		Text:                 hit.Text,
		Summary:              hit.Meta.Summary,
		Score:                hit.Score,
		ChunkIndex:           hit.Meta.ChunkIndex,
		TotalChunks:          hit.Meta.TotalChunks,
		FullContentAvailable: available,
	}
}

// Content is the recovered full text of one source.
type Content struct {
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
	Text       string `json:"text"`
	// Reconstructed is true when the backup store had no copy and the
	// text was reassembled from chunks.
	Reconstructed bool `json:"reconstructed"`
	// ChecksumMismatch is true when the recovered text does not hash
	// to the checksum recorded at ingest time. The text is still
	// returned; the flag tells the caller it may be stale or lossy.
	ChecksumMismatch bool `json:"checksum_mismatch"`
}

// FullContent recovers the original text of a source. The backup store
// is authoritative; when it has no copy, the text is rebuilt from the
// source's chunks and written back so the next read is cheap.
func (e *Engine) FullContent(ctx context.Context, sourceType, sourceID string) (Content, error) {
	collection, err := index.CollectionForSource(sourceType)
	if err != nil {
		return Content{}, err
	}

	chunks, err := e.idx.Get(ctx, collection, index.Filter{SourceID: sourceID}, false, 0)
	if err != nil {
		return Content{}, fmt.Errorf("failed to load chunks for %s: %w", sourceID, err)
	}

	result := Content{SourceType: sourceType, SourceID: sourceID}

	text, err := e.contents.Get(ctx, sourceType, sourceID)
	switch {
	case err == nil:
		result.Text = text
	case len(chunks) > 0:
		result.Text = index.ReconstructText(chunks)
		result.Reconstructed = true
		if putErr := e.contents.Put(ctx, sourceType, sourceID, result.Text); putErr != nil {
			e.logger.Warn("backup write-through failed",
				"source_type", sourceType, "source_id", sourceID, "error", putErr)
		}
	default:
		return Content{}, fmt.Errorf("%w: %s/%s", content.ErrNotFound, sourceType, sourceID)
	}

	if len(chunks) > 0 {
		stored := chunks[0].Meta.Checksum
		if stored != "" && stored != content.Checksum(result.Text) {
			result.ChecksumMismatch = true
			e.logger.Warn("content checksum mismatch",
				"source_type", sourceType, "source_id", sourceID,
				"reconstructed", result.Reconstructed)
		}
	}
	return result, nil
}
