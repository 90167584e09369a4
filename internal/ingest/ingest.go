// Package ingest implements the write path: it turns raw content into
// chunked, embedded, metadata-tagged points and keeps the content
// backup store and the derived summary record in step with them.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/recall/internal/content"
	"github.com/koopa0/recall/internal/index"
	"github.com/koopa0/recall/internal/llm"
	"github.com/koopa0/recall/internal/log"
)

// DefaultBatchSize is the number of chunks embedded and written per
// index transaction.
const DefaultBatchSize = 10

// Index is the slice of the vector index the pipeline writes to.
type Index interface {
	Add(ctx context.Context, points []index.Point) error
	Get(ctx context.Context, collection string, f index.Filter, withVectors bool, limit int) ([]index.Point, error)
	Lookup(ctx context.Context, id string) (index.Point, error)
	UpdateText(ctx context.Context, id, text string, embedding []float32) error
	Delete(ctx context.Context, collection string, f index.Filter) (int64, error)
}

// Contents is the slice of the content backup store the pipeline uses.
type Contents interface {
	Put(ctx context.Context, contentType, contentID, body string) error
	Delete(ctx context.Context, contentType, contentID string) error
}

// Chunker splits text into overlapping chunks.
type Chunker interface {
	Split(text string) []string
}

// Request describes one piece of content to ingest.
type Request struct {
	// SourceType is one of index.SourceConversation, index.SourceDocument,
	// index.SourceWorkflow.
	SourceType string
	// SourceID identifies the content; a fresh uuid is assigned when
	// empty.
	SourceID  string
	SessionID string
	Text      string
	// Summary, when set, skips summary generation.
	Summary  string
	Metadata map[string]any
}

// Result reports what an ingestion wrote.
type Result struct {
	SourceID string `json:"source_id"`
	Chunks   int    `json:"chunks"`
	Summary  string `json:"summary"`
}

// Error reports an aborted ingestion: batches before the failure were
// committed, everything from the failing batch on was not. The stored
// chunks form a contiguous prefix, but the source is incomplete until
// re-ingested.
type Error struct {
	SourceID string
	Written  int
	Failed   int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ingest %s: wrote %d chunks, %d failed: %v", e.SourceID, e.Written, e.Failed, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Pipeline coordinates chunking, summarization, embedding, and the
// three stores a source touches. Writes to the same source are
// serialized; different sources ingest concurrently.
type Pipeline struct {
	chunker    Chunker
	embedder   llm.Embedder
	idx        Index
	contents   Contents
	summarizer llm.Summarizer
	logger     log.Logger
	batchSize  int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBatchSize overrides the chunk write batch size.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithSummarizer enables model-generated summaries. Without one, the
// deterministic fallback heuristic is used.
func WithSummarizer(s llm.Summarizer) Option {
	return func(p *Pipeline) { p.summarizer = s }
}

// New creates a Pipeline.
func New(chunker Chunker, embedder llm.Embedder, idx Index, contents Contents, logger log.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = log.NewNop()
	}
	p := &Pipeline{
		chunker:   chunker,
		embedder:  embedder,
		idx:       idx,
		contents:  contents,
		logger:    logger,
		batchSize: DefaultBatchSize,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// sourceLock returns the mutex serializing writes for one source.
func (p *Pipeline) sourceLock(sourceType, sourceID string) *sync.Mutex {
	key := sourceType + "/" + sourceID
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[key] = lock
	}
	return lock
}

// Ingest runs the full write path for one source: chunk, summarize,
// checksum, embed, replace the source's points, back up the original
// text, and upsert the summary record.
//
// Empty text is not an error; it yields a result with zero chunks and
// writes nothing. Re-ingesting an existing source replaces all of its
// chunks so chunk indexes stay contiguous.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (Result, error) {
	collection, err := index.CollectionForSource(req.SourceType)
	if err != nil {
		return Result{}, err
	}
	if req.SourceID == "" {
		req.SourceID = uuid.NewString()
	}

	lock := p.sourceLock(req.SourceType, req.SourceID)
	lock.Lock()
	defer lock.Unlock()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		p.logger.Debug("skipping empty content", "source_id", req.SourceID)
		return Result{SourceID: req.SourceID}, nil
	}

	extra := index.Sanitize(req.Metadata)

	chunks := p.split(text, req.SourceType)
	summary := p.summarize(ctx, req, text)
	checksum := content.Checksum(text)
	now := time.Now()

	points := make([]index.Point, len(chunks))
	for i, c := range chunks {
		chunkText := c
		if i == 0 && summary != "" {
			chunkText = summary + "\n\n" + c
		}
		points[i] = index.Point{
			ID:         fmt.Sprintf("%s_%d", req.SourceID, i),
			Collection: collection,
			Text:       chunkText,
			Meta: index.Metadata{
				SourceID:       req.SourceID,
				SourceType:     req.SourceType,
				SessionID:      req.SessionID,
				ChunkIndex:     i,
				TotalChunks:    len(chunks),
				Checksum:       checksum,
				SummaryCarrier: i == 0,
				CreatedAt:      now,
				Extra:          extra,
			},
		}
	}
	if summary != "" {
		points[0].Meta.Summary = summary
	}

	// Stale chunks from a previous, possibly longer, version would
	// break index contiguity. Replace them wholesale.
	if _, err := p.idx.Delete(ctx, collection, index.Filter{SourceID: req.SourceID}); err != nil {
		return Result{}, fmt.Errorf("failed to clear existing chunks for %s: %w", req.SourceID, err)
	}

	written, writeErr := p.writeBatches(ctx, points)

	result := Result{SourceID: req.SourceID, Chunks: written, Summary: summary}

	// The backup store is best effort. Retrieval falls back to chunk
	// reconstruction when it is missing.
	if err := p.contents.Put(ctx, req.SourceType, req.SourceID, text); err != nil {
		p.logger.Warn("content backup failed",
			"source_type", req.SourceType, "source_id", req.SourceID, "error", err)
	}

	if writeErr != nil {
		return result, &Error{
			SourceID: req.SourceID,
			Written:  written,
			Failed:   len(points) - written,
			Err:      writeErr,
		}
	}

	if summary != "" {
		if err := p.UpsertSummary(ctx, req.SourceType, req.SourceID, req.SessionID, summary); err != nil {
			p.logger.Warn("summary record upsert failed",
				"source_id", req.SourceID, "error", err)
		}
	}

	p.logger.Info("ingested source",
		"source_type", req.SourceType, "source_id", req.SourceID, "chunks", written)
	return result, nil
}

// split applies the chunker, except for workflows, which are stored as
// a single point so their JSON stays intact.
func (p *Pipeline) split(text, sourceType string) []string {
	if sourceType == index.SourceWorkflow {
		return []string{text}
	}
	return p.chunker.Split(text)
}

// summarize resolves the source's summary. Whatever the origin, the
// stored summary never exceeds llm.DefaultSummaryLength runes.
func (p *Pipeline) summarize(ctx context.Context, req Request, text string) string {
	if req.Summary != "" {
		return llm.Truncate(strings.TrimSpace(req.Summary), llm.DefaultSummaryLength)
	}
	if p.summarizer != nil {
		summary, err := p.summarizer.Summarize(ctx, text, req.SourceType)
		if err == nil {
			return llm.Truncate(summary, llm.DefaultSummaryLength)
		}
		p.logger.Warn("summary generation failed, using fallback",
			"source_id", req.SourceID, "error", err)
	}
	return llm.FallbackSummary(text, req.SourceType, 0)
}

// writeBatches embeds and stores points in batches, aborting on the
// first failing batch. Committed chunks are therefore always a
// contiguous prefix of the chunk index sequence.
func (p *Pipeline) writeBatches(ctx context.Context, points []index.Point) (int, error) {
	var written int
	for start := 0; start < len(points); start += p.batchSize {
		end := start + p.batchSize
		if end > len(points) {
			end = len(points)
		}
		batch := points[start:end]

		texts := make([]string, len(batch))
		for i, pt := range batch {
			texts[i] = pt.Text
		}
		vectors, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			p.logger.Error("batch embedding failed",
				"from", start, "to", end, "error", err)
			return written, err
		}
		for i := range batch {
			batch[i].Embedding = vectors[i]
		}

		if err := p.idx.Add(ctx, batch); err != nil {
			p.logger.Error("batch write failed",
				"from", start, "to", end, "error", err)
			return written, err
		}
		written += len(batch)
	}
	return written, nil
}

// UpsertSummary writes or replaces the derived summary record for a
// source. The record lives in the summaries collection under a
// deterministic id, so re-summarizing a source never duplicates it.
func (p *Pipeline) UpsertSummary(ctx context.Context, sourceType, sourceID, sessionID, summary string) error {
	if _, err := index.CollectionForSource(sourceType); err != nil {
		return err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return fmt.Errorf("summary must not be empty")
	}

	vec, err := p.embedder.Embed(ctx, []string{summary})
	if err != nil {
		return fmt.Errorf("failed to embed summary for %s: %w", sourceID, err)
	}

	point := index.Point{
		ID:         SummaryID(sourceType, sourceID),
		Collection: index.CollectionSummaries,
		Text:       summary,
		Embedding:  vec[0],
		Meta: index.Metadata{
			SourceID:    sourceID,
			SourceType:  sourceType,
			SessionID:   sessionID,
			TotalChunks: 1,
			Summary:     summary,
			CreatedAt:   time.Now(),
		},
	}
	if err := p.idx.Add(ctx, []index.Point{point}); err != nil {
		return fmt.Errorf("failed to write summary record for %s: %w", sourceID, err)
	}
	return nil
}

// UpdateChunk replaces the text of one stored chunk, re-embeds it, and
// refreshes the source's content backup from the updated chunks.
func (p *Pipeline) UpdateChunk(ctx context.Context, chunkID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("chunk text must not be empty")
	}

	point, err := p.idx.Lookup(ctx, chunkID)
	if err != nil {
		return fmt.Errorf("failed to load chunk %s: %w", chunkID, err)
	}

	lock := p.sourceLock(point.Meta.SourceType, point.Meta.SourceID)
	lock.Lock()
	defer lock.Unlock()

	// The carrier chunk keeps its summary prefix through an edit.
	newText := text
	if point.Meta.SummaryCarrier && point.Meta.Summary != "" {
		newText = point.Meta.Summary + "\n\n" + text
	}

	vec, err := p.embedder.Embed(ctx, []string{newText})
	if err != nil {
		return fmt.Errorf("failed to embed updated chunk %s: %w", chunkID, err)
	}
	if err := p.idx.UpdateText(ctx, chunkID, newText, vec[0]); err != nil {
		return fmt.Errorf("failed to update chunk %s: %w", chunkID, err)
	}

	collection, err := index.CollectionForSource(point.Meta.SourceType)
	if err != nil {
		return err
	}
	chunks, err := p.idx.Get(ctx, collection, index.Filter{SourceID: point.Meta.SourceID}, false, 0)
	if err != nil {
		p.logger.Warn("backup refresh skipped, failed to load chunks",
			"source_id", point.Meta.SourceID, "error", err)
		return nil
	}
	rebuilt := index.ReconstructText(chunks)
	if err := p.contents.Put(ctx, point.Meta.SourceType, point.Meta.SourceID, rebuilt); err != nil {
		p.logger.Warn("backup refresh failed",
			"source_id", point.Meta.SourceID, "error", err)
	}
	return nil
}

// Remove deletes a source everywhere: its chunks, its summary record,
// and its content backup. It reports how many chunks were removed.
func (p *Pipeline) Remove(ctx context.Context, sourceType, sourceID string) (int64, error) {
	collection, err := index.CollectionForSource(sourceType)
	if err != nil {
		return 0, err
	}

	lock := p.sourceLock(sourceType, sourceID)
	lock.Lock()
	defer lock.Unlock()

	removed, err := p.idx.Delete(ctx, collection, index.Filter{SourceID: sourceID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks for %s: %w", sourceID, err)
	}
	if _, err := p.idx.Delete(ctx, index.CollectionSummaries, index.Filter{SourceID: sourceID}); err != nil {
		p.logger.Warn("summary record delete failed", "source_id", sourceID, "error", err)
	}
	if err := p.contents.Delete(ctx, sourceType, sourceID); err != nil {
		p.logger.Warn("content backup delete failed", "source_id", sourceID, "error", err)
	}

	p.logger.Info("removed source",
		"source_type", sourceType, "source_id", sourceID, "chunks", removed)
	return removed, nil
}

// SummaryID is the deterministic id of a source's summary record.
func SummaryID(sourceType, sourceID string) string {
	return fmt.Sprintf("summary_%s_%s", sourceType, sourceID)
}
