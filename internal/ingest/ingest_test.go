package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/koopa0/recall/internal/chunk"
	"github.com/koopa0/recall/internal/content"
	"github.com/koopa0/recall/internal/index"
	"github.com/koopa0/recall/internal/llm"
	"github.com/koopa0/recall/internal/testutil"
)

// fixedChunker returns a canned split, making batch boundaries
// predictable in partial-failure tests.
type fixedChunker struct{ chunks []string }

func (f *fixedChunker) Split(text string) []string { return f.chunks }

type stubSummarizer struct {
	summary string
	err     error
}

func (s *stubSummarizer) Summarize(ctx context.Context, content, sourceType string) (string, error) {
	return s.summary, s.err
}

func newTestPipeline(t *testing.T, opts ...Option) (*Pipeline, *testutil.MemoryIndex, *testutil.MemoryContents) {
	t.Helper()
	splitter, err := chunk.New(80, 10)
	if err != nil {
		t.Fatalf("chunk.New() error = %v", err)
	}
	idx := testutil.NewMemoryIndex()
	contents := testutil.NewMemoryContents()
	p := New(splitter, testutil.NewEmbedder(8), idx, contents, nil, opts...)
	return p, idx, contents
}

func TestIngestConversation(t *testing.T) {
	p, idx, contents := newTestPipeline(t)

	text := "user: where are the runbooks?\nassistant: under docs/ops in the main repo."
	result, err := p.Ingest(context.Background(), Request{
		SourceType: index.SourceConversation,
		SourceID:   "conv-1",
		SessionID:  "sess-1",
		Text:       text,
		Metadata:   map[string]any{"channel": "support"},
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.SourceID != "conv-1" {
		t.Errorf("SourceID = %q", result.SourceID)
	}
	if result.Chunks != 1 {
		t.Fatalf("Chunks = %d, want 1", result.Chunks)
	}
	if result.Summary == "" {
		t.Error("expected a fallback summary")
	}

	carrier, ok := idx.Point("conv-1_0")
	if !ok {
		t.Fatal("chunk conv-1_0 not stored")
	}
	if !carrier.Meta.SummaryCarrier {
		t.Error("chunk 0 should be the summary carrier")
	}
	if !strings.HasPrefix(carrier.Text, result.Summary+"\n\n") {
		t.Errorf("carrier text missing summary prefix: %q", carrier.Text)
	}
	if carrier.Meta.Checksum != content.Checksum(text) {
		t.Errorf("checksum = %q, want %q", carrier.Meta.Checksum, content.Checksum(text))
	}
	if carrier.Meta.SessionID != "sess-1" || carrier.Meta.TotalChunks != 1 {
		t.Errorf("metadata = %+v", carrier.Meta)
	}
	if v, ok := carrier.Meta.Extra.Get("channel"); !ok || v != "support" {
		t.Errorf("extra channel = %v, %v", v, ok)
	}

	summaryRec, ok := idx.Point(SummaryID(index.SourceConversation, "conv-1"))
	if !ok {
		t.Fatal("summary record not stored")
	}
	if summaryRec.Collection != index.CollectionSummaries || summaryRec.Text != result.Summary {
		t.Errorf("summary record = %+v", summaryRec)
	}

	backup, err := contents.Get(context.Background(), index.SourceConversation, "conv-1")
	if err != nil {
		t.Fatalf("backup not stored: %v", err)
	}
	if backup != text {
		t.Errorf("backup = %q, want original text", backup)
	}
}

func TestIngestMultiChunkNumbering(t *testing.T) {
	p, idx, _ := newTestPipeline(t)

	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 12)
	result, err := p.Ingest(context.Background(), Request{
		SourceType: index.SourceDocument,
		SourceID:   "doc-1",
		Text:       text,
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Chunks < 2 {
		t.Fatalf("Chunks = %d, want multiple", result.Chunks)
	}

	carriers := 0
	for i := 0; i < result.Chunks; i++ {
		pt, ok := idx.Point(fmt.Sprintf("doc-1_%d", i))
		if !ok {
			t.Fatalf("chunk %d missing", i)
		}
		if pt.Meta.ChunkIndex != i || pt.Meta.TotalChunks != result.Chunks {
			t.Errorf("chunk %d numbering = %d/%d", i, pt.Meta.ChunkIndex, pt.Meta.TotalChunks)
		}
		if pt.Meta.SummaryCarrier {
			carriers++
		}
	}
	if carriers != 1 {
		t.Errorf("got %d summary carriers, want exactly 1", carriers)
	}
}

func TestIngestEmptyText(t *testing.T) {
	p, idx, contents := newTestPipeline(t)

	result, err := p.Ingest(context.Background(), Request{
		SourceType: index.SourceDocument,
		SourceID:   "doc-empty",
		Text:       "   \n ",
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Chunks != 0 {
		t.Errorf("Chunks = %d, want 0", result.Chunks)
	}
	if idx.Len() != 0 || contents.Len() != 0 {
		t.Error("empty input must write nothing")
	}
}

func TestIngestGeneratesSourceID(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	result, err := p.Ingest(context.Background(), Request{
		SourceType: index.SourceDocument,
		Text:       "some document body",
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.SourceID == "" {
		t.Error("expected a generated source id")
	}
}

func TestIngestUnknownSourceType(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	if _, err := p.Ingest(context.Background(), Request{SourceType: "image", Text: "x"}); err == nil {
		t.Error("Ingest() should reject unknown source types")
	}
}

func TestIngestWorkflowUnchunked(t *testing.T) {
	p, idx, _ := newTestPipeline(t)

	// Far longer than the chunk size; workflows must stay whole.
	wf := `{"name":"Nightly","steps":[` + strings.Repeat(`{"name":"step"},`, 30) + `{"name":"done"}]}`
	result, err := p.Ingest(context.Background(), Request{
		SourceType: index.SourceWorkflow,
		SourceID:   "wf-1",
		Text:       wf,
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Chunks != 1 {
		t.Fatalf("Chunks = %d, want 1", result.Chunks)
	}
	pt, ok := idx.Point("wf-1_0")
	if !ok {
		t.Fatal("workflow point missing")
	}
	if !strings.Contains(pt.Text, `"name":"done"`) {
		t.Error("workflow JSON should be stored intact")
	}
}

func TestIngestManualSummary(t *testing.T) {
	p, idx, _ := newTestPipeline(t, WithSummarizer(&stubSummarizer{summary: "model summary"}))

	result, err := p.Ingest(context.Background(), Request{
		SourceType: index.SourceDocument,
		SourceID:   "doc-2",
		Text:       "body text",
		Summary:    "caller-provided summary",
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Summary != "caller-provided summary" {
		t.Errorf("Summary = %q, caller summary must win", result.Summary)
	}
	pt, _ := idx.Point("doc-2_0")
	if !strings.HasPrefix(pt.Text, "caller-provided summary\n\n") {
		t.Errorf("carrier text = %q", pt.Text)
	}
}

func TestIngestBoundsModelSummary(t *testing.T) {
	long := strings.Repeat("verbose model output ", 30)
	p, idx, _ := newTestPipeline(t, WithSummarizer(&stubSummarizer{summary: long}))

	result, err := p.Ingest(context.Background(), Request{
		SourceType: index.SourceDocument,
		SourceID:   "doc-7",
		Text:       "body text",
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if n := len([]rune(result.Summary)); n > llm.DefaultSummaryLength+3 {
		t.Errorf("summary length = %d runes, want at most %d plus ellipsis",
			n, llm.DefaultSummaryLength)
	}
	if !strings.HasSuffix(result.Summary, "...") {
		t.Errorf("summary = %q, want truncation marked with ellipsis", result.Summary)
	}
	pt, _ := idx.Point("doc-7_0")
	if pt.Meta.Summary != result.Summary {
		t.Errorf("stored summary = %q, want the bounded one", pt.Meta.Summary)
	}
}

func TestIngestSummarizerFailureFallsBack(t *testing.T) {
	p, _, _ := newTestPipeline(t, WithSummarizer(&stubSummarizer{err: errors.New("model down")}))

	result, err := p.Ingest(context.Background(), Request{
		SourceType: index.SourceDocument,
		SourceID:   "doc-3",
		Text:       "First paragraph here.\n\nSecond paragraph.",
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Summary != "First paragraph here." {
		t.Errorf("Summary = %q, want fallback first paragraph", result.Summary)
	}
}

func TestIngestPartialFailure(t *testing.T) {
	chunker := &fixedChunker{chunks: []string{"alpha", "bravo", "poison", "delta"}}
	idx := testutil.NewMemoryIndex()
	idx.FailAddOn = "poison"
	contents := testutil.NewMemoryContents()
	p := New(chunker, testutil.NewEmbedder(8), idx, contents, nil, WithBatchSize(2))

	result, err := p.Ingest(context.Background(), Request{
		SourceType: index.SourceDocument,
		SourceID:   "doc-4",
		Text:       "irrelevant, the chunker is canned",
	})

	var ingErr *Error
	if !errors.As(err, &ingErr) {
		t.Fatalf("Ingest() error = %v, want *ingest.Error", err)
	}
	if ingErr.Written != 2 || ingErr.Failed != 2 {
		t.Errorf("written/failed = %d/%d, want 2/2", ingErr.Written, ingErr.Failed)
	}
	if result.Chunks != 2 {
		t.Errorf("result.Chunks = %d, want 2", result.Chunks)
	}
	// The failed batch must not block the summary-free partial result,
	// and no summary record is written for an incomplete source.
	if _, ok := idx.Point(SummaryID(index.SourceDocument, "doc-4")); ok {
		t.Error("summary record written despite partial failure")
	}
}

func TestIngestAbortsAfterFailedBatch(t *testing.T) {
	chunker := &fixedChunker{chunks: []string{"alpha", "bravo", "poison", "delta", "echo", "foxtrot"}}
	idx := testutil.NewMemoryIndex()
	idx.FailAddOn = "poison"
	contents := testutil.NewMemoryContents()
	p := New(chunker, testutil.NewEmbedder(8), idx, contents, nil, WithBatchSize(2))

	_, err := p.Ingest(context.Background(), Request{
		SourceType: index.SourceDocument,
		SourceID:   "doc-6",
		Text:       "irrelevant, the chunker is canned",
	})

	var ingErr *Error
	if !errors.As(err, &ingErr) {
		t.Fatalf("Ingest() error = %v, want *ingest.Error", err)
	}
	if ingErr.Written != 2 || ingErr.Failed != 4 {
		t.Errorf("written/failed = %d/%d, want 2/4", ingErr.Written, ingErr.Failed)
	}

	// Batches after the failed one must not be written: the committed
	// chunk indices form a contiguous prefix, never a gapped set.
	stored, err := idx.Get(context.Background(), index.CollectionDocuments, index.Filter{SourceID: "doc-6"}, false, 0)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("stored %d chunks, want 2", len(stored))
	}
	for i, pt := range stored {
		if pt.Meta.ChunkIndex != i {
			t.Errorf("stored chunk index %d at position %d, want contiguous prefix", pt.Meta.ChunkIndex, i)
		}
	}
}

func TestIngestReplacesExistingChunks(t *testing.T) {
	p, idx, _ := newTestPipeline(t)

	long := strings.Repeat("sentence one goes here. ", 15)
	if _, err := p.Ingest(context.Background(), Request{
		SourceType: index.SourceDocument, SourceID: "doc-5", Text: long,
	}); err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}

	result, err := p.Ingest(context.Background(), Request{
		SourceType: index.SourceDocument, SourceID: "doc-5", Text: "short now",
	})
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	if result.Chunks != 1 {
		t.Fatalf("Chunks = %d, want 1", result.Chunks)
	}

	chunks, err := idx.Get(context.Background(), index.CollectionDocuments, index.Filter{SourceID: "doc-5"}, false, 0)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("got %d chunks after re-ingest, want 1", len(chunks))
	}
}

func TestIngestKeepsSingleSummaryRecord(t *testing.T) {
	p, idx, _ := newTestPipeline(t)

	for i := 0; i < 3; i++ {
		if _, err := p.Ingest(context.Background(), Request{
			SourceType: index.SourceDocument, SourceID: "doc-8",
			Text: fmt.Sprintf("revision %d of the document body", i),
		}); err != nil {
			t.Fatalf("Ingest() #%d error = %v", i, err)
		}
	}

	summaries, err := idx.Get(context.Background(), index.CollectionSummaries,
		index.Filter{SourceID: "doc-8"}, false, 0)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("got %d summary records after repeated ingest, want exactly 1", len(summaries))
	}
	if summaries[0].ID != SummaryID(index.SourceDocument, "doc-8") {
		t.Errorf("summary id = %q", summaries[0].ID)
	}
}

func TestIngestBackupFailureIsSwallowed(t *testing.T) {
	splitter, _ := chunk.New(80, 10)
	idx := testutil.NewMemoryIndex()
	contents := testutil.NewMemoryContents()
	contents.PutErr = errors.New("disk full")
	p := New(splitter, testutil.NewEmbedder(8), idx, contents, nil)

	if _, err := p.Ingest(context.Background(), Request{
		SourceType: index.SourceDocument, SourceID: "doc-6", Text: "body",
	}); err != nil {
		t.Fatalf("Ingest() error = %v, backup failures must not fail ingestion", err)
	}
}

func TestUpdateChunk(t *testing.T) {
	p, idx, contents := newTestPipeline(t)

	if _, err := p.Ingest(context.Background(), Request{
		SourceType: index.SourceDocument, SourceID: "doc-7", Text: "original chunk body",
	}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if err := p.UpdateChunk(context.Background(), "doc-7_0", "edited chunk body"); err != nil {
		t.Fatalf("UpdateChunk() error = %v", err)
	}

	pt, _ := idx.Point("doc-7_0")
	if !strings.HasSuffix(pt.Text, "edited chunk body") {
		t.Errorf("chunk text = %q", pt.Text)
	}
	if !strings.HasPrefix(pt.Text, pt.Meta.Summary+"\n\n") {
		t.Error("carrier chunk lost its summary prefix on update")
	}
	if len(pt.Embedding) == 0 {
		t.Error("updated chunk was not re-embedded")
	}

	backup, err := contents.Get(context.Background(), index.SourceDocument, "doc-7")
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if backup != "edited chunk body" {
		t.Errorf("backup = %q, want rebuilt from updated chunks", backup)
	}
}

func TestUpdateChunkNotFound(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	err := p.UpdateChunk(context.Background(), "ghost_0", "text")
	if !errors.Is(err, index.ErrNotFound) {
		t.Errorf("UpdateChunk() error = %v, want ErrNotFound", err)
	}
}

func TestRemove(t *testing.T) {
	p, idx, contents := newTestPipeline(t)

	if _, err := p.Ingest(context.Background(), Request{
		SourceType: index.SourceDocument, SourceID: "doc-8", Text: "to be removed",
	}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	removed, err := p.Remove(context.Background(), index.SourceDocument, "doc-8")
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if idx.Len() != 0 {
		t.Errorf("%d points left after Remove", idx.Len())
	}
	if contents.Len() != 0 {
		t.Error("backup left after Remove")
	}
}

func TestSummaryID(t *testing.T) {
	if got := SummaryID("document", "abc"); got != "summary_document_abc" {
		t.Errorf("SummaryID() = %q", got)
	}
}
