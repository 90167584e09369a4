package retrieve

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/koopa0/recall/internal/content"
	"github.com/koopa0/recall/internal/index"
	"github.com/koopa0/recall/internal/testutil"
)

const testDim = 4

// seedPoint writes one point with a fixed embedding so similarity
// scores in tests are exact.
func seedPoint(t *testing.T, idx *testutil.MemoryIndex, p index.Point) {
	t.Helper()
	if err := idx.Add(context.Background(), []index.Point{p}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
}

func newTestEngine(t *testing.T) (*Engine, *testutil.MemoryIndex, *testutil.MemoryContents, *testutil.Embedder) {
	t.Helper()
	idx := testutil.NewMemoryIndex()
	contents := testutil.NewMemoryContents()
	embedder := testutil.NewEmbedder(testDim)
	return NewEngine(idx, contents, embedder, nil), idx, contents, embedder
}

func vec(x, y, z, w float32) []float32 { return []float32{x, y, z, w} }

func TestSearchDeduplicatesPerSource(t *testing.T) {
	engine, idx, _, embedder := newTestEngine(t)
	embedder.Fixed["runbooks"] = vec(1, 0, 0, 0)

	// Two chunks of doc-a at different similarity, one chunk of doc-b
	// in between. The best chunk per source must survive, ordered by
	// score.
	seedPoint(t, idx, index.Point{
		ID: "doc-a_0", Collection: index.CollectionDocuments,
		Text: "doc a chunk 0", Embedding: vec(1, 0, 0, 0),
		Meta: index.Metadata{SourceID: "doc-a", SourceType: index.SourceDocument, ChunkIndex: 0},
	})
	seedPoint(t, idx, index.Point{
		ID: "doc-a_1", Collection: index.CollectionDocuments,
		Text: "doc a chunk 1", Embedding: vec(0.6, 0.8, 0, 0),
		Meta: index.Metadata{SourceID: "doc-a", SourceType: index.SourceDocument, ChunkIndex: 1},
	})
	seedPoint(t, idx, index.Point{
		ID: "doc-b_0", Collection: index.CollectionDocuments,
		Text: "doc b chunk 0", Embedding: vec(0.8, 0.6, 0, 0),
		Meta: index.Metadata{SourceID: "doc-b", SourceType: index.SourceDocument, ChunkIndex: 0},
	})

	results, err := engine.Search(context.Background(), "runbooks")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 after dedupe", len(results))
	}
	if results[0].ID != "doc-a_0" || results[1].ID != "doc-b_0" {
		t.Errorf("results = [%s %s], want best chunk per source sorted by score",
			results[0].ID, results[1].ID)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending: %f then %f", results[0].Score, results[1].Score)
	}
}

func TestSearchSpansCollections(t *testing.T) {
	engine, idx, _, embedder := newTestEngine(t)
	embedder.Fixed["q"] = vec(1, 0, 0, 0)

	seedPoint(t, idx, index.Point{
		ID: "conv-1_0", Collection: index.CollectionConversations,
		Text: "a conversation", Embedding: vec(0.9, 0.1, 0, 0),
		Meta: index.Metadata{SourceID: "conv-1", SourceType: index.SourceConversation},
	})
	seedPoint(t, idx, index.Point{
		ID: "wf-1_0", Collection: index.CollectionWorkflows,
		Text: "a workflow", Embedding: vec(0.8, 0.2, 0, 0),
		Meta: index.Metadata{SourceID: "wf-1", SourceType: index.SourceWorkflow},
	})

	results, err := engine.Search(context.Background(), "q")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want hits from both collections", len(results))
	}
}

func TestSearchRestrictedCollections(t *testing.T) {
	engine, idx, _, embedder := newTestEngine(t)
	embedder.Fixed["q"] = vec(1, 0, 0, 0)

	seedPoint(t, idx, index.Point{
		ID: "conv-1_0", Collection: index.CollectionConversations,
		Text: "a conversation", Embedding: vec(1, 0, 0, 0),
		Meta: index.Metadata{SourceID: "conv-1", SourceType: index.SourceConversation},
	})
	seedPoint(t, idx, index.Point{
		ID: "doc-1_0", Collection: index.CollectionDocuments,
		Text: "a document", Embedding: vec(1, 0, 0, 0),
		Meta: index.Metadata{SourceID: "doc-1", SourceType: index.SourceDocument},
	})

	results, err := engine.Search(context.Background(), "q",
		WithCollections(index.CollectionDocuments))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].Collection != index.CollectionDocuments {
		t.Errorf("results = %+v, want documents only", results)
	}
}

func TestSearchTopKAndMinScore(t *testing.T) {
	engine, idx, _, embedder := newTestEngine(t)
	embedder.Fixed["q"] = vec(1, 0, 0, 0)

	embeddings := [][]float32{vec(1, 0, 0, 0), vec(0.8, 0.6, 0, 0), vec(0, 1, 0, 0)}
	ids := []string{"s1", "s2", "s3"}
	for i, emb := range embeddings {
		seedPoint(t, idx, index.Point{
			ID: ids[i] + "_0", Collection: index.CollectionDocuments,
			Text: "chunk", Embedding: emb,
			Meta: index.Metadata{SourceID: ids[i], SourceType: index.SourceDocument},
		})
	}

	results, err := engine.Search(context.Background(), "q", WithTopK(2))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Errorf("WithTopK(2) returned %d results", len(results))
	}

	results, err = engine.Search(context.Background(), "q", WithMinScore(0.5))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for _, r := range results {
		if r.Score < 0.5 {
			t.Errorf("result %s scored %f below the floor", r.ID, r.Score)
		}
	}
	if len(results) != 2 {
		t.Errorf("WithMinScore(0.5) returned %d results, want 2", len(results))
	}
}

func TestSearchPerCollectionFilters(t *testing.T) {
	engine, idx, _, embedder := newTestEngine(t)
	embedder.Fixed["standup"] = vec(1, 0, 0, 0)

	// Conversations from two sessions plus one document. A session
	// filter on conversations must not constrain the documents query.
	seedPoint(t, idx, index.Point{
		ID: "conv-a_0", Collection: index.CollectionConversations,
		Text: "session a talk", Embedding: vec(1, 0, 0, 0),
		Meta: index.Metadata{SourceID: "conv-a", SourceType: index.SourceConversation, SessionID: "sess-a"},
	})
	seedPoint(t, idx, index.Point{
		ID: "conv-b_0", Collection: index.CollectionConversations,
		Text: "session b talk", Embedding: vec(1, 0, 0, 0),
		Meta: index.Metadata{SourceID: "conv-b", SourceType: index.SourceConversation, SessionID: "sess-b"},
	})
	seedPoint(t, idx, index.Point{
		ID: "doc-a_0", Collection: index.CollectionDocuments,
		Text: "standup notes", Embedding: vec(1, 0, 0, 0),
		Meta: index.Metadata{SourceID: "doc-a", SourceType: index.SourceDocument},
	})

	results, err := engine.Search(context.Background(), "standup",
		WithCollectionFilters(map[string]index.Filter{
			index.CollectionConversations: {SessionID: "sess-a"},
		}))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.SourceID == "conv-b" {
			t.Errorf("conv-b surfaced despite the conversations filter")
		}
	}
}

func TestEngineDefaultTopK(t *testing.T) {
	idx := testutil.NewMemoryIndex()
	contents := testutil.NewMemoryContents()
	embedder := testutil.NewEmbedder(testDim)
	engine := NewEngine(idx, contents, embedder, nil, WithDefaultTopK(2))

	embedder.Fixed["notes"] = vec(1, 0, 0, 0)
	for i := 0; i < 4; i++ {
		seedPoint(t, idx, index.Point{
			ID: fmt.Sprintf("doc-%d_0", i), Collection: index.CollectionDocuments,
			Text: "note", Embedding: vec(1, 0, 0, 0),
			Meta: index.Metadata{SourceID: fmt.Sprintf("doc-%d", i), SourceType: index.SourceDocument},
		})
	}

	results, err := engine.Search(context.Background(), "notes")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want the engine default of 2", len(results))
	}

	// A per-call option still overrides the engine default.
	results, err = engine.Search(context.Background(), "notes", WithTopK(3))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 3 {
		t.Errorf("got %d results, want the per-call 3", len(results))
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	if _, err := engine.Search(context.Background(), "  "); err == nil {
		t.Error("Search() should reject an empty query")
	}
}

func TestSearchUnknownCollection(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	if _, err := engine.Search(context.Background(), "q", WithCollections("notes")); err == nil {
		t.Error("Search() should reject unknown collections")
	}
}

func TestSearchFullContentAvailability(t *testing.T) {
	engine, idx, contents, embedder := newTestEngine(t)
	embedder.Fixed["q"] = vec(1, 0, 0, 0)

	seedPoint(t, idx, index.Point{
		ID: "doc-1_0", Collection: index.CollectionDocuments,
		Text: "backed up", Embedding: vec(1, 0, 0, 0),
		Meta: index.Metadata{SourceID: "doc-1", SourceType: index.SourceDocument},
	})
	seedPoint(t, idx, index.Point{
		ID: "doc-2_0", Collection: index.CollectionDocuments,
		Text: "not backed up", Embedding: vec(0.9, 0.1, 0, 0),
		Meta: index.Metadata{SourceID: "doc-2", SourceType: index.SourceDocument},
	})
	_ = contents.Put(context.Background(), index.SourceDocument, "doc-1", "full text")

	results, err := engine.Search(context.Background(), "q")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	byID := map[string]Result{}
	for _, r := range results {
		byID[r.ID] = r
	}
	if !byID["doc-1_0"].FullContentAvailable {
		t.Error("doc-1 should report full content available")
	}
	if byID["doc-2_0"].FullContentAvailable {
		t.Error("doc-2 should not report full content available")
	}
}

func TestFullContentFromBackup(t *testing.T) {
	engine, idx, contents, _ := newTestEngine(t)

	text := "the original document text"
	_ = contents.Put(context.Background(), index.SourceDocument, "doc-1", text)
	seedPoint(t, idx, index.Point{
		ID: "doc-1_0", Collection: index.CollectionDocuments,
		Text: text, Embedding: vec(1, 0, 0, 0),
		Meta: index.Metadata{
			SourceID: "doc-1", SourceType: index.SourceDocument,
			Checksum: content.Checksum(text), CreatedAt: time.Now(),
		},
	})

	got, err := engine.FullContent(context.Background(), index.SourceDocument, "doc-1")
	if err != nil {
		t.Fatalf("FullContent() error = %v", err)
	}
	if got.Text != text || got.Reconstructed || got.ChecksumMismatch {
		t.Errorf("FullContent() = %+v", got)
	}
}

func TestFullContentReconstructsAndWritesThrough(t *testing.T) {
	engine, idx, contents, _ := newTestEngine(t)

	original := "first part\nsecond part"
	sum := content.Checksum(original)
	seedPoint(t, idx, index.Point{
		ID: "doc-1_0", Collection: index.CollectionDocuments,
		Text: "a summary\n\nfirst part", Embedding: vec(1, 0, 0, 0),
		Meta: index.Metadata{
			SourceID: "doc-1", SourceType: index.SourceDocument,
			ChunkIndex: 0, TotalChunks: 2, Checksum: sum,
			Summary: "a summary", SummaryCarrier: true,
		},
	})
	seedPoint(t, idx, index.Point{
		ID: "doc-1_1", Collection: index.CollectionDocuments,
		Text: "second part", Embedding: vec(1, 0, 0, 0),
		Meta: index.Metadata{
			SourceID: "doc-1", SourceType: index.SourceDocument,
			ChunkIndex: 1, TotalChunks: 2, Checksum: sum,
		},
	})

	got, err := engine.FullContent(context.Background(), index.SourceDocument, "doc-1")
	if err != nil {
		t.Fatalf("FullContent() error = %v", err)
	}
	if !got.Reconstructed {
		t.Error("expected reconstruction with no backup present")
	}
	if got.Text != original {
		t.Errorf("Text = %q, want %q", got.Text, original)
	}
	if got.ChecksumMismatch {
		t.Error("lossless reconstruction should not flag a mismatch")
	}

	// Write-through: the next read comes from the backup store.
	cached, err := contents.Get(context.Background(), index.SourceDocument, "doc-1")
	if err != nil {
		t.Fatalf("write-through missing: %v", err)
	}
	if cached != original {
		t.Errorf("cached = %q", cached)
	}
}

func TestFullContentChecksumMismatch(t *testing.T) {
	engine, idx, contents, _ := newTestEngine(t)

	_ = contents.Put(context.Background(), index.SourceDocument, "doc-1", "drifted text")
	seedPoint(t, idx, index.Point{
		ID: "doc-1_0", Collection: index.CollectionDocuments,
		Text: "original text", Embedding: vec(1, 0, 0, 0),
		Meta: index.Metadata{
			SourceID: "doc-1", SourceType: index.SourceDocument,
			Checksum: content.Checksum("original text"),
		},
	})

	got, err := engine.FullContent(context.Background(), index.SourceDocument, "doc-1")
	if err != nil {
		t.Fatalf("FullContent() error = %v", err)
	}
	if !got.ChecksumMismatch {
		t.Error("expected a checksum mismatch flag")
	}
	if got.Text != "drifted text" {
		t.Errorf("Text = %q, mismatch must not withhold the text", got.Text)
	}
}

func TestFullContentMissing(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	_, err := engine.FullContent(context.Background(), index.SourceDocument, "ghost")
	if !errors.Is(err, content.ErrNotFound) {
		t.Errorf("FullContent() error = %v, want ErrNotFound", err)
	}
}

func TestFullContentUnknownSourceType(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	if _, err := engine.FullContent(context.Background(), "image", "x"); err == nil {
		t.Error("FullContent() should reject unknown source types")
	}
}
