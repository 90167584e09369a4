// Package index provides the vector index: storage and similarity
// search for embedded text chunks with typed metadata, backed by
// PostgreSQL + pgvector.
package index

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// VectorDimension is the embedding dimension enforced by the points
// table schema. Embedders must be configured to produce vectors of
// this size.
const VectorDimension = 768

// Logical collections, one per source type, plus the summaries
// collection holding one derived record per ingested source.
const (
	CollectionConversations = "conversations"
	CollectionDocuments     = "documents"
	CollectionWorkflows     = "workflows"
	CollectionSummaries     = "summaries"
)

// Collections lists all logical collections in their canonical order.
var Collections = []string{
	CollectionConversations,
	CollectionDocuments,
	CollectionWorkflows,
	CollectionSummaries,
}

// ValidCollection reports whether name is a known collection.
func ValidCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}

// Source types accepted by the system.
const (
	SourceConversation = "conversation"
	SourceDocument     = "document"
	SourceWorkflow     = "workflow"
)

// ErrUnknownSourceType indicates a source type outside the accepted set.
var ErrUnknownSourceType = errors.New("unknown source type")

// CollectionForSource maps a source type to the collection its chunks
// live in.
func CollectionForSource(sourceType string) (string, error) {
	switch sourceType {
	case SourceConversation:
		return CollectionConversations, nil
	case SourceDocument:
		return CollectionDocuments, nil
	case SourceWorkflow:
		return CollectionWorkflows, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSourceType, sourceType)
	}
}

// Field is a single caller-supplied metadata entry.
type Field struct {
	Key   string
	Value any
}

// Extra is the ordered extension mapping for caller-supplied metadata
// beyond the well-known fields. Sanitize produces key-sorted Extra, so
// the order is deterministic for identical input.
type Extra []Field

// Get returns the value for key, if present.
func (e Extra) Get(key string) (any, bool) {
	for _, f := range e {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Map returns the extra fields as a plain map, for JSON serialization.
func (e Extra) Map() map[string]any {
	if len(e) == 0 {
		return nil
	}
	m := make(map[string]any, len(e))
	for _, f := range e {
		m[f.Key] = f.Value
	}
	return m
}

// Sanitize converts caller-supplied metadata into Extra, applying the
// vector-store value constraint: every value must be a string, a
// number, or nil. Booleans are stringified; any other non-primitive
// value is rendered with fmt.Sprint. Keys are sorted so the result is
// deterministic.
func Sanitize(meta map[string]any) Extra {
	if len(meta) == 0 {
		return nil
	}

	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	extra := make(Extra, 0, len(keys))
	for _, k := range keys {
		extra = append(extra, Field{Key: k, Value: sanitizeValue(meta[k])})
	}
	return extra
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool:
		if val {
			return "true"
		}
		return "false"
	case string:
		return val
	case int, int32, int64, float32, float64:
		return val
	default:
		return fmt.Sprint(val)
	}
}

// Metadata is the typed metadata record carried by every stored point.
// Well-known fields are first-class columns; everything else lives in
// the Extra extension mapping.
type Metadata struct {
	SourceID       string
	SourceType     string
	SessionID      string
	TopicID        string
	ChunkIndex     int
	TotalChunks    int
	Checksum       string
	Summary        string
	SummaryCarrier bool
	CreatedAt      time.Time
	Extra          Extra
}

// Point is one stored (text, embedding, metadata, id) tuple.
type Point struct {
	ID         string
	Collection string
	Text       string
	Embedding  []float32
	Meta       Metadata
}

// Hit is a similarity query result. Score is 1 - cosine distance:
// higher means more relevant.
type Hit struct {
	Point
	Score float64
}

// CollectionInfo describes one collection for listing purposes.
type CollectionInfo struct {
	Name   string `json:"name"`
	Points int64  `json:"points"`
}
