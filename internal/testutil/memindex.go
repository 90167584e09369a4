package testutil

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/koopa0/recall/internal/index"
)

// MemoryIndex is an in-memory stand-in for the pgvector-backed index
// store. It mirrors the store's method set so pipeline, retrieval, and
// clustering tests run without a database.
type MemoryIndex struct {
	mu     sync.Mutex
	points map[string]index.Point

	// AddErr fails every Add call.
	AddErr error
	// FailAddOn fails any Add batch containing a point whose text
	// contains this substring.
	FailAddOn string
	// AddCalls counts Add invocations.
	AddCalls int
}

// NewMemoryIndex creates an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: make(map[string]index.Point)}
}

func (m *MemoryIndex) Add(ctx context.Context, points []index.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AddCalls++

	if m.AddErr != nil {
		return m.AddErr
	}
	if m.FailAddOn != "" {
		for _, p := range points {
			if strings.Contains(p.Text, m.FailAddOn) {
				return fmt.Errorf("write rejected for %q", p.ID)
			}
		}
	}
	for _, p := range points {
		m.points[p.ID] = p
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, collection string, embedding []float32, k int, f index.Filter, withVectors bool) ([]index.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var hits []index.Hit
	for _, p := range m.points {
		if p.Collection != collection || !matches(f, p) {
			continue
		}
		hit := index.Hit{Point: p, Score: cosine(embedding, p.Embedding)}
		if !withVectors {
			hit.Embedding = nil
		}
		hits = append(hits, hit)
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryIndex) Get(ctx context.Context, collection string, f index.Filter, withVectors bool, limit int) ([]index.Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var points []index.Point
	for _, p := range m.points {
		if p.Collection != collection || !matches(f, p) {
			continue
		}
		if !withVectors {
			p.Embedding = nil
		}
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].Meta.ChunkIndex != points[j].Meta.ChunkIndex {
			return points[i].Meta.ChunkIndex < points[j].Meta.ChunkIndex
		}
		return points[i].Meta.CreatedAt.Before(points[j].Meta.CreatedAt)
	})
	if limit > 0 && len(points) > limit {
		points = points[:limit]
	}
	return points, nil
}

func (m *MemoryIndex) Lookup(ctx context.Context, id string) (index.Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.points[id]
	if !ok {
		return index.Point{}, fmt.Errorf("%w: %s", index.ErrNotFound, id)
	}
	return p, nil
}

func (m *MemoryIndex) UpdateText(ctx context.Context, id, text string, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.points[id]
	if !ok {
		return fmt.Errorf("%w: %s", index.ErrNotFound, id)
	}
	p.Text = text
	p.Embedding = embedding
	m.points[id] = p
	return nil
}

func (m *MemoryIndex) Delete(ctx context.Context, collection string, f index.Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, p := range m.points {
		if p.Collection == collection && matches(f, p) {
			delete(m.points, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryIndex) SetTopicIDs(ctx context.Context, labels map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range labels {
		if _, ok := m.points[id]; !ok {
			return fmt.Errorf("%w: %s", index.ErrNotFound, id)
		}
	}
	for id, topic := range labels {
		p := m.points[id]
		p.Meta.TopicID = topic
		m.points[id] = p
	}
	return nil
}

func (m *MemoryIndex) Collections(ctx context.Context) ([]index.CollectionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int64)
	for _, p := range m.points {
		counts[p.Collection]++
	}
	infos := make([]index.CollectionInfo, 0, len(index.Collections))
	for _, name := range index.Collections {
		infos = append(infos, index.CollectionInfo{Name: name, Points: counts[name]})
	}
	return infos, nil
}

// Len reports how many points are stored.
func (m *MemoryIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.points)
}

// Point returns a stored point by id for assertions.
func (m *MemoryIndex) Point(id string) (index.Point, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.points[id]
	return p, ok
}

func matches(f index.Filter, p index.Point) bool {
	if f.SourceID != "" && p.Meta.SourceID != f.SourceID {
		return false
	}
	if f.SourceType != "" && p.Meta.SourceType != f.SourceType {
		return false
	}
	if f.SessionID != "" && p.Meta.SessionID != f.SessionID {
		return false
	}
	if f.TopicID != "" && p.Meta.TopicID != f.TopicID {
		return false
	}
	if f.SummaryCarrier != nil && p.Meta.SummaryCarrier != *f.SummaryCarrier {
		return false
	}
	if !f.Since.IsZero() && p.Meta.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !p.Meta.CreatedAt.Before(f.Until) {
		return false
	}
	for key, want := range f.Extra {
		got, ok := p.Meta.Extra.Get(key)
		if !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
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
