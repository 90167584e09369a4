package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/koopa0/recall/internal/content"
)

// MemoryContents is an in-memory stand-in for the content backup
// store.
type MemoryContents struct {
	mu   sync.Mutex
	data map[string]string

	// PutErr fails every Put call.
	PutErr error
}

// NewMemoryContents creates an empty MemoryContents.
func NewMemoryContents() *MemoryContents {
	return &MemoryContents{data: make(map[string]string)}
}

func key(contentType, contentID string) string {
	return contentType + "/" + contentID
}

func (m *MemoryContents) Put(ctx context.Context, contentType, contentID, body string) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key(contentType, contentID)] = body
	return nil
}

func (m *MemoryContents) Get(ctx context.Context, contentType, contentID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.data[key(contentType, contentID)]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", content.ErrNotFound, contentType, contentID)
	}
	return body, nil
}

func (m *MemoryContents) Exists(ctx context.Context, contentType, contentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key(contentType, contentID)]
	return ok, nil
}

func (m *MemoryContents) Delete(ctx context.Context, contentType, contentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key(contentType, contentID))
	return nil
}

// Len reports how many entries are stored.
func (m *MemoryContents) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}
