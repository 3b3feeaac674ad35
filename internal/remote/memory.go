package remote

import (
	"context"
	"sort"
	"sync"

	"github.com/bryan-buckman/feedwindow/internal/model"
)

// MemoryDocuments is an in-process DocumentStore. It backs `serve` when no
// Postgres DSN is configured and stands in for the remote store in tests.
type MemoryDocuments struct {
	mu      sync.Mutex
	scopes  map[string][]Document
	queries int
	failErr error

	// OnQuery, when set, runs before every Query returns. It is called
	// without the store lock held.
	OnQuery func(q Query)
}

// Ensure MemoryDocuments implements DocumentStore interface.
var _ DocumentStore = (*MemoryDocuments)(nil)

// NewMemoryDocuments creates an empty store.
func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{scopes: make(map[string][]Document)}
}

// Query implements DocumentStore.
func (m *MemoryDocuments) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.queries++
	if err := m.failErr; err != nil {
		m.mu.Unlock()
		return nil, err
	}
	docs := m.scopes[q.Scope]
	var out []Document
	if q.Order == Desc {
		for _, d := range docs {
			if q.StartAfter != nil && !after(d, *q.StartAfter, q.Order) {
				continue
			}
			out = append(out, d)
			if q.Limit > 0 && len(out) == q.Limit {
				break
			}
		}
	} else {
		for i := len(docs) - 1; i >= 0; i-- {
			d := docs[i]
			if q.StartAfter != nil && !after(d, *q.StartAfter, q.Order) {
				continue
			}
			out = append(out, d)
			if q.Limit > 0 && len(out) == q.Limit {
				break
			}
		}
	}
	hook := m.OnQuery
	m.mu.Unlock()

	if hook != nil {
		hook(q)
	}
	return out, nil
}

// Lookup implements DocumentStore.
func (m *MemoryDocuments) Lookup(_ context.Context, scope, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.scopes[scope] {
		if d.ID == id {
			return d, nil
		}
	}
	return Document{}, model.ErrNotFound
}

// Put implements DocumentStore. Like the Postgres store it keeps the first
// stored copy of a document.
func (m *MemoryDocuments) Put(_ context.Context, scope string, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.scopes[scope]
	for _, d := range docs {
		if d.ID == doc.ID {
			return nil
		}
	}
	docs = append(docs, doc)
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].Timestamp.Equal(docs[j].Timestamp) {
			return docs[i].Timestamp.After(docs[j].Timestamp)
		}
		return docs[i].ID < docs[j].ID
	})
	m.scopes[scope] = docs
	return nil
}

// PutItems encodes and stores items.
func (m *MemoryDocuments) PutItems(ctx context.Context, items ...model.FeedItem) error {
	for _, it := range items {
		doc, err := EncodeItem(it)
		if err != nil {
			return err
		}
		if err := m.Put(ctx, it.ScopeKey, doc); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes a document, as a concurrent remote delete would.
func (m *MemoryDocuments) Remove(scope, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.scopes[scope]
	for i, d := range docs {
		if d.ID == id {
			m.scopes[scope] = append(docs[:i], docs[i+1:]...)
			return
		}
	}
}

// FailQueries makes every Query return err until called again with nil.
func (m *MemoryDocuments) FailQueries(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

// Queries returns how many Query calls have been made.
func (m *MemoryDocuments) Queries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries
}
