package persistence

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/vampirenirmal/taletwo/internal/storymodel"
)

// Memory is an in-process Adapter backed by a guarded map, used in tests
// and in single-process local runs. It honors the same Filter/Update CAS
// contract as the SQLite adapter so callers can be tested against either.
type Memory struct {
	mu   sync.Mutex
	docs map[string]map[string]any
}

// NewMemory returns an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]map[string]any)}
}

var _ Adapter = (*Memory)(nil)

func (m *Memory) InsertOne(_ context.Context, book *storymodel.Book) error {
	doc, err := toDoc(book)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[book.ID.String()] = doc
	return nil
}

func (m *Memory) FindOne(_ context.Context, id string) (*storymodel.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return fromDoc(cloneDoc(doc))
}

func (m *Memory) UpdateOne(_ context.Context, id string, filter Filter, update Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	if !filter.matches(doc) {
		return ErrNotFound
	}
	working := cloneDoc(doc)
	update.apply(working)
	// Round-trip through JSON, as the SQLite adapter does when it persists,
	// so values set as Go structs become plain JSON trees that later
	// dotted-path filters and updates can navigate.
	raw, err := json.Marshal(working)
	if err != nil {
		return err
	}
	var normalized map[string]any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return err
	}
	m.docs[id] = normalized
	return nil
}

func (m *Memory) Close() error { return nil }

// cloneDoc deep-copies a JSON tree via round-trip-free recursive walk, so
// callers can never mutate adapter-internal state through a returned Book
// or a filter's captured value.
func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneDoc(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
