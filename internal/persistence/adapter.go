package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vampirenirmal/taletwo/internal/storymodel"
)

// ErrNotFound is returned by FindOne when no document matches id, and by
// UpdateOne when id exists but filter does not match (a failed CAS).
var ErrNotFound = errors.New("persistence: document not found or filter mismatch")

// Adapter is the persistence port the rest of the engine depends on. Every
// method is safe for concurrent use across processes sharing the same
// backing store — UpdateOne is the sole write path and is atomic: filter
// and update are evaluated together under one transaction, giving the
// engine compare-and-set semantics without an in-process lock
// (spec.md §6, "Persistence Adapter").
type Adapter interface {
	InsertOne(ctx context.Context, book *storymodel.Book) error
	FindOne(ctx context.Context, id string) (*storymodel.Book, error)
	// UpdateOne applies update to the document with the given id if and
	// only if filter currently matches it. Returns ErrNotFound if the
	// document is absent or the filter does not match (the caller's CAS
	// attempt lost a race and must re-read and retry).
	UpdateOne(ctx context.Context, id string, filter Filter, update Update) error
	Close() error
}

// toDoc renders a Book as a generic JSON tree for filter/update evaluation.
func toDoc(book *storymodel.Book) (map[string]any, error) {
	raw, err := json.Marshal(book)
	if err != nil {
		return nil, fmt.Errorf("persistence: encode book: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("persistence: decode book tree: %w", err)
	}
	return doc, nil
}

// fromDoc renders a generic JSON tree back into a Book.
func fromDoc(doc map[string]any) (*storymodel.Book, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("persistence: encode book tree: %w", err)
	}
	var book storymodel.Book
	if err := json.Unmarshal(raw, &book); err != nil {
		return nil, fmt.Errorf("persistence: decode book: %w", err)
	}
	return &book, nil
}
