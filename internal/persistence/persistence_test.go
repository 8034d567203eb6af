package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/taletwo/internal/storymodel"
)

func newTestBook(t *testing.T) *storymodel.Book {
	t.Helper()
	book := storymodel.NewBook("owner-1", storymodel.Config{World: "a distant moon"})
	book.Story = storymodel.NewStoryState()
	return book
}

func TestMemory_InsertAndFindOne(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	book := newTestBook(t)
	require.NoError(t, m.InsertOne(ctx, book))

	got, err := m.FindOne(ctx, book.ID.String())
	require.NoError(t, err)
	assert.Equal(t, book.OwnerID, got.OwnerID)
	assert.Equal(t, book.Config.World, got.Config.World)
}

func TestMemory_FindOne_NotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.FindOne(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_UpdateOne_AppliesSetWhenFilterMatches(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	book := newTestBook(t)
	require.NoError(t, m.InsertOne(ctx, book))

	err := m.UpdateOne(ctx, book.ID.String(),
		Filter{Eq("planUpdating", false)},
		Update{Set: map[string]any{"planUpdating": true}},
	)
	require.NoError(t, err)

	got, err := m.FindOne(ctx, book.ID.String())
	require.NoError(t, err)
	assert.True(t, got.PlanUpdating)
}

func TestMemory_UpdateOne_FailsWhenFilterDoesNotMatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	book := newTestBook(t)
	book.PlanUpdating = true
	require.NoError(t, m.InsertOne(ctx, book))

	err := m.UpdateOne(ctx, book.ID.String(),
		Filter{Eq("planUpdating", false)},
		Update{Set: map[string]any{"planUpdating": true}},
	)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_UpdateOne_DottedBranchCacheKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	book := newTestBook(t)
	require.NoError(t, m.InsertOne(ctx, book))

	path := "story.branchPending.7:__next__"
	err := m.UpdateOne(ctx, book.ID.String(),
		Filter{Absent(path)},
		Update{Set: map[string]any{path: "2026-08-02T00:00:00Z"}},
	)
	require.NoError(t, err)

	// A second claimant racing for the same slot must lose.
	err = m.UpdateOne(ctx, book.ID.String(),
		Filter{Absent(path)},
		Update{Set: map[string]any{path: "2026-08-02T00:00:01Z"}},
	)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_UpdateOne_Unset(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	book := newTestBook(t)
	require.NoError(t, m.InsertOne(ctx, book))

	path := "story.branchPending.0:__next__"
	require.NoError(t, m.UpdateOne(ctx, book.ID.String(),
		Filter{Absent(path)}, Update{Set: map[string]any{path: "2026-08-02T00:00:00Z"}}))
	require.NoError(t, m.UpdateOne(ctx, book.ID.String(),
		Filter{Exists(path)}, Update{Unset: []string{path}}))

	got, err := m.FindOne(ctx, book.ID.String())
	require.NoError(t, err)
	_, exists := dottedGet(mustDoc(t, got), path)
	assert.False(t, exists)
}

func TestFilter_LTE_DetectsStaleness(t *testing.T) {
	now := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	doc := map[string]any{"at": now.Add(-5 * time.Minute).Format(time.RFC3339Nano)}

	stale := Filter{LTE("at", now.Add(-2*time.Minute))}
	assert.True(t, stale.matches(doc), "entry older than cutoff must match LTE")

	fresh := Filter{LTE("at", now.Add(-10*time.Minute))}
	assert.False(t, fresh.matches(doc), "entry newer than cutoff must not match LTE")
}

func mustDoc(t *testing.T, book *storymodel.Book) map[string]any {
	t.Helper()
	doc, err := toDoc(book)
	require.NoError(t, err)
	return doc
}
