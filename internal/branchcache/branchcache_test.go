package branchcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/taletwo/internal/errs"
	"github.com/vampirenirmal/taletwo/internal/llm/llmfake"
	"github.com/vampirenirmal/taletwo/internal/pagegen"
	"github.com/vampirenirmal/taletwo/internal/persistence"
	"github.com/vampirenirmal/taletwo/internal/storymodel"
)

func seedBook(t *testing.T, store *persistence.Memory) *storymodel.Book {
	t.Helper()
	book := storymodel.NewBook("owner-1", storymodel.Config{World: "a flooded city"})
	book.Story = storymodel.NewStoryState()
	book.Story.Pages = []storymodel.Page{{
		Passage:   "she reached the rooftop market",
		Options:   []string{"haggle for passage", "slip away unseen"},
		OptionIDs: storymodel.MakeOptionIDs(0, []string{"haggle for passage", "slip away unseen"}),
	}}
	book.Story.Index = 0
	require.NoError(t, store.InsertOne(context.Background(), book))
	return book
}

const nextPageJSON = `{"passage": "The ferry creaked beneath her.", "summary": "she boards the ferry", "notes": []}`

func TestPrecomputeNext_CachesCandidate(t *testing.T) {
	store := persistence.NewMemory()
	book := seedBook(t, store)
	fake := llmfake.New().SetDefault(nextPageJSON)
	gen := pagegen.New(fake)
	coord := New(store, gen)

	require.NoError(t, coord.PrecomputeNext(context.Background(), book.ID.String(), book))

	got, err := store.FindOne(context.Background(), book.ID.String())
	require.NoError(t, err)
	key := storymodel.NewBranchKey(0, storymodel.NextBranch)
	candidate, ok := got.Story.BranchCache[key]
	require.True(t, ok)
	assert.Equal(t, "The ferry creaked beneath her.", candidate.Page.Passage)
	_, stillPending := got.Story.BranchPending[key]
	assert.False(t, stillPending)
}

func TestPrecomputeNext_SkipsWhenAlreadyCached(t *testing.T) {
	store := persistence.NewMemory()
	book := seedBook(t, store)
	key := storymodel.NewBranchKey(0, storymodel.NextBranch)
	require.NoError(t, store.UpdateOne(context.Background(), book.ID.String(),
		persistence.Filter{}, persistence.Update{Set: map[string]any{
			"story.branchCache." + string(key): storymodel.Candidate{Page: storymodel.Page{Passage: "already there"}},
		}}))

	fake := llmfake.New() // no responses enqueued; must not be called
	gen := pagegen.New(fake)
	coord := New(store, gen)

	require.NoError(t, coord.PrecomputeNext(context.Background(), book.ID.String(), book))
	assert.Equal(t, 0, fake.CallCount("page.generate"))
}

func TestPrecomputeBranches_CachesEachOption(t *testing.T) {
	store := persistence.NewMemory()
	book := seedBook(t, store)
	fake := llmfake.New().SetDefault(nextPageJSON)
	gen := pagegen.New(fake)
	coord := New(store, gen)

	require.NoError(t, coord.PrecomputeBranches(context.Background(), book.ID.String(), book))

	got, err := store.FindOne(context.Background(), book.ID.String())
	require.NoError(t, err)
	assert.Len(t, got.Story.BranchCache, 2)
}

func TestClaim_StaleTakeover(t *testing.T) {
	store := persistence.NewMemory()
	book := seedBook(t, store)
	key := storymodel.NewBranchKey(0, storymodel.NextBranch)
	stalePending := time.Now().Add(-5 * time.Minute).Format(time.RFC3339Nano)
	require.NoError(t, store.UpdateOne(context.Background(), book.ID.String(),
		persistence.Filter{}, persistence.Update{Set: map[string]any{
			"story.branchPending." + string(key): stalePending,
		}}))

	coord := New(store, pagegen.New(llmfake.New()), WithStaleAfter(1*time.Minute))
	claimed, err := coord.claim(context.Background(), book.ID.String(), key)
	require.NoError(t, err)
	assert.True(t, claimed, "a stale claim older than staleAfter must be taken over")
}

func TestClaim_FreshClaimBlocksOthers(t *testing.T) {
	store := persistence.NewMemory()
	book := seedBook(t, store)
	key := storymodel.NewBranchKey(0, storymodel.NextBranch)

	coord := New(store, pagegen.New(llmfake.New()), WithStaleAfter(1*time.Minute))
	first, err := coord.claim(context.Background(), book.ID.String(), key)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := coord.claim(context.Background(), book.ID.String(), key)
	require.NoError(t, err)
	assert.False(t, second, "a fresh pending claim must not be taken over")
}

func TestEnsureReady_ReturnsTrueWhenCached(t *testing.T) {
	store := persistence.NewMemory()
	book := seedBook(t, store)
	key := storymodel.NewBranchKey(0, storymodel.NextBranch)
	require.NoError(t, store.UpdateOne(context.Background(), book.ID.String(),
		persistence.Filter{}, persistence.Update{Set: map[string]any{
			"story.branchCache." + string(key): storymodel.Candidate{},
		}}))

	coord := New(store, pagegen.New(llmfake.New()), WithWaitTimeout(1*time.Second))
	ready, err := coord.EnsureReady(context.Background(), book.ID.String(), 0)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestEnsureReady_ClaimsAndGeneratesOnColdSlot(t *testing.T) {
	store := persistence.NewMemory()
	book := seedBook(t, store)
	fake := llmfake.New().SetDefault(nextPageJSON)
	coord := New(store, pagegen.New(fake), WithWaitTimeout(1*time.Second))

	ready, err := coord.EnsureReady(context.Background(), book.ID.String(), 0)
	require.NoError(t, err)
	assert.True(t, ready, "a cold slot must be claimed and generated by the caller, not merely polled")
	assert.Equal(t, 1, fake.CallCount("page.generate"))

	got, err := store.FindOne(context.Background(), book.ID.String())
	require.NoError(t, err)
	key := storymodel.NewBranchKey(0, storymodel.NextBranch)
	_, cached := got.Story.BranchCache[key]
	assert.True(t, cached)
}

func TestEnsureReady_TakesOverStalePendingClaimAndGenerates(t *testing.T) {
	store := persistence.NewMemory()
	book := seedBook(t, store)
	key := storymodel.NewBranchKey(0, storymodel.NextBranch)
	stalePending := time.Now().Add(-130 * time.Second).Format(time.RFC3339Nano)
	require.NoError(t, store.UpdateOne(context.Background(), book.ID.String(),
		persistence.Filter{}, persistence.Update{Set: map[string]any{
			"story.branchPending." + string(key): stalePending,
		}}))

	fake := llmfake.New().SetDefault(nextPageJSON)
	coord := New(store, pagegen.New(fake), WithWaitTimeout(1*time.Second))

	ready, err := coord.EnsureReady(context.Background(), book.ID.String(), 0)
	require.NoError(t, err)
	assert.True(t, ready, "a stale pending claim must be taken over and generated by the caller")

	got, err := store.FindOne(context.Background(), book.ID.String())
	require.NoError(t, err)
	_, stillPending := got.Story.BranchPending[key]
	assert.False(t, stillPending, "takeover must clear the pending claim once committed")
}

func TestEnsureReady_PollsWhileAnotherWorkerHoldsFreshClaim(t *testing.T) {
	store := persistence.NewMemory()
	book := seedBook(t, store)
	key := storymodel.NewBranchKey(0, storymodel.NextBranch)
	freshPending := time.Now().Format(time.RFC3339Nano)
	require.NoError(t, store.UpdateOne(context.Background(), book.ID.String(),
		persistence.Filter{}, persistence.Update{Set: map[string]any{
			"story.branchPending." + string(key): freshPending,
		}}))

	coord := New(store, pagegen.New(llmfake.New()), WithWaitTimeout(600*time.Millisecond))
	start := time.Now()
	ready, err := coord.EnsureReady(context.Background(), book.ID.String(), 0)
	require.ErrorIs(t, err, errs.ErrTimeout)
	assert.False(t, ready, "a fresh claim held by someone else must not be taken over")
	assert.GreaterOrEqual(t, time.Since(start), 600*time.Millisecond)
}

func TestOptionsReady_ReportsPerOptionCacheState(t *testing.T) {
	store := persistence.NewMemory()
	book := seedBook(t, store)
	cachedKey := storymodel.OptionBranchKey(0, book.Story.Pages[0].OptionIDs[0])
	require.NoError(t, store.UpdateOne(context.Background(), book.ID.String(),
		persistence.Filter{}, persistence.Update{Set: map[string]any{
			"story.branchCache." + string(cachedKey):   storymodel.Candidate{},
			"story.branchCacheAt." + string(cachedKey): time.Now().Format(time.RFC3339Nano),
		}}))
	book, err := store.FindOne(context.Background(), book.ID.String())
	require.NoError(t, err)

	fake := llmfake.New().SetDefault(nextPageJSON)
	coord := New(store, pagegen.New(fake))

	got, err := coord.OptionsReady(context.Background(), book.ID.String(), book, 0)
	require.NoError(t, err)
	assert.True(t, got[book.Story.Pages[0].OptionIDs[0]], "cached option must report ready")
	assert.False(t, got[book.Story.Pages[0].OptionIDs[1]], "uncached option must report not ready")
}

func TestPruneBranchCache_RemovesForwardEntries(t *testing.T) {
	store := persistence.NewMemory()
	book := seedBook(t, store)
	// seedBook leaves Story.Index at 0. A cache entry keyed from index 1
	// was speculation for a continuation whose starting page a later
	// commit truncated away — it must be pruned.
	forwardKey := storymodel.NewBranchKey(1, storymodel.NextBranch)
	require.NoError(t, store.UpdateOne(context.Background(), book.ID.String(),
		persistence.Filter{}, persistence.Update{Set: map[string]any{
			"story.branchCache." + string(forwardKey):   storymodel.Candidate{},
			"story.branchCacheAt." + string(forwardKey): time.Now().Format(time.RFC3339Nano),
		}}))

	coord := New(store, pagegen.New(llmfake.New()))
	require.NoError(t, coord.PruneBranchCache(context.Background(), book.ID.String()))

	got, err := store.FindOne(context.Background(), book.ID.String())
	require.NoError(t, err)
	assert.Empty(t, got.Story.BranchCache)
}

func TestPruneBranchCache_RetainsHistoricalEntries(t *testing.T) {
	store := persistence.NewMemory()
	book := seedBook(t, store)
	// Advance past index 0 so a key built from it is now historical
	// (behind the reader) rather than current — it must survive pruning
	// to allow a future rewind.
	require.NoError(t, store.UpdateOne(context.Background(), book.ID.String(),
		persistence.Filter{}, persistence.Update{Set: map[string]any{"story.index": 1}}))

	historicalKey := storymodel.NewBranchKey(0, storymodel.NextBranch)
	require.NoError(t, store.UpdateOne(context.Background(), book.ID.String(),
		persistence.Filter{}, persistence.Update{Set: map[string]any{
			"story.branchCache." + string(historicalKey):   storymodel.Candidate{},
			"story.branchCacheAt." + string(historicalKey): time.Now().Format(time.RFC3339Nano),
		}}))

	coord := New(store, pagegen.New(llmfake.New()))
	require.NoError(t, coord.PruneBranchCache(context.Background(), book.ID.String()))

	got, err := store.FindOne(context.Background(), book.ID.String())
	require.NoError(t, err)
	assert.Len(t, got.Story.BranchCache, 1, "historical entries must survive pruning to allow a future rewind")
}

func TestPruneBranchCache_KeepsEntryAtCurrentIndex(t *testing.T) {
	store := persistence.NewMemory()
	book := seedBook(t, store)
	currentKey := storymodel.NewBranchKey(0, storymodel.NextBranch)
	require.NoError(t, store.UpdateOne(context.Background(), book.ID.String(),
		persistence.Filter{}, persistence.Update{Set: map[string]any{
			"story.branchCache." + string(currentKey):   storymodel.Candidate{},
			"story.branchCacheAt." + string(currentKey): time.Now().Format(time.RFC3339Nano),
		}}))

	coord := New(store, pagegen.New(llmfake.New()))
	require.NoError(t, coord.PruneBranchCache(context.Background(), book.ID.String()))

	got, err := store.FindOne(context.Background(), book.ID.String())
	require.NoError(t, err)
	assert.Len(t, got.Story.BranchCache, 1, "the entry for the reader's current position must not be pruned")
}
