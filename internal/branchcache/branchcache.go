// Package branchcache implements the branch cache / readiness coordinator
// named in spec.md §4.6: it precomputes the page the reader is most
// likely to need next (and the page for each option on the current page)
// in the background, storing candidates in storymodel.StoryState's
// BranchCache, and coordinates multiple engine processes racing to
// precompute the same slot through the persistence Adapter's CAS
// UpdateOne rather than an in-process lock — this must stay correct
// across replicas, not just goroutines.
//
// Grounded on the orchestrator's checkpoint manager
// (internal/core/checkpoint.go, a keyed, replaceable unit of saved
// progress) generalized from a single-writer file store into a
// contention-safe CAS claim, and on its worker pool
// (internal/phase/worker_pool.go) for the fan-out across option branches,
// here done with golang.org/x/sync/errgroup rather than a hand-rolled
// channel pool, since errgroup is already this codebase's idiom for
// bounded concurrent fan-out with shared error propagation.
package branchcache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vampirenirmal/taletwo/internal/errs"
	"github.com/vampirenirmal/taletwo/internal/pagegen"
	"github.com/vampirenirmal/taletwo/internal/persistence"
	"github.com/vampirenirmal/taletwo/internal/storymodel"
)

// StaleAfter is how long a claimed-but-uncommitted precompute slot is
// trusted before another worker is allowed to take it over — the original
// claimant may have crashed or its process may have been recycled
// (spec.md §4.6 "STALE").
const StaleAfter = 120 * time.Second

// WaitTimeout is how long a reader-facing "ready" poll will wait for an
// in-flight precompute before giving up with errs.ErrTimeout
// (spec.md §4.6 "WAIT_TIMEOUT").
const WaitTimeout = 240 * time.Second

// pollInterval is how often EnsureReady's wait loop re-checks the cache.
const pollInterval = 300 * time.Millisecond

// Coordinator owns branch-cache reads, writes, and the claim/takeover/
// prune state machine over a book's persisted StoryState.
type Coordinator struct {
	store       persistence.Adapter
	generator   *pagegen.Generator
	logger      *slog.Logger
	staleAfter  time.Duration
	waitTimeout time.Duration
	maxBranches int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStaleAfter overrides StaleAfter.
func WithStaleAfter(d time.Duration) Option { return func(c *Coordinator) { c.staleAfter = d } }

// WithWaitTimeout overrides WaitTimeout.
func WithWaitTimeout(d time.Duration) Option { return func(c *Coordinator) { c.waitTimeout = d } }

// WithMaxConcurrentBranches bounds how many option branches are
// precomputed concurrently (default 3, spec.md §4.4 options-per-page cap).
func WithMaxConcurrentBranches(n int) Option {
	return func(c *Coordinator) { c.maxBranches = n }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option { return func(c *Coordinator) { c.logger = logger } }

// New builds a Coordinator.
func New(store persistence.Adapter, generator *pagegen.Generator, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:       store,
		generator:   generator,
		logger:      slog.Default(),
		staleAfter:  StaleAfter,
		waitTimeout: WaitTimeout,
		maxBranches: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func cachePath(key storymodel.BranchKey) string   { return "story.branchCache." + string(key) }
func cacheAtPath(key storymodel.BranchKey) string { return "story.branchCacheAt." + string(key) }
func pendingPath(key storymodel.BranchKey) string { return "story.branchPending." + string(key) }

// claim attempts to take ownership of key's precompute slot, either
// because it is wholly unclaimed or because a prior claim has gone stale.
// It returns false, nil if another worker currently owns the slot and the
// claim is still fresh — not an error, just lost the race.
func (c *Coordinator) claim(ctx context.Context, bookID string, key storymodel.BranchKey) (bool, error) {
	now := time.Now()
	path := pendingPath(key)
	cPath := cachePath(key)

	err := c.store.UpdateOne(ctx, bookID,
		persistence.Filter{persistence.Absent(cPath), persistence.Absent(path)},
		persistence.Update{Set: map[string]any{path: now.Format(time.RFC3339Nano)}},
	)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return false, err
	}

	// Fresh claim failed: either already cached, or pending and possibly
	// stale. Attempt a takeover of a stale pending claim.
	err = c.store.UpdateOne(ctx, bookID,
		persistence.Filter{persistence.Absent(cPath), persistence.LTE(path, now.Add(-c.staleAfter))},
		persistence.Update{Set: map[string]any{path: now.Format(time.RFC3339Nano)}},
	)
	if err == nil {
		c.logger.Warn("took over stale branch precompute claim", "book", bookID, "key", key)
		return true, nil
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// release clears a claim without committing a candidate, used when
// generation fails so a later attempt (this process or another) can
// retry immediately rather than waiting out staleAfter.
func (c *Coordinator) release(ctx context.Context, bookID string, key storymodel.BranchKey) {
	err := c.store.UpdateOne(ctx, bookID,
		persistence.Filter{persistence.Exists(pendingPath(key))},
		persistence.Update{Unset: []string{pendingPath(key)}},
	)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		c.logger.Warn("failed to release branch precompute claim", "book", bookID, "key", key, "error", err)
	}
}

// commit stores a finished candidate and clears its pending claim.
func (c *Coordinator) commit(ctx context.Context, bookID string, key storymodel.BranchKey, candidate storymodel.Candidate) error {
	now := time.Now().Format(time.RFC3339Nano)
	return c.store.UpdateOne(ctx, bookID, persistence.Filter{}, persistence.Update{
		Set: map[string]any{
			cachePath(key):   candidate,
			cacheAtPath(key): now,
		},
		Unset: []string{pendingPath(key)},
	})
}

// PrecomputeNext claims and generates the page that follows the reader's
// current position with no option chosen yet (the "default continuation",
// keyed by storymodel.NextBranch). If the slot is already claimed by
// another worker or already cached, PrecomputeNext returns nil without
// doing anything — this is the common, expected outcome, not an error.
func (c *Coordinator) PrecomputeNext(ctx context.Context, bookID string, book *storymodel.Book) error {
	key := storymodel.NewBranchKey(book.Story.Index, storymodel.NextBranch)
	return c.precomputeOne(ctx, bookID, book, key, "")
}

// PrecomputeBranches claims and generates, concurrently, the page that
// follows each option on the reader's current page. Each branch is
// independent: one failing does not cancel the others (spec.md §4.6 —
// partial readiness is still useful readiness).
func (c *Coordinator) PrecomputeBranches(ctx context.Context, bookID string, book *storymodel.Book) error {
	if book.Story == nil || book.Story.Index < 0 || book.Story.Index >= len(book.Story.Pages) {
		return nil
	}
	current := book.Story.Pages[book.Story.Index]
	if len(current.OptionIDs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxBranches)
	for i, optionID := range current.OptionIDs {
		choiceText := current.Options[i]
		key := storymodel.OptionBranchKey(book.Story.Index, optionID)
		g.Go(func() error {
			if err := c.precomputeOne(gctx, bookID, book, key, choiceText); err != nil {
				c.logger.Warn("branch precompute failed", "book", bookID, "key", key, "error", err)
			}
			return nil // never cancel siblings over one branch's failure
		})
	}
	return g.Wait()
}

func (c *Coordinator) precomputeOne(ctx context.Context, bookID string, book *storymodel.Book, key storymodel.BranchKey, choice string) error {
	// A cached entry older than staleAfter is cleared first, conditional on
	// its timestamp still being stale, so the claim below can refresh it.
	err := c.store.UpdateOne(ctx, bookID,
		persistence.Filter{persistence.Exists(cachePath(key)), persistence.LTE(cacheAtPath(key), time.Now().Add(-c.staleAfter))},
		persistence.Update{Unset: []string{cachePath(key), cacheAtPath(key)}},
	)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return err
	}
	claimed, err := c.claim(ctx, bookID, key)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	return c.generateAndCommit(ctx, bookID, book, key, choice)
}

// generateAndCommit runs the Page Generator for an already-claimed slot
// and commits the result, releasing the claim on any failure so a later
// attempt can retry immediately rather than waiting out staleAfter.
func (c *Coordinator) generateAndCommit(ctx context.Context, bookID string, book *storymodel.Book, key storymodel.BranchKey, choice string) error {
	startIndex, _, ok := key.Parts()
	if !ok {
		c.release(ctx, bookID, key)
		return nil
	}

	req := pagegen.Request{
		Config:       book.Config,
		Plan:         book.Plan,
		PriorSummary: book.Story.Summary,
		Notes:        book.Story.Notes,
		RecentPages:  book.Story.RecentPassages(book.Story.Index, 3),
		NextChoice:   choice,
		PageIndex:    startIndex + 1,
	}

	candidate, err := c.generator.GeneratePage(ctx, req)
	if err != nil {
		c.release(ctx, bookID, key)
		return err
	}

	return c.commit(ctx, bookID, key, candidate)
}

// EnsureReady reports whether the default continuation from index is
// already cached, claiming and generating it itself on a cold or
// stale-pending slot, and otherwise blocking up to waitTimeout for
// another worker's in-flight precompute to land before giving up with
// errs.ErrTimeout (spec.md §4.6 steps 4-5). A book with an in-flight plan adaptation
// reports not-ready immediately without waiting or claiming: the next
// generation must use the adapted plan, so there is nothing worth
// starting yet.
func (c *Coordinator) EnsureReady(ctx context.Context, bookID string, index int) (bool, error) {
	deadline := time.Now().Add(c.waitTimeout)
	key := storymodel.NewBranchKey(index, storymodel.NextBranch)
	for {
		book, err := c.store.FindOne(ctx, bookID)
		if err != nil {
			return false, err
		}
		if book.PlanUpdating {
			return false, nil
		}
		if _, cached := book.Story.BranchCache[key]; cached {
			return true, nil
		}

		claimed, err := c.claim(ctx, bookID, key)
		if err != nil {
			return false, err
		}
		if claimed {
			if err := c.generateAndCommit(ctx, bookID, book, key, ""); err != nil {
				c.logger.Warn("ensureReady generation failed", "book", bookID, "key", key, "error", err)
				return false, nil
			}
			return true, nil
		}

		if time.Now().After(deadline) {
			return false, errs.ErrTimeout
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// OptionsReady reports, without blocking, which options on the page at
// index already have a cached continuation. Any option missing or with a
// stale entry is kicked off for background precompute (spec.md §4.6
// "ensureOptionsPrecompute") — the caller never waits on this call.
func (c *Coordinator) OptionsReady(ctx context.Context, bookID string, book *storymodel.Book, index int) (map[storymodel.OptionID]bool, error) {
	result := make(map[storymodel.OptionID]bool)
	if index < 0 || index >= len(book.Story.Pages) {
		return result, nil
	}
	page := book.Story.Pages[index]
	if len(page.OptionIDs) == 0 {
		return result, nil
	}

	missing := false
	for _, optionID := range page.OptionIDs {
		key := storymodel.OptionBranchKey(index, optionID)
		if at, ok := book.Story.BranchCacheAt[key]; ok && time.Since(at) <= c.staleAfter {
			result[optionID] = true
			continue
		}
		result[optionID] = false
		missing = true
	}
	if missing {
		go func() {
			if err := c.PrecomputeBranches(context.Background(), bookID, book); err != nil {
				c.logger.Warn("background option precompute failed", "book", bookID, "error", err)
			}
		}()
	}
	return result, nil
}

// PruneBranchCache removes cache entries left stranded by a commit: a
// commit truncates Pages to fromIndex+1, discarding any forward pages, so
// any branch keyed from an index beyond the new head was speculation for
// a continuation that no longer exists. Entries at or behind the current
// index are retained — they still describe reachable positions and allow
// a future rewind (spec.md §4.6 "prune"). Siblings at the current index
// (the options the reader didn't pick) are harmless leftovers that later
// prune passes don't need to touch.
func (c *Coordinator) PruneBranchCache(ctx context.Context, bookID string) error {
	book, err := c.store.FindOne(ctx, bookID)
	if err != nil {
		return err
	}
	var unset []string
	for key := range book.Story.BranchCache {
		if idx, ok := key.Index(); ok && idx > book.Story.Index {
			unset = append(unset, cachePath(key), cacheAtPath(key))
		}
	}
	for key := range book.Story.BranchPending {
		if idx, ok := key.Index(); ok && idx > book.Story.Index {
			unset = append(unset, pendingPath(key))
		}
	}
	if len(unset) == 0 {
		return nil
	}
	return c.store.UpdateOne(ctx, bookID, persistence.Filter{}, persistence.Update{Unset: unset})
}
