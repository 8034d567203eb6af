// Package storyruntime is the Story Runtime named in spec.md §4.7: the
// component that ties the Plan Engine, Page Generator, Verifier, and
// Branch Cache Coordinator into the five reader-facing operations (start,
// getSnapshot, ready, next, choose) plus the shared commitPage path they
// all funnel through.
//
// Grounded on the top-level Orchestrator (internal/core/orchestrator.go):
// a thin functional-options-configured wrapper holding references to the
// components that do the real work, whose job is sequencing and
// persistence, not generation itself.
package storyruntime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vampirenirmal/taletwo/internal/branchcache"
	"github.com/vampirenirmal/taletwo/internal/errs"
	"github.com/vampirenirmal/taletwo/internal/pagegen"
	"github.com/vampirenirmal/taletwo/internal/persistence"
	"github.com/vampirenirmal/taletwo/internal/planengine"
	"github.com/vampirenirmal/taletwo/internal/storymodel"
	"github.com/vampirenirmal/taletwo/internal/verifier"
)

// ErrNoOptionsOnPage is returned by Choose when the current page offers no
// choices to pick from (the plan has been exhausted and the story ended).
var ErrNoOptionsOnPage = errors.New("storyruntime: current page has no options")

// Runtime sequences the engine's reader-facing operations.
type Runtime struct {
	store  persistence.Adapter
	plans  *planengine.Engine
	pages  *pagegen.Generator
	verify *verifier.Verifier
	cache  *branchcache.Coordinator
	logger *slog.Logger
	async  bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option { return func(r *Runtime) { r.logger = logger } }

// WithSynchronousPrecompute runs background precompute inline instead of
// in a goroutine. Production wiring never sets this; tests do, so
// assertions can observe precompute's effects deterministically without
// racing a background goroutine against the test's own scripted calls.
func WithSynchronousPrecompute() Option { return func(r *Runtime) { r.async = false } }

// New builds a Runtime from its component dependencies.
func New(store persistence.Adapter, plans *planengine.Engine, pages *pagegen.Generator, verify *verifier.Verifier, cache *branchcache.Coordinator, opts ...Option) *Runtime {
	r := &Runtime{store: store, plans: plans, pages: pages, verify: verify, cache: cache, logger: slog.Default(), async: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DebugPlanPoint is a trimmed, client-safe projection of a storymodel.Point
// for the snapshot's debugPlan field (spec.md §6).
type DebugPlanPoint struct {
	Title    string   `json:"title"`
	Brief    string   `json:"brief"`
	Substeps []string `json:"substeps,omitempty"`
}

// DebugPlanView projects a Plan's shape without exposing engine-internal
// bookkeeping. Intended for development UIs, not required by readers.
type DebugPlanView struct {
	CurPoint int               `json:"curPoint"`
	CurSub   int               `json:"curSub"`
	Points   []DebugPlanPoint  `json:"points"`
}

// Snapshot is the read-facing projection of a Book (spec.md §6's snapshot
// shape): the committed pages, the reader's position, accumulated notes,
// and optionally a debug view of the plan. branchCache, branchPending,
// branchCacheAt, and pendingVerify are never exposed here.
type Snapshot struct {
	BookID       string             `json:"bookId"`
	Config       storymodel.Config  `json:"config"`
	Pages        []storymodel.Page  `json:"pages"`
	CurrentPage  *storymodel.Page   `json:"currentPage,omitempty"`
	CurrentIndex int                `json:"currentIndex"`
	Notes        []string           `json:"notes"`
	Summary      string             `json:"summary"`
	Turn         int                `json:"turn"`
	PlanUpdating bool               `json:"planUpdating"`
	Finished     bool               `json:"finished"`
	DebugPlan    *DebugPlanView     `json:"debugPlan,omitempty"`
}

func snapshotOf(book *storymodel.Book) Snapshot {
	s := Snapshot{
		BookID:       book.ID.String(),
		Config:       book.Config,
		CurrentIndex: -1,
		PlanUpdating: book.PlanUpdating,
	}
	if book.Story != nil {
		s.Pages = book.Story.Pages
		s.CurrentIndex = book.Story.Index
		s.Notes = book.Story.Notes
		s.Summary = book.Story.Summary
		s.Turn = book.Story.Turn
		if book.Story.Index >= 0 && book.Story.Index < len(book.Story.Pages) {
			page := book.Story.Pages[book.Story.Index]
			s.CurrentPage = &page
		}
	}
	if book.Plan != nil {
		s.Finished = book.Plan.Exhausted() && (book.Story == nil || len(book.Story.Pages) > 0 && len(book.Story.Pages[book.Story.Index].Options) == 0)
		points := make([]DebugPlanPoint, len(book.Plan.Points))
		for i, p := range book.Plan.Points {
			points[i] = DebugPlanPoint{Title: p.Title, Brief: p.Brief, Substeps: p.Substeps}
		}
		s.DebugPlan = &DebugPlanView{CurPoint: book.Plan.CurPoint, CurSub: book.Plan.CurSub, Points: points}
	}
	return s
}

// Start creates the opening page of a freshly created book: it ensures
// the plan is generated, generates and commits page zero synchronously
// (there is no "prior" page to have precomputed it from), then kicks off
// background precompute for whatever comes after.
func (r *Runtime) Start(ctx context.Context, bookID string) (Snapshot, error) {
	book, err := r.store.FindOne(ctx, bookID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("storyruntime: start: load book: %w", err)
	}
	if book.Story == nil {
		book.Story = storymodel.NewStoryState()
	}
	if len(book.Story.Pages) > 0 {
		return snapshotOf(book), nil
	}

	plan, err := r.plans.EnsurePlanReady(ctx, book.Config, book.Plan)
	if err != nil {
		r.logger.Warn("plan not fully ready at start, continuing with partial plan", "book", bookID, "error", err)
	}
	if plan != nil {
		book.Plan = plan
	}

	candidate, err := r.pages.GeneratePage(ctx, pagegen.Request{
		Config:    book.Config,
		Plan:      book.Plan,
		PageIndex: 0,
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("storyruntime: start: generate opening page: %w", err)
	}

	if err := r.commitPage(ctx, book, book.Story.Index, candidate); err != nil {
		return Snapshot{}, fmt.Errorf("storyruntime: start: commit opening page: %w", err)
	}

	r.precomputeInBackground(book)
	return snapshotOf(book), nil
}

// GetSnapshot loads and projects the current state of a book.
func (r *Runtime) GetSnapshot(ctx context.Context, bookID string) (Snapshot, error) {
	book, err := r.store.FindOne(ctx, bookID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("storyruntime: get snapshot: %w", err)
	}
	return snapshotOf(book), nil
}

// ReadyStatus is the projection returned by Ready: whether the default
// continuation from index is precomputed, and which of the page's
// options (if any) are already cached (spec.md §6 "ready" response).
type ReadyStatus struct {
	Next    bool                        `json:"next"`
	Options map[storymodel.OptionID]bool `json:"options"`
}

// Ready reports readiness for advancing from index: it blocks (up to the
// coordinator's WaitTimeout) on the default continuation, since that is
// the path a linear reader is about to take, but only spot-checks option
// branches without waiting — a reader who has not chosen yet should never
// be blocked on branches they may never visit.
func (r *Runtime) Ready(ctx context.Context, bookID string, index int) (ReadyStatus, error) {
	next, err := r.cache.EnsureReady(ctx, bookID, index)
	if err != nil {
		return ReadyStatus{}, err
	}
	book, err := r.store.FindOne(ctx, bookID)
	if err != nil {
		return ReadyStatus{}, err
	}
	options, err := r.cache.OptionsReady(ctx, bookID, book, index)
	if err != nil {
		return ReadyStatus{}, err
	}
	return ReadyStatus{Next: next, Options: options}, nil
}

// Next advances the story along its default continuation (no option
// chosen) from fromIndex — used for pages the plan generates without
// branching, or when a reader simply continues past a page whose choices
// they ignored. fromIndex need not be the current head: committing from
// an earlier index is a rewind, and truncates any forward pages
// (spec.md §4.7 commitPage step 1).
func (r *Runtime) Next(ctx context.Context, bookID string, fromIndex int) (Snapshot, error) {
	book, err := r.store.FindOne(ctx, bookID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("storyruntime: next: load book: %w", err)
	}
	if book.Story == nil {
		return Snapshot{}, fmt.Errorf("storyruntime: next: %w: story not started", errs.ErrBadRequest)
	}
	last := len(book.Story.Pages) - 1
	if fromIndex < -1 || fromIndex > last {
		return Snapshot{}, fmt.Errorf("storyruntime: next: %w: index %d out of range [-1,%d]", errs.ErrBadRequest, fromIndex, last)
	}

	key := storymodel.NewBranchKey(fromIndex, storymodel.NextBranch)
	candidate, err := r.consumeOrGenerate(ctx, book, fromIndex, key, "")
	if err != nil {
		return Snapshot{}, fmt.Errorf("storyruntime: next: %w", err)
	}
	if err := r.commitPage(ctx, book, fromIndex, candidate); err != nil {
		return Snapshot{}, fmt.Errorf("storyruntime: next: commit: %w", err)
	}
	r.precomputeInBackground(book)
	return snapshotOf(book), nil
}

// ChooseRequest names the page a choice is made from and identifies the
// chosen option, either by its stable OptionID or, failing a match, by
// its literal text (spec.md §4.7 choose).
type ChooseRequest struct {
	Index    int
	OptionID storymodel.OptionID
	Text     string
}

// Choose advances the story along the branch the reader selected,
// re-plans around the new direction (spec.md §4.3 "adapt"), and commits
// the resulting page. Like Next, req.Index may rewind to an earlier page.
func (r *Runtime) Choose(ctx context.Context, bookID string, req ChooseRequest) (Snapshot, error) {
	book, err := r.store.FindOne(ctx, bookID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("storyruntime: choose: load book: %w", err)
	}
	if book.Story == nil {
		return Snapshot{}, fmt.Errorf("storyruntime: choose: %w: story not started", errs.ErrBadRequest)
	}
	last := len(book.Story.Pages) - 1
	if req.Index < 0 || req.Index > last {
		return Snapshot{}, fmt.Errorf("storyruntime: choose: %w: index %d out of range [0,%d]", errs.ErrBadRequest, req.Index, last)
	}
	current := book.Story.Pages[req.Index]
	if len(current.Options) == 0 {
		return Snapshot{}, ErrNoOptionsOnPage
	}

	choiceText, ok := resolveChoiceText(current, req)
	if !ok {
		return Snapshot{}, fmt.Errorf("storyruntime: choose: %w: no option id match and no fallback text", errs.ErrBadRequest)
	}

	key := storymodel.OptionBranchKey(req.Index, req.OptionID)
	candidate, err := r.consumeOrGenerate(ctx, book, req.Index, key, choiceText)
	if err != nil {
		return Snapshot{}, fmt.Errorf("storyruntime: choose: %w", err)
	}

	adapting := book.Plan != nil
	if adapting {
		book.PlanUpdating = true
	}

	if err := r.commitPage(ctx, book, req.Index, candidate); err != nil {
		return Snapshot{}, fmt.Errorf("storyruntime: choose: commit: %w", err)
	}

	// Snapshot before scheduling adaptation: the background/goroutine path
	// below mutates book.Plan and book.PlanUpdating, so capturing the
	// projection first avoids reading those fields concurrently with that
	// mutation. The reader sees planUpdating=true here (spec.md §4.7
	// "adapt") and must poll ready/getSnapshot for the revised plan.
	snap := snapshotOf(book)

	if adapting {
		r.adaptPlanInBackground(book, req.Index, choiceText, candidate.Page)
	} else {
		r.precomputeInBackground(book)
	}
	return snap, nil
}

// adaptPlanInBackground re-plans around a reader's choice off the
// request path, persisting the revised plan and clearing planUpdating
// only once it lands, then schedules branch precompute against the
// now-settled plan (spec.md §4.6 "plan-adapt exclusion": no precompute is
// scheduled against a plan that might still change underneath it). Runs
// inline when the Runtime was built WithSynchronousPrecompute, so tests
// can observe its effects deterministically.
func (r *Runtime) adaptPlanInBackground(book *storymodel.Book, choiceIndex int, choiceText string, committedPage storymodel.Page) {
	bookID := book.ID.String()
	run := func() {
		bgCtx := context.Background()
		revised, err := r.plans.AdaptPlanAfterChoice(bgCtx, book.Plan, choiceIndex, choiceText, committedPage)
		if err != nil {
			r.logger.Warn("plan adaptation failed, keeping prior plan", "book", bookID, "error", err)
		} else {
			book.Plan = revised
		}
		book.PlanUpdating = false
		if err := r.store.UpdateOne(bgCtx, bookID, persistence.Filter{}, persistence.Update{Set: map[string]any{
			"plan":         book.Plan,
			"planUpdating": book.PlanUpdating,
		}}); err != nil {
			r.logger.Warn("failed to persist plan adaptation result", "book", bookID, "error", err)
			return
		}
		r.precomputeInBackground(book)
	}
	if r.async {
		go run()
	} else {
		run()
	}
}

// resolveChoiceText implements spec.md §4.7's choose text resolution: an
// OptionID matching one of page's OptionIDs wins; otherwise req.Text is
// used if non-empty; otherwise the choice cannot be resolved.
func resolveChoiceText(page storymodel.Page, req ChooseRequest) (string, bool) {
	if req.OptionID != "" {
		for i, id := range page.OptionIDs {
			if id == req.OptionID {
				return page.Options[i], true
			}
		}
	}
	if req.Text != "" {
		return req.Text, true
	}
	return "", false
}

// consumeOrGenerate returns the cached candidate for key if present,
// removing it from the cache, or generates one synchronously on a cache
// miss (the reader should never be blocked indefinitely on a precompute
// that never landed). fromIndex is the page the continuation is generated
// from, independent of book.Story.Index when the caller is rewinding.
func (r *Runtime) consumeOrGenerate(ctx context.Context, book *storymodel.Book, fromIndex int, key storymodel.BranchKey, choice string) (storymodel.Candidate, error) {
	if candidate, ok := book.Story.BranchCache[key]; ok {
		delete(book.Story.BranchCache, key)
		delete(book.Story.BranchCacheAt, key)
		return candidate, nil
	}

	r.logger.Info("branch cache miss, generating synchronously", "book", book.ID, "key", key)
	return r.pages.GeneratePage(ctx, pagegen.Request{
		Config:       book.Config,
		Plan:         book.Plan,
		PriorSummary: book.Story.Summary,
		Notes:        book.Story.Notes,
		RecentPages:  book.Story.RecentPassages(fromIndex, 3),
		NextChoice:   choice,
		PageIndex:    fromIndex + 1,
	})
}

// commitPage is the single path every new page flows through: verify the
// previous page's tagged sub-step, advance the plan cursor if confirmed,
// truncate any forward pages, append the new page, merge notes, and
// persist (spec.md §4.2, §4.7). fromIndex is the page the candidate was
// generated from; pages after it are discarded — the engine always acts
// as if the reader is at the head once a commit lands there.
func (r *Runtime) commitPage(ctx context.Context, book *storymodel.Book, fromIndex int, candidate storymodel.Candidate) error {
	if pending := book.Story.PendingVerify; pending != nil && book.Plan != nil {
		recent := book.Story.RecentPassages(book.Story.Index, 2)
		done, err := r.verify.VerifyPendingBeforeNext(ctx, pending, recent, book.Story.Notes)
		if err != nil {
			r.logger.Warn("verification errored, cursor not advanced this turn", "book", book.ID, "error", err)
		} else if done {
			planengine.AdvanceCursor(book.Plan)
		}
		book.Story.PendingVerify = nil
	}

	book.Story.Pages = append(book.Story.Pages[:fromIndex+1], candidate.Page)
	book.Story.Index = fromIndex + 1
	book.Story.Turn++
	book.Story.Summary = candidate.Page.Summary
	book.Story.AddNotes(candidate.NotesDelta)
	if candidate.SubToCheck != nil {
		book.Story.PendingVerify = &storymodel.PendingVerify{
			Passage:    candidate.Page.Passage,
			SubText:    candidate.SubToCheck.Text,
			PointIndex: candidate.SubToCheck.PointIndex,
			SubIndex:   candidate.SubToCheck.SubIndex,
		}
	}

	return r.saveBook(ctx, book)
}

// saveBook persists the whole book document. It is the only write path
// that is not itself a CAS UpdateOne: the reader-facing operations above
// are expected to run one at a time per book (spec.md §4.7's ordering
// guarantee), unlike the Branch Cache Coordinator's background precompute
// writes, which always go through UpdateOne with a Filter.
func (r *Runtime) saveBook(ctx context.Context, book *storymodel.Book) error {
	return r.store.UpdateOne(ctx, book.ID.String(), persistence.Filter{}, persistence.Update{Set: map[string]any{
		"config":       book.Config,
		"plan":         book.Plan,
		"story":        book.Story,
		"planUpdating": book.PlanUpdating,
	}})
}

// precomputeInBackground fires the next-page and per-option precompute
// passes without blocking the reader-facing call that triggered them. It
// intentionally swallows errors — they are already logged inside
// branchcache, and a failed precompute just means the next read finds a
// cold cache and generates synchronously instead (consumeOrGenerate).
func (r *Runtime) precomputeInBackground(book *storymodel.Book) {
	bookID := book.ID.String()
	run := func() {
		bgCtx := context.Background()
		if err := r.cache.PrecomputeNext(bgCtx, bookID, book); err != nil {
			r.logger.Warn("background next-page precompute failed", "book", bookID, "error", err)
		}
		if err := r.cache.PrecomputeBranches(bgCtx, bookID, book); err != nil {
			r.logger.Warn("background branch precompute failed", "book", bookID, "error", err)
		}
		if err := r.cache.PruneBranchCache(bgCtx, bookID); err != nil {
			r.logger.Warn("branch cache prune failed", "book", bookID, "error", err)
		}
	}
	if r.async {
		go run()
	} else {
		run()
	}
}
