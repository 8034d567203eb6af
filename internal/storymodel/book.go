// Package storymodel holds the persistent entities of the authoring
// engine: Book, Plan, Point, StoryState, Page, Candidate, and the small
// value types (BranchKey, OptionID) that key the branch cache.
package storymodel

import (
	"time"

	"github.com/google/uuid"
)

// Config is a book's free-text authoring configuration, supplied by the
// (external) client and never interpreted beyond being threaded into
// prompts.
type Config struct {
	SourceTitleA  string `json:"sourceTitleA" yaml:"sourceTitleA"`
	SourceTitleB  string `json:"sourceTitleB" yaml:"sourceTitleB"`
	World         string `json:"world" yaml:"world"`
	MainCharacter string `json:"mainCharacter" yaml:"mainCharacter"`
	Genre         string `json:"genre" yaml:"genre"`
}

// Book is the persistent, one-per-story root entity. It is never deleted
// by the engine; every mutation (config change, plan lifecycle step, page
// commit, branch cache write) is a new version of this document.
type Book struct {
	ID            uuid.UUID   `json:"id"`
	OwnerID       string      `json:"ownerId"`
	Config        Config      `json:"config"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	Plan          *Plan       `json:"plan,omitempty"`
	Story         *StoryState `json:"story,omitempty"`
	PlanUpdating  bool        `json:"planUpdating"`
}

// NewBook constructs an empty book owned by ownerID.
func NewBook(ownerID string, cfg Config) *Book {
	now := time.Now()
	return &Book{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Point is one high-level beat of the plan: a title, a one-line brief,
// and the ordered sub-steps the Page Generator dramatizes one at a time.
type Point struct {
	Title    string   `json:"title"`
	Brief    string   `json:"brief"`
	Substeps []string `json:"substeps"`
}

// Plan is the narrative outline the engine steers generation with.
// (CurPoint, CurSub) identifies the next unperformed sub-step; when
// CurPoint == len(Points) the plan is exhausted.
type Plan struct {
	OverallIdea string  `json:"overallIdea"`
	Conflict    string  `json:"conflict"`
	Points      []Point `json:"points"`
	CurPoint    int     `json:"curPoint"`
	CurSub      int     `json:"curSub"`
}

// Exhausted reports whether the cursor has passed the last point.
func (p *Plan) Exhausted() bool {
	return p.CurPoint >= len(p.Points)
}

// CurrentSubstep returns the sub-step text the cursor currently points at
// and true, or "" and false if the cursor has no substep (either the plan
// is exhausted, or the current point has no substeps yet).
func (p *Plan) CurrentSubstep() (string, bool) {
	if p.Exhausted() {
		return "", false
	}
	point := p.Points[p.CurPoint]
	if p.CurSub < 0 || p.CurSub >= len(point.Substeps) {
		return "", false
	}
	return point.Substeps[p.CurSub], true
}

// InTransitionWindow reports whether the cursor sits within the last
// maxLookahead sub-steps of the current point and another point follows
// — the window in which the Page Generator is forced into substep focus
// with buildup guidance for the next point (spec.md §4.4).
func (p *Plan) InTransitionWindow(maxLookahead int) (nextPoint *Point, ok bool) {
	if p.Exhausted() {
		return nil, false
	}
	if p.CurPoint+1 >= len(p.Points) {
		return nil, false
	}
	point := p.Points[p.CurPoint]
	remaining := len(point.Substeps) - p.CurSub
	if remaining <= 0 || remaining > maxLookahead {
		return nil, false
	}
	return &p.Points[p.CurPoint+1], true
}

// AdvanceCursor applies the verifier's "done" advancement rule: move to
// the next sub-step, rolling over into the next point when the current
// point's sub-steps are exhausted. The cursor never moves backward.
func (p *Plan) AdvanceCursor() {
	p.CurSub++
	if p.Exhausted() {
		return
	}
	if p.CurSub >= len(p.Points[p.CurPoint].Substeps) {
		p.CurPoint++
		if p.CurPoint > len(p.Points) {
			p.CurPoint = len(p.Points)
		}
		p.CurSub = 0
	}
}

// PendingVerify records a committed page whose tagged sub-step has not
// yet been checked against the model.
type PendingVerify struct {
	Passage    string `json:"passage"`
	SubText    string `json:"subText"`
	PointIndex int    `json:"pointIndex"`
	SubIndex   int    `json:"subIndex"`
}

// Page is one committed chapter of prose, optionally offering choices.
type Page struct {
	Passage   string     `json:"passage"`
	Summary   string     `json:"summary"`
	Options   []string   `json:"options,omitempty"`
	OptionIDs []OptionID `json:"optionIds,omitempty"`
}

// SubToCheck identifies the sub-step a generated page was aimed at, so the
// commit path can stash it as PendingVerify without the generator having
// to know about persistence.
type SubToCheck struct {
	PointIndex int    `json:"pointIndex"`
	SubIndex   int    `json:"subIndex"`
	Text       string `json:"text"`
}

// Candidate is a speculatively generated page held in the branch cache
// until a reader's request consumes it via commit.
type Candidate struct {
	Page       Page        `json:"page"`
	NotesDelta []string    `json:"notesDelta"`
	SubToCheck *SubToCheck `json:"subToCheck,omitempty"`
}

// StoryState is the append-only (in the forward direction) timeline of a
// book: committed pages, memory notes, and the branch cache/coordination
// bookkeeping the Branch Cache Coordinator owns.
type StoryState struct {
	Pages         []Page                    `json:"pages"`
	Index         int                       `json:"index"`
	Notes         []string                  `json:"notes"`
	Summary       string                    `json:"summary"`
	Turn          int                       `json:"turn"`
	BranchCache   map[BranchKey]Candidate   `json:"branchCache"`
	BranchCacheAt map[BranchKey]time.Time   `json:"branchCacheAt"`
	BranchPending map[BranchKey]time.Time   `json:"branchPending"`
	PendingVerify *PendingVerify            `json:"pendingVerify,omitempty"`
}

// NewStoryState returns an empty story, index -1 meaning "before first
// page", ready to receive the opening commit.
func NewStoryState() *StoryState {
	return &StoryState{
		Index:         -1,
		BranchCache:   make(map[BranchKey]Candidate),
		BranchCacheAt: make(map[BranchKey]time.Time),
		BranchPending: make(map[BranchKey]time.Time),
	}
}

// AddNotes merges notesDelta into Notes preserving insertion order and
// deduplicating, per the commit semantics in spec.md §4.7.
func (s *StoryState) AddNotes(notesDelta []string) {
	seen := make(map[string]struct{}, len(s.Notes))
	for _, n := range s.Notes {
		seen[n] = struct{}{}
	}
	for _, n := range notesDelta {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		s.Notes = append(s.Notes, n)
	}
}

// LastPageIndex is the index of the most recently committed page, or -1
// if no page has been committed yet.
func (s *StoryState) LastPageIndex() int {
	return s.Index
}

// RecentPassages returns up to n passages immediately preceding (and
// including) upToIndex, in story order, for use as generation context.
func (s *StoryState) RecentPassages(upToIndex, n int) []string {
	if upToIndex < 0 || upToIndex >= len(s.Pages) {
		return nil
	}
	start := upToIndex - n + 1
	if start < 0 {
		start = 0
	}
	out := make([]string, 0, upToIndex-start+1)
	for i := start; i <= upToIndex; i++ {
		out = append(out, s.Pages[i].Passage)
	}
	return out
}
