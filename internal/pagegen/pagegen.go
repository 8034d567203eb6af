// Package pagegen implements the page generator named in spec.md §4.4: it
// picks a focus for the next page (dramatizing the current plan substep,
// or a world or character beat), composes the prompt
// through internal/promptbuilder, and turns the model's response into a
// storymodel.Candidate — ready either to commit immediately or to sit in
// the branch cache until its turn comes.
//
// Grounded on the orchestrator's scene-by-scene writer
// (internal/phase/fiction/targeted_writer.go): build full context, call
// the model once, post-process the result, never hold partial output.
package pagegen

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/vampirenirmal/taletwo/internal/llm"
	"github.com/vampirenirmal/taletwo/internal/promptbuilder"
	"github.com/vampirenirmal/taletwo/internal/storymodel"
)

// DefaultLookahead is how many trailing substeps of a point count as its
// "transition window" — close enough to the point's end that the next
// page should start laying groundwork for the point that follows
// (spec.md §4.4, "transition window override").
const DefaultLookahead = 2

// Generator produces one page at a time.
type Generator struct {
	chatter   llm.Chatter
	logger    *slog.Logger
	lookahead int
	randIntn  func(int) int
}

// Option configures a Generator.
type Option func(*Generator)

// WithLookahead overrides DefaultLookahead.
func WithLookahead(n int) Option {
	return func(g *Generator) { g.lookahead = n }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

// WithRandIntn overrides the source of randomness selectFocus uses,
// letting tests pin the focus choice instead of depending on math/rand.
func WithRandIntn(randIntn func(int) int) Option {
	return func(g *Generator) { g.randIntn = randIntn }
}

// New builds a Generator.
func New(chatter llm.Chatter, opts ...Option) *Generator {
	g := &Generator{
		chatter:   chatter,
		logger:    slog.Default(),
		lookahead: DefaultLookahead,
		randIntn:  rand.Intn,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Request bundles what GeneratePage needs beyond the chatter itself: the
// book's config and plan, the story-so-far, and the reader's choice when
// the page continues an option branch. There is no per-request switch for
// options: every generated page is prompted to offer choices, including
// the last page of the plan.
type Request struct {
	Config       storymodel.Config
	Plan         *storymodel.Plan
	PriorSummary string
	Notes        []string
	RecentPages  []string
	NextChoice   string
	PageIndex    int // index the generated page will occupy once committed
}

// GeneratePage runs one generation call and returns a Candidate. It never
// mutates req.Plan — cursor advancement only happens once the verifier
// confirms the dramatized substep, which is the caller's job
// (spec.md §4.2, "plan cursor advances only on confirmed dramatization").
func (g *Generator) GeneratePage(ctx context.Context, req Request) (storymodel.Candidate, error) {
	focus, pageCtx, subToCheck := g.selectFocus(req)

	messages := promptbuilder.BuildPageGenerationPrompt(focus, pageCtx)
	raw, err := g.chatter.Chat(ctx, messages, llm.Options{
		ResponseFormat: "json_object",
		Tag:            "page.generate",
	})
	if err != nil {
		return storymodel.Candidate{}, fmt.Errorf("pagegen: chat: %w", err)
	}

	resp, err := promptbuilder.ParseStrict[promptbuilder.PageResponse](raw)
	if err != nil {
		return storymodel.Candidate{}, fmt.Errorf("pagegen: parse: %w", err)
	}

	page := storymodel.Page{
		Passage: resp.Passage,
		Summary: resp.Summary,
	}
	// Options are kept only when the model returned exactly three — the
	// schema's options/optionIds arrays have no meaning at any other
	// length, so a malformed reply is treated as offering none at all
	// rather than committed with a partial or padded branch set.
	if len(resp.Options) == 3 {
		page.Options = resp.Options
		page.OptionIDs = storymodel.MakeOptionIDs(req.PageIndex, resp.Options)
	}

	g.logger.Info("page generated",
		"focus", focus,
		"pageIndex", req.PageIndex,
		"options", len(page.Options),
		"hasSubstepCheck", subToCheck != nil,
	)

	return storymodel.Candidate{
		Page:       page,
		NotesDelta: trimNotes(resp.Notes),
		SubToCheck: subToCheck,
	}, nil
}

// maxNotes is the cap on non-empty notes kept per page (spec.md §4.4
// "trim notes to at most two non-empty strings").
const maxNotes = 2

func trimNotes(notes []string) []string {
	trimmed := make([]string, 0, maxNotes)
	for _, n := range notes {
		if n == "" {
			continue
		}
		trimmed = append(trimmed, n)
		if len(trimmed) == maxNotes {
			break
		}
	}
	return trimmed
}

// selectFocus decides what this page should dramatize (spec.md §4.4): one
// of three modes with equal prior probability — substep, world, character —
// unless this is a transition window, in which case substep is forced and
// carries the next point as buildup guidance. A transition window is either
// the very first page of the story (no prior summary, no choice, cursor at
// point 0 substep 0) or the last one-to-two substeps of the current point
// with another point following (storymodel.Plan.InTransitionWindow). If the
// chosen or forced mode is substep but the plan has none due, the page
// falls back to a uniform world/character pick instead.
func (g *Generator) selectFocus(req Request) (promptbuilder.Focus, promptbuilder.PageContext, *storymodel.SubToCheck) {
	ctx := promptbuilder.PageContext{
		Config:       req.Config,
		PriorSummary: req.PriorSummary,
		Notes:        req.Notes,
		RecentPages:  req.RecentPages,
		NextChoice:   req.NextChoice,
		AllowOptions: true,
	}

	if req.Plan == nil || req.Plan.Exhausted() {
		return g.worldOrCharacter(ctx)
	}

	substep, substepDue := req.Plan.CurrentSubstep()

	forceSubstep := req.PageIndex == 0 && req.PriorSummary == "" && req.NextChoice == "" &&
		req.Plan.CurPoint == 0 && req.Plan.CurSub == 0
	var buildup *storymodel.Point
	if next, inWindow := req.Plan.InTransitionWindow(g.lookahead); inWindow {
		forceSubstep = true
		buildup = next
	} else if forceSubstep && req.Plan.CurPoint+1 < len(req.Plan.Points) {
		buildup = &req.Plan.Points[req.Plan.CurPoint+1]
	}

	if !forceSubstep {
		switch g.randIntn(3) {
		case 0:
			forceSubstep = true
		case 1:
			return g.focusWorld(ctx)
		default:
			return g.focusCharacter(ctx)
		}
	}

	if !substepDue {
		return g.worldOrCharacter(ctx)
	}

	ctx.SubstepText = substep
	ctx.BuildupPoint = buildup

	return promptbuilder.FocusSubstep, ctx, &storymodel.SubToCheck{
		PointIndex: req.Plan.CurPoint,
		SubIndex:   req.Plan.CurSub,
		Text:       substep,
	}
}

func (g *Generator) worldOrCharacter(ctx promptbuilder.PageContext) (promptbuilder.Focus, promptbuilder.PageContext, *storymodel.SubToCheck) {
	if g.randIntn(2) == 0 {
		return g.focusWorld(ctx)
	}
	return g.focusCharacter(ctx)
}

func (g *Generator) focusWorld(ctx promptbuilder.PageContext) (promptbuilder.Focus, promptbuilder.PageContext, *storymodel.SubToCheck) {
	return promptbuilder.FocusWorld, ctx, nil
}

func (g *Generator) focusCharacter(ctx promptbuilder.PageContext) (promptbuilder.Focus, promptbuilder.PageContext, *storymodel.SubToCheck) {
	return promptbuilder.FocusCharacter, ctx, nil
}
