// Package planengine owns the plan lifecycle named in spec.md §4.3:
// generating the initial point outline, expanding each point into
// dramatizable sub-steps, inserting connective intro material, and
// replacing the whole plan when a reader's choice pulls the story away
// from what was planned. Every stage logs through log/slog in the
// teacher's style (internal/phase/fiction/architect.go), and every
// failure mode is non-fatal to the story: a failed expansion or adapt
// leaves the prior plan in place rather than losing the reader's progress.
package planengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vampirenirmal/taletwo/internal/llm"
	"github.com/vampirenirmal/taletwo/internal/promptbuilder"
	"github.com/vampirenirmal/taletwo/internal/storymodel"
)

// Engine runs the plan-lifecycle operations against an injected Chatter.
type Engine struct {
	chatter llm.Chatter
	logger  *slog.Logger
}

// New builds a plan Engine. logger may be nil, in which case slog.Default
// is used.
func New(chatter llm.Chatter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{chatter: chatter, logger: logger}
}

// EnsurePlanReady runs the generate→expand→intro-insert pipeline against
// book.Plan, creating it if absent (spec.md §4.2 "generate"). A plan that
// already has points skips generation, and expansion only fills points
// that have no substeps yet, leaving existing lists untouched. The
// intro-insertion pass runs every time and replaces a point's list only
// when the model returns a non-empty list for it
// (promptbuilder.ApplySubstepBatch), so it never empties a point. Returns
// the ready plan; on any stage failure the book's
// existing plan (possibly partially built) is returned along with the
// error, so the caller can retry later without having lost prior work.
func (e *Engine) EnsurePlanReady(ctx context.Context, cfg storymodel.Config, plan *storymodel.Plan) (*storymodel.Plan, error) {
	if plan == nil {
		e.logger.Info("generating initial plan", "world", cfg.World, "genre", cfg.Genre)
		generated, err := e.generate(ctx, cfg)
		if err != nil {
			e.logger.Error("plan generation failed", "error", err)
			return nil, fmt.Errorf("planengine: generate: %w", err)
		}
		plan = generated
	}

	if needsExpansion(plan) {
		if err := e.expand(ctx, cfg, plan); err != nil {
			e.logger.Error("substep expansion failed", "error", err)
			return plan, fmt.Errorf("planengine: expand: %w", err)
		}
	}

	if err := e.introInsert(ctx, cfg, plan); err != nil {
		e.logger.Error("intro insertion failed", "error", err)
		return plan, fmt.Errorf("planengine: intro insert: %w", err)
	}

	e.logger.Info("plan ready", "points", len(plan.Points), "curPoint", plan.CurPoint, "curSub", plan.CurSub)
	return plan, nil
}

func (e *Engine) generate(ctx context.Context, cfg storymodel.Config) (*storymodel.Plan, error) {
	messages := promptbuilder.BuildPlannerPrompt(cfg)
	raw, err := e.chatter.Chat(ctx, messages, llm.Options{ResponseFormat: "json_object", Tag: "plan.generate"})
	if err != nil {
		return nil, err
	}
	resp, err := promptbuilder.ParseStrict[promptbuilder.PlannerResponse](raw)
	if err != nil {
		return nil, err
	}
	resp, err = promptbuilder.ValidatePlannerResponse(resp)
	if err != nil {
		return nil, err
	}
	return resp.ToPlan(), nil
}

func needsExpansion(plan *storymodel.Plan) bool {
	for _, p := range plan.Points {
		if len(p.Substeps) == 0 {
			return true
		}
	}
	return false
}

func (e *Engine) expand(ctx context.Context, cfg storymodel.Config, plan *storymodel.Plan) error {
	messages := promptbuilder.BuildSubstepExpansionPrompt(cfg, plan.Points)
	raw, err := e.chatter.Chat(ctx, messages, llm.Options{ResponseFormat: "json_object", Tag: "plan.expand"})
	if err != nil {
		return err
	}
	resp, err := promptbuilder.ParseStrict[promptbuilder.SubstepBatchResponse](raw)
	if err != nil {
		return err
	}
	for i, substeps := range resp.ByIndex() {
		if i >= 0 && i < len(plan.Points) && len(plan.Points[i].Substeps) == 0 && len(substeps) > 0 {
			plan.Points[i].Substeps = substeps
		}
	}
	return nil
}

// introInsert runs the connective-intro pass. It always runs (it never
// empties a point's substeps), giving the model a chance to weave in
// transitional material for points that already have substeps from a
// prior generation but could use a smoother lead-in.
func (e *Engine) introInsert(ctx context.Context, cfg storymodel.Config, plan *storymodel.Plan) error {
	messages := promptbuilder.BuildIntroInsertPrompt(cfg, plan.Points)
	raw, err := e.chatter.Chat(ctx, messages, llm.Options{ResponseFormat: "json_object", Tag: "plan.intro_insert"})
	if err != nil {
		return err
	}
	resp, err := promptbuilder.ParseStrict[promptbuilder.SubstepBatchResponse](raw)
	if err != nil {
		return err
	}
	promptbuilder.ApplySubstepBatch(plan.Points, resp)
	return nil
}

// AdaptPlanAfterChoice replaces plan with a revised one that accounts for
// the reader's choice at pageIndex (spec.md §4.3 "adapt"). On any failure
// — transport, schema, or validation — the caller's prior plan must be
// kept; this function never mutates plan in place, and never returns a
// partial plan on error.
func (e *Engine) AdaptPlanAfterChoice(ctx context.Context, plan *storymodel.Plan, pageIndex int, choice string, committedPage storymodel.Page) (*storymodel.Plan, error) {
	messages := promptbuilder.BuildAdaptPrompt(plan, pageIndex, choice, committedPage)
	raw, err := e.chatter.Chat(ctx, messages, llm.Options{ResponseFormat: "json_object", Tag: "plan.adapt"})
	if err != nil {
		return nil, fmt.Errorf("planengine: adapt chat: %w", err)
	}
	resp, err := promptbuilder.ParseStrict[promptbuilder.AdaptResponse](raw)
	if err != nil {
		return nil, fmt.Errorf("planengine: adapt parse: %w", err)
	}
	resp, err = promptbuilder.ValidateAdaptResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("planengine: adapt validate: %w", err)
	}
	e.logger.Info("plan adapted after choice", "pageIndex", pageIndex, "choice", choice, "newCurPoint", resp.CurPoint, "newCurSub", resp.CurSub)
	return resp.ToPlan(), nil
}

// AdvanceCursor moves plan's cursor forward by one substep, never
// backward, never skipping a point (spec.md §4.2 invariant). It is a thin
// wrapper so call sites depend on planengine rather than reaching into
// storymodel directly for the one mutating plan operation.
func AdvanceCursor(plan *storymodel.Plan) {
	plan.AdvanceCursor()
}
