// Package verifier implements the deferred verification step named in
// spec.md §4.5: after a page is committed, the engine asks the model
// whether the substep it targeted was actually dramatized before the plan
// cursor is allowed to advance. Verification runs a page behind the
// reader (spec.md §4.2 "never verify the page the reader is currently on"
// — the check for page N happens when page N+1 is committed), so a wrong
// verdict only ever costs a cursor step, never blocks the reader.
//
// Grounded on the orchestrator's critique phase
// (internal/phase/fiction/critic.go): a single-purpose model call whose
// only job is to judge work already produced, logged at each stage.
package verifier

import (
	"context"
	"log/slog"

	"github.com/vampirenirmal/taletwo/internal/promptbuilder"
	"github.com/vampirenirmal/taletwo/internal/storymodel"

	"github.com/vampirenirmal/taletwo/internal/llm"
)

// Verifier checks PendingVerify entries against an injected Chatter.
type Verifier struct {
	chatter llm.Chatter
	logger  *slog.Logger
}

// New builds a Verifier. logger may be nil.
func New(chatter llm.Chatter, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{chatter: chatter, logger: logger}
}

// VerifyPendingBeforeNext checks whether pending's tagged sub-step was
// dramatized in the passages leading up to and including the page it was
// generated for. On any transport or schema failure it errs toward "not
// yet done" (spec.md §4.5 — a verification failure must never silently
// advance the cursor), returning false alongside the error so the caller
// can decide whether to retry the check or just leave the cursor in place
// this turn.
func (v *Verifier) VerifyPendingBeforeNext(ctx context.Context, pending *storymodel.PendingVerify, recentPassages []string, notes []string) (bool, error) {
	if pending == nil {
		return false, nil
	}

	messages := promptbuilder.BuildVerifierPrompt(pending.SubText, recentPassages, notes)
	raw, err := v.chatter.Chat(ctx, messages, llm.Options{ResponseFormat: "json_object", Tag: "verify.substep"})
	if err != nil {
		v.logger.Warn("verification call failed, treating as not done", "error", err, "subText", pending.SubText)
		return false, err
	}

	resp, err := promptbuilder.ParseStrict[promptbuilder.VerifierResponse](raw)
	if err != nil {
		v.logger.Warn("verification response malformed, treating as not done", "error", err)
		return false, err
	}

	v.logger.Info("substep verification result", "done", resp.Done, "pointIndex", pending.PointIndex, "subIndex", pending.SubIndex)
	return resp.Done, nil
}
