package promptbuilder

import (
	"fmt"
	"strings"

	"github.com/vampirenirmal/taletwo/internal/llm"
	"github.com/vampirenirmal/taletwo/internal/storymodel"
)

// SubstepBatchItem is one point's expanded (or inserted) substeps.
type SubstepBatchItem struct {
	Index    int      `json:"index"`
	Substeps []string `json:"substeps"`
}

// SubstepBatchResponse is the schema shared by substep expansion and
// intro-insertion (spec.md §4.2 — "same shape as substep batch").
type SubstepBatchResponse struct {
	Items []SubstepBatchItem `json:"items"`
}

// ByIndex indexes the response items for O(1) lookup during application.
func (r SubstepBatchResponse) ByIndex() map[int][]string {
	out := make(map[int][]string, len(r.Items))
	for _, item := range r.Items {
		out[item.Index] = item.Substeps
	}
	return out
}

// BuildSubstepExpansionPrompt assembles the messages that ask the model
// to expand every point into 3-6 dramatizable sub-steps in one call
// (spec.md §4.3 step 2).
func BuildSubstepExpansionPrompt(cfg storymodel.Config, points []storymodel.Point) []llm.Message {
	system := "You are a story architect. For each numbered plot point " +
		"below, break it into 3 to 6 concrete sub-steps: concrete " +
		"in-scene beats a page of prose could dramatize one at a time. " +
		`Respond as JSON: {"items": [{"index": integer, "substeps": [string]}]}, ` +
		"one entry per point index, in the order given."

	var b strings.Builder
	for i, p := range points {
		fmt.Fprintf(&b, "%d. %s — %s\n", i, p.Title, p.Brief)
	}
	user := b.String() + "\n" + jsonReminder

	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

// BuildIntroInsertPrompt assembles the messages for the non-destructive
// intro-insertion pass (spec.md §4.3 step 3): the model is asked to
// prepend minimal introduction sub-steps before the first point that
// relies on a character/item/concept that might be unclear.
func BuildIntroInsertPrompt(cfg storymodel.Config, points []storymodel.Point) []llm.Message {
	system := "You are a story architect doing a continuity pass. For " +
		"each plot point below, check whether its sub-steps rely on a " +
		"character, item, or concept that a reader has not yet been " +
		"shown. If so, return that point's COMPLETE revised sub-step " +
		"list with minimal introduction sub-steps inserted before the " +
		"reliance. If a point needs no change, omit it from the " +
		"response entirely — do not return an empty substeps array for " +
		"it. Aim to keep each point at 7 or fewer sub-steps. " +
		`Respond as JSON: {"items": [{"index": integer, "substeps": [string]}]}.`

	var b strings.Builder
	for i, p := range points {
		fmt.Fprintf(&b, "%d. %s\n", i, p.Title)
		for j, s := range p.Substeps {
			fmt.Fprintf(&b, "   %d.%d %s\n", i, j, s)
		}
	}
	user := b.String() + "\n" + jsonReminder

	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

// ApplySubstepBatch attaches substeps to points in place. A point's
// substep list is only replaced when the response has a non-empty list
// for that index — this is what makes intro-insertion non-destructive
// (spec.md §4.3 — "never emptied"). Expansion does not use it: it fills
// only points that have no substeps yet (planengine).
func ApplySubstepBatch(points []storymodel.Point, resp SubstepBatchResponse) {
	byIndex := resp.ByIndex()
	for i := range points {
		if substeps, ok := byIndex[i]; ok && len(substeps) > 0 {
			points[i].Substeps = substeps
		}
	}
}
