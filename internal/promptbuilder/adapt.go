package promptbuilder

import (
	"fmt"
	"strings"

	"github.com/vampirenirmal/taletwo/internal/errs"
	"github.com/vampirenirmal/taletwo/internal/storymodel"

	"github.com/vampirenirmal/taletwo/internal/llm"
)

// AdaptPoint mirrors storymodel.Point in the adaptation response schema.
type AdaptPoint struct {
	Title    string   `json:"title"`
	Brief    string   `json:"brief"`
	Substeps []string `json:"substeps"`
}

// AdaptResponse is the schema a plan-adaptation call must satisfy
// (spec.md §4.2 — full plan replacement with continuity preservation).
type AdaptResponse struct {
	OverallIdea string       `json:"overallIdea"`
	Conflict    string       `json:"conflict"`
	Points      []AdaptPoint `json:"points"`
	CurPoint    int          `json:"curPoint"`
	CurSub      int          `json:"curSub"`
}

// BuildAdaptPrompt assembles the messages for adaptPlanAfterChoice
// (spec.md §4.3): the model is given the committed page, the reader's
// choice, and the current plan, and is asked for a full revised plan
// that stays consistent with what the reader actually chose.
func BuildAdaptPrompt(plan *storymodel.Plan, pageIndex int, choice string, committedPage storymodel.Page) []llm.Message {
	system := "You are a story architect revising the plan after a " +
		"reader's choice took the story in a new direction. Produce a " +
		"complete, revised plan: overall idea, conflict, 6 to 9 points " +
		"each with its own sub-steps, and where the plan cursor " +
		"(curPoint, curSub) now sits given what has already happened. " +
		"Preserve continuity with everything already written; do not " +
		"contradict committed events. " +
		`Respond as JSON: {"overallIdea": string, "conflict": string, ` +
		`"points": [{"title": string, "brief": string, "substeps": [string]}], ` +
		`"curPoint": integer, "curSub": integer}.`

	var user strings.Builder
	fmt.Fprintf(&user, "Current plan idea: %s\nCurrent conflict: %s\n\n", plan.OverallIdea, plan.Conflict)
	user.WriteString("Current points:\n")
	for i, p := range plan.Points {
		fmt.Fprintf(&user, "%d. %s — %s\n", i, p.Title, p.Brief)
	}
	fmt.Fprintf(&user, "\nCommitted page %d:\n%s\n\n", pageIndex+1, committedPage.Passage)
	fmt.Fprintf(&user, "The reader chose: %s\n\n", choice)
	user.WriteString(jsonReminder)

	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user.String()},
	}
}

// ValidateAdaptResponse enforces the ≥3-points and well-formed-cursor
// rules; on failure the caller retains the prior plan (spec.md §4.3).
func ValidateAdaptResponse(resp AdaptResponse) (AdaptResponse, error) {
	if len(resp.Points) < 3 {
		return resp, fmt.Errorf("%w: adapted plan has %d points, need at least 3", errs.ErrSchema, len(resp.Points))
	}
	if resp.CurPoint < 0 || resp.CurPoint > len(resp.Points) {
		return resp, fmt.Errorf("%w: curPoint %d out of range for %d points", errs.ErrSchema, resp.CurPoint, len(resp.Points))
	}
	if resp.CurPoint < len(resp.Points) {
		substeps := resp.Points[resp.CurPoint].Substeps
		if resp.CurSub < 0 || (len(substeps) > 0 && resp.CurSub >= len(substeps)) {
			return resp, fmt.Errorf("%w: curSub %d out of range for point %d", errs.ErrSchema, resp.CurSub, resp.CurPoint)
		}
	}
	return resp, nil
}

// ToPlan converts a validated AdaptResponse into a replacement Plan.
func (r AdaptResponse) ToPlan() *storymodel.Plan {
	points := make([]storymodel.Point, len(r.Points))
	for i, p := range r.Points {
		points[i] = storymodel.Point{Title: p.Title, Brief: p.Brief, Substeps: p.Substeps}
	}
	return &storymodel.Plan{
		OverallIdea: r.OverallIdea,
		Conflict:    r.Conflict,
		Points:      points,
		CurPoint:    r.CurPoint,
		CurSub:      r.CurSub,
	}
}
