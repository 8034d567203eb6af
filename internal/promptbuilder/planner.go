package promptbuilder

import (
	"fmt"

	"github.com/vampirenirmal/taletwo/internal/errs"
	"github.com/vampirenirmal/taletwo/internal/llm"
	"github.com/vampirenirmal/taletwo/internal/storymodel"
)

// PlannerPoint is one point of the planner's raw output, before substeps
// have been expanded.
type PlannerPoint struct {
	Title string `json:"title"`
	Brief string `json:"brief"`
}

// PlannerResponse is the schema the planner call must satisfy.
type PlannerResponse struct {
	OverallIdea string         `json:"overallIdea"`
	Conflict    string         `json:"conflict"`
	Points      []PlannerPoint `json:"points"`
}

// BuildPlannerPrompt assembles the messages for the initial plan
// generation call (spec.md §4.3 step 1).
func BuildPlannerPrompt(cfg storymodel.Config) []llm.Message {
	system := "You are a story architect. Given a loose brief, invent an " +
		"overall idea, a central conflict, and 6 to 9 major plot points " +
		"that carry a reader from opening to resolution. Points should " +
		"escalate in stakes. Respond as JSON: " +
		`{"overallIdea": string, "conflict": string, "points": [{"title": string, "brief": string}]}.`

	user := fmt.Sprintf(
		"Source inspirations: %q and %q\nWorld: %s\nMain character: %s\nGenre: %s\n\n%s",
		cfg.SourceTitleA, cfg.SourceTitleB, cfg.World, cfg.MainCharacter, cfg.Genre, jsonReminder,
	)

	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

// ValidatePlannerResponse enforces the ≥3-points-after-filtering rule
// from spec.md §4.2 and drops points with an empty title.
func ValidatePlannerResponse(resp PlannerResponse) (PlannerResponse, error) {
	filtered := resp.Points[:0]
	for _, p := range resp.Points {
		if p.Title == "" {
			continue
		}
		filtered = append(filtered, p)
	}
	resp.Points = filtered

	if len(resp.Points) < 3 {
		return resp, fmt.Errorf("%w: planner returned %d usable points, need at least 3", errs.ErrSchema, len(resp.Points))
	}
	return resp, nil
}

// ToPlan converts a validated PlannerResponse into a fresh Plan with an
// empty substep list per point, cursor at the start.
func (r PlannerResponse) ToPlan() *storymodel.Plan {
	points := make([]storymodel.Point, len(r.Points))
	for i, p := range r.Points {
		points[i] = storymodel.Point{Title: p.Title, Brief: p.Brief}
	}
	return &storymodel.Plan{
		OverallIdea: r.OverallIdea,
		Conflict:    r.Conflict,
		Points:      points,
	}
}
