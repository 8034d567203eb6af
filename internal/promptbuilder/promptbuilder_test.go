package promptbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/taletwo/internal/storymodel"
)

func TestParseStrict_StripsMarkdownFences(t *testing.T) {
	raw := "```json\n{\"done\": true}\n```"
	resp, err := ParseStrict[VerifierResponse](raw)
	require.NoError(t, err)
	assert.True(t, resp.Done)
}

func TestParseStrict_RejectsGarbage(t *testing.T) {
	_, err := ParseStrict[VerifierResponse]("not json at all")
	assert.Error(t, err)
}

func TestParseStrict_RejectsEmpty(t *testing.T) {
	_, err := ParseStrict[VerifierResponse]("")
	assert.Error(t, err)
}

func TestValidatePlannerResponse_FiltersEmptyTitles(t *testing.T) {
	resp := PlannerResponse{
		OverallIdea: "idea",
		Conflict:    "conflict",
		Points: []PlannerPoint{
			{Title: "", Brief: "skip me"},
			{Title: "A", Brief: "b1"},
			{Title: "B", Brief: "b2"},
			{Title: "C", Brief: "b3"},
		},
	}
	out, err := ValidatePlannerResponse(resp)
	require.NoError(t, err)
	assert.Len(t, out.Points, 3)
}

func TestValidatePlannerResponse_RejectsTooFew(t *testing.T) {
	resp := PlannerResponse{Points: []PlannerPoint{{Title: "A"}, {Title: "B"}}}
	_, err := ValidatePlannerResponse(resp)
	assert.Error(t, err)
}

func TestApplySubstepBatch_NonDestructive(t *testing.T) {
	points := []storymodel.Point{
		{Title: "p0", Substeps: []string{"existing"}},
		{Title: "p1"},
	}
	resp := SubstepBatchResponse{Items: []SubstepBatchItem{
		{Index: 0, Substeps: nil}, // empty -> must not clobber existing
		{Index: 1, Substeps: []string{"new"}},
	}}
	ApplySubstepBatch(points, resp)
	assert.Equal(t, []string{"existing"}, points[0].Substeps)
	assert.Equal(t, []string{"new"}, points[1].Substeps)
}

func TestValidateAdaptResponse_RejectsOutOfRangeCursor(t *testing.T) {
	resp := AdaptResponse{
		Points:   []AdaptPoint{{Title: "a", Substeps: []string{"x"}}, {Title: "b"}, {Title: "c"}},
		CurPoint: 0,
		CurSub:   5,
	}
	_, err := ValidateAdaptResponse(resp)
	assert.Error(t, err)
}

func TestValidateAdaptResponse_AcceptsCursorAtPlanEnd(t *testing.T) {
	resp := AdaptResponse{
		Points:   []AdaptPoint{{Title: "a"}, {Title: "b"}, {Title: "c"}},
		CurPoint: 3,
		CurSub:   0,
	}
	_, err := ValidateAdaptResponse(resp)
	assert.NoError(t, err)
}

func TestBuildPageGenerationPrompt_OmitsOptionsDirectiveWhenDisallowed(t *testing.T) {
	msgs := BuildPageGenerationPrompt(FocusWorld, PageContext{AllowOptions: false})
	assert.Contains(t, msgs[0].Content, "Do NOT include an options field")
}

func TestBuildPageGenerationPrompt_SubstepFocusIncludesBuildup(t *testing.T) {
	next := &storymodel.Point{Brief: "the ambush begins"}
	msgs := BuildPageGenerationPrompt(FocusSubstep, PageContext{SubstepText: "reach the gate", BuildupPoint: next})
	assert.Contains(t, msgs[0].Content, "reach the gate")
	assert.Contains(t, msgs[0].Content, "the ambush begins")
}
