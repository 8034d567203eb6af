package promptbuilder

import (
	"fmt"
	"strings"

	"github.com/vampirenirmal/taletwo/internal/llm"
	"github.com/vampirenirmal/taletwo/internal/storymodel"
)

// Focus is the per-turn generation focus (spec.md §4.4).
type Focus string

const (
	FocusSubstep   Focus = "substep"
	FocusWorld     Focus = "world"
	FocusCharacter Focus = "character"
)

// PageContext bundles everything BuildPageGenerationPrompt needs beyond
// the focus itself: prior summary/notes/passages, an optional player
// choice, and whether options may be offered.
type PageContext struct {
	Config        storymodel.Config
	PriorSummary  string
	Notes         []string
	RecentPages   []string // up to 3 preceding passages, oldest first
	NextChoice    string
	AllowOptions  bool
	SubstepText   string // set when Focus == FocusSubstep
	BuildupPoint  *storymodel.Point // set during a transition window
}

// PageResponse is the schema a page-generation call must satisfy.
type PageResponse struct {
	Passage string   `json:"passage"`
	Summary string   `json:"summary"`
	Notes   []string `json:"notes"`
	Options []string `json:"options,omitempty"`
}

// BuildPageGenerationPrompt assembles the messages for one page
// generation call (spec.md §4.4 "Prompt composition").
func BuildPageGenerationPrompt(focus Focus, ctx PageContext) []llm.Message {
	var sys strings.Builder
	sys.WriteString("You are a novelist writing one page of an interactive " +
		"story, 6 to 8 short paragraphs. Maintain lean prose, strict " +
		"point-of-view integrity, believable dialogue dynamics, and " +
		"restrained use of figurative language. ")

	switch focus {
	case FocusSubstep:
		sys.WriteString(fmt.Sprintf("This page must dramatize the following "+
			"story beat, in-scene, without stating it as a plan: %q. ", ctx.SubstepText))
		if ctx.BuildupPoint != nil {
			sys.WriteString(fmt.Sprintf("Also lay quiet groundwork for what "+
				"comes next: %s. Do not reveal or foreshadow this as planning "+
				"— it must read as organic scene detail. ", ctx.BuildupPoint.Brief))
		}
	case FocusWorld:
		sys.WriteString("Focus this page on deepening the reader's sense of " +
			"the world: setting, atmosphere, stakes, or lore, through scene " +
			"and action rather than exposition. ")
	case FocusCharacter:
		sys.WriteString("Focus this page on character: interiority, " +
			"relationship dynamics, or a character choice that reveals who " +
			"they are. ")
	}

	if ctx.AllowOptions {
		sys.WriteString("You MAY include exactly three short string options " +
			"for what the reader does next, each a distinct and meaningfully " +
			"different action. ")
	} else {
		sys.WriteString("Do NOT include an options field in your response. ")
	}

	sys.WriteString(`Respond as JSON: {"passage": string, "summary": string, "notes": [string]`)
	if ctx.AllowOptions {
		sys.WriteString(`, "options": [string, string, string]`)
	}
	sys.WriteString("}. summary is a one-line recap of this page. notes is " +
		"at most two short factual bullets worth remembering later.")

	var user strings.Builder
	if ctx.PriorSummary != "" {
		fmt.Fprintf(&user, "Story so far: %s\n\n", ctx.PriorSummary)
	}
	if len(ctx.Notes) > 0 {
		fmt.Fprintf(&user, "Memory notes:\n- %s\n\n", strings.Join(ctx.Notes, "\n- "))
	}
	for _, p := range ctx.RecentPages {
		fmt.Fprintf(&user, "%s\n\n", p)
	}
	if ctx.NextChoice != "" {
		fmt.Fprintf(&user, "The reader chose: %s\n\n", ctx.NextChoice)
	}
	user.WriteString(jsonReminder)

	return []llm.Message{
		{Role: "system", Content: sys.String()},
		{Role: "user", Content: user.String()},
	}
}
