package promptbuilder

import (
	"fmt"
	"strings"

	"github.com/vampirenirmal/taletwo/internal/llm"
)

// VerifierResponse is the schema a verification call must satisfy. Any
// non-JSON answer is treated as Done: false by the caller (spec.md §4.2),
// never by this package — ParseStrict still errors on malformed JSON.
type VerifierResponse struct {
	Done bool `json:"done"`
}

// BuildVerifierPrompt assembles the messages asking whether passage
// accomplished subText, biased toward true per spec.md §4.5 ("err on the
// side of done" — the design accepts occasional false positives rather
// than stalling the plan).
func BuildVerifierPrompt(subText string, recentPassages []string, notes []string) []llm.Message {
	system := "You check whether a story beat has been accomplished. Err " +
		"on the side of saying it is done: if the passage plausibly " +
		"covers the beat even partially or implicitly, answer true. Only " +
		"answer false if the beat is clearly and entirely absent. " +
		`Respond as JSON: {"done": boolean}.`

	var user strings.Builder
	fmt.Fprintf(&user, "Story beat to check: %q\n\n", subText)
	if len(notes) > 0 {
		fmt.Fprintf(&user, "Memory notes:\n- %s\n\n", strings.Join(notes, "\n- "))
	}
	user.WriteString("Recent pages:\n\n")
	for _, p := range recentPassages {
		fmt.Fprintf(&user, "%s\n\n", p)
	}
	user.WriteString(jsonReminder)

	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user.String()},
	}
}
