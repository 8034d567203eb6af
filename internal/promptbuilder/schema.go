// Package promptbuilder assembles the system+user messages for every LLM
// call the engine makes, and validates the model's JSON response against
// the schema that call expects. Every function here is pure: no I/O, no
// global state, deterministic given its inputs (spec.md §4.2).
package promptbuilder

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vampirenirmal/taletwo/internal/errs"
)

// cleanJSON strips markdown code fences and trims to the outermost JSON
// object, mirroring pkg/orc/utils/json.go's CleanJSONResponse: models
// reliably wrap "strict JSON" replies in ```json fences despite being
// told not to.
func cleanJSON(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		response = response[start : end+1]
	}
	return strings.TrimSpace(response)
}

// ParseStrict decodes response into a value of type T after stripping
// markdown fencing, returning errs.ErrNonJSON if it still doesn't parse.
// Unlike pkg/orc/utils/json.go's MustParseJSON, this never silently falls
// back to a zero value — spec.md §9 asks for tagged variants per prompt,
// not silent coercion.
func ParseStrict[T any](response string) (T, error) {
	var out T
	cleaned := cleanJSON(response)
	if cleaned == "" {
		return out, fmt.Errorf("%w: empty response", errs.ErrNonJSON)
	}
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return out, fmt.Errorf("%w: %v", errs.ErrNonJSON, err)
	}
	return out, nil
}

const jsonReminder = "Return strictly JSON matching the schema above. No markdown, no commentary, no code fences."
