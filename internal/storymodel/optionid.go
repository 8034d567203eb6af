package storymodel

import (
	"fmt"
	"hash/fnv"
)

// OptionID is a stable short identifier of the form "${baseIndex}-${hex}",
// where hex is a deterministic 32-bit hash of the option text seeded by
// baseIndex. Option IDs are emitted once at page-commit time by
// MakeOptionID and never recomputed.
type OptionID string

// MakeOptionID is a pure function: for a fixed (baseIndex, text) it always
// returns the same ID, and two pages at the same index with identical
// option text in identical order produce identical ID lists (spec.md §8,
// invariant 5). The seed folds baseIndex into the hash so that the same
// option text at two different page indices never collides.
func MakeOptionID(baseIndex int, text string) OptionID {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d\x00%s", baseIndex, text)
	return OptionID(fmt.Sprintf("%d-%08x", baseIndex, h.Sum32()))
}

// MakeOptionIDs applies MakeOptionID to each option in order.
func MakeOptionIDs(baseIndex int, options []string) []OptionID {
	ids := make([]OptionID, len(options))
	for i, opt := range options {
		ids[i] = MakeOptionID(baseIndex, opt)
	}
	return ids
}
