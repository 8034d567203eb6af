package storymodel

import (
	"strconv"
	"strings"
)

// NextBranch is the special branch name for the linear "advance without a
// choice" continuation.
const NextBranch = "__next__"

// BranchKey identifies a speculative continuation: "${index}:__next__" or
// "${index}:${optionId}". index is the page the continuation starts
// from; a key at index i produces page i+1.
type BranchKey string

// NewBranchKey builds the key for the given starting index and branch
// (either storymodel.NextBranch or an OptionID's string form).
func NewBranchKey(index int, branch string) BranchKey {
	return BranchKey(strconv.Itoa(index) + ":" + branch)
}

// OptionBranchKey builds the key for a specific option at index.
func OptionBranchKey(index int, id OptionID) BranchKey {
	return NewBranchKey(index, string(id))
}

// Parts splits the key back into its starting index and branch name. ok
// is false if the key is malformed.
func (k BranchKey) Parts() (index int, branch string, ok bool) {
	s := string(k)
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return 0, "", false
	}
	idx, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, "", false
	}
	return idx, s[i+1:], true
}

// Index is a convenience accessor over Parts for prune/readiness logic
// that only cares about the starting index.
func (k BranchKey) Index() (int, bool) {
	idx, _, ok := k.Parts()
	return idx, ok
}

// IsNext reports whether this key is the linear __next__ branch.
func (k BranchKey) IsNext() bool {
	_, branch, ok := k.Parts()
	return ok && branch == NextBranch
}
