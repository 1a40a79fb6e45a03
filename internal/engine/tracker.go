package engine

import "sort"

// AnswerTracker maps question index to the selected option key and keeps the
// set of indices flagged for review. It does not validate option keys.
type AnswerTracker struct {
	answers map[int]string
	flags   map[int]struct{}
	frozen  bool
}

// NewAnswerTracker returns an empty, writable tracker.
func NewAnswerTracker() *AnswerTracker {
	return &AnswerTracker{
		answers: make(map[int]string),
		flags:   make(map[int]struct{}),
	}
}

// Select records key for index, replacing any earlier selection.
// It returns false when the tracker is frozen.
func (t *AnswerTracker) Select(index int, key string) bool {
	if t.frozen {
		return false
	}
	t.answers[index] = key
	return true
}

// ToggleReview flips the review flag of index. It returns false when frozen.
func (t *AnswerTracker) ToggleReview(index int) bool {
	if t.frozen {
		return false
	}
	if _, ok := t.flags[index]; ok {
		delete(t.flags, index)
	} else {
		t.flags[index] = struct{}{}
	}
	return true
}

// Freeze makes every later mutation a no-op.
func (t *AnswerTracker) Freeze() { t.frozen = true }

// Frozen reports whether Freeze has been called.
func (t *AnswerTracker) Frozen() bool { return t.frozen }

func (t *AnswerTracker) IsAnswered(index int) bool {
	_, ok := t.answers[index]
	return ok
}

func (t *AnswerTracker) IsFlagged(index int) bool {
	_, ok := t.flags[index]
	return ok
}

// Selected returns the option chosen for index, or "" if unanswered.
func (t *AnswerTracker) Selected(index int) string {
	return t.answers[index]
}

// Answers returns a copy of the selections.
func (t *AnswerTracker) Answers() map[int]string {
	out := make(map[int]string, len(t.answers))
	for k, v := range t.answers {
		out[k] = v
	}
	return out
}

// Flags returns the flagged indices in ascending order.
func (t *AnswerTracker) Flags() []int {
	out := make([]int, 0, len(t.flags))
	for k := range t.flags {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
