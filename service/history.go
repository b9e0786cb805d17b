package service

const defaultHistoryLimit = 100

// History is an undo/redo history over a base entry. The base entry is
// never undone, so Undo needs at least two entries. Pushing clears the redo
// stack; the oldest entries above the base are dropped past the limit.
type History[T any] struct {
	entries []T
	redo    []T
	limit   int
}

func NewHistory[T any](base T, limit int) *History[T] {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &History[T]{entries: []T{base}, limit: limit}
}

func (h *History[T]) Push(v T) {
	h.entries = append(h.entries, v)
	clear(h.redo)
	h.redo = h.redo[:0]

	if len(h.entries)-1 > h.limit {
		var zero T
		copy(h.entries[1:], h.entries[2:])
		h.entries[len(h.entries)-1] = zero
		h.entries = h.entries[:len(h.entries)-1]
	}
}

// Top returns the newest entry above the base.
func (h *History[T]) Top() (T, bool) {
	if len(h.entries) < 2 {
		var zero T
		return zero, false
	}
	return h.entries[len(h.entries)-1], true
}

func (h *History[T]) Undo() (T, bool) {
	top, ok := h.Top()
	if !ok {
		return top, false
	}
	h.entries = h.entries[:len(h.entries)-1]
	h.redo = append(h.redo, top)
	return top, true
}

func (h *History[T]) PeekRedo() (T, bool) {
	if len(h.redo) == 0 {
		var zero T
		return zero, false
	}
	return h.redo[len(h.redo)-1], true
}

func (h *History[T]) Redo() (T, bool) {
	v, ok := h.PeekRedo()
	if !ok {
		return v, false
	}
	h.redo = h.redo[:len(h.redo)-1]
	h.entries = append(h.entries, v)
	return v, true
}

// DropRedo discards the next redo entry without applying it.
func (h *History[T]) DropRedo() {
	if len(h.redo) > 0 {
		h.redo = h.redo[:len(h.redo)-1]
	}
}

// Len counts entries including the base.
func (h *History[T]) Len() int {
	return len(h.entries)
}
