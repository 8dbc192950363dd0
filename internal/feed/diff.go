package feed

import "ghostchat/internal/domain"

// Op is the type of a single edit.
type Op int

const (
	OpInsert Op = iota
	OpRemove
	OpUpdate
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpRemove:
		return "remove"
	case OpUpdate:
		return "update"
	}
	return "unknown"
}

// Edit is one step of an edit script. Index is the position at which the edit
// applies to the evolving list, i.e. the script is valid when applied in
// order, front to back.
type Edit struct {
	Op      Op
	Index   int
	Message domain.Message
}

// Diff computes a minimal edit script transforming prev into next. Both inputs
// must already be in feed order (see Order); the script is then a single merge
// walk, O(len(prev)+len(next)).
//
// A message whose id survives at the same ordered position but with changed
// fields yields an Update. An id whose timestamp changed enough to move it
// re-appears as a Remove plus an Insert, which observers handle like any
// late-arriving message.
func Diff(prev, next []domain.Message) []Edit {
	var edits []Edit
	p, n := 0, 0
	for p < len(prev) && n < len(next) {
		a, b := prev[p], next[n]
		if a.ID == b.ID {
			if !a.Equal(b) {
				edits = append(edits, Edit{Op: OpUpdate, Index: n, Message: b})
			}
			p++
			n++
			continue
		}
		if Less(b, a) {
			edits = append(edits, Edit{Op: OpInsert, Index: n, Message: b})
			n++
		} else {
			edits = append(edits, Edit{Op: OpRemove, Index: n, Message: a})
			p++
		}
	}
	for ; p < len(prev); p++ {
		edits = append(edits, Edit{Op: OpRemove, Index: n, Message: prev[p]})
	}
	for ; n < len(next); n++ {
		edits = append(edits, Edit{Op: OpInsert, Index: n, Message: next[n]})
	}
	return edits
}

// Apply replays an edit script on top of prev. Used by observers that mirror
// the ordered list, and by tests to check script validity.
func Apply(prev []domain.Message, edits []Edit) []domain.Message {
	out := make([]domain.Message, len(prev))
	copy(out, prev)
	for _, e := range edits {
		switch e.Op {
		case OpInsert:
			out = append(out, domain.Message{})
			copy(out[e.Index+1:], out[e.Index:])
			out[e.Index] = e.Message
		case OpRemove:
			out = append(out[:e.Index], out[e.Index+1:]...)
		case OpUpdate:
			out[e.Index] = e.Message
		}
	}
	return out
}
