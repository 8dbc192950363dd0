// Package feed maintains the live, ordered view of a conversation: it owns the
// store subscription, derives a deterministic total order over each delivered
// snapshot, and emits minimal edit scripts instead of raw lists so observers
// can render incrementally.
package feed

import (
	"sort"

	"ghostchat/internal/domain"
)

// Less is the strict total order over messages: timestamp ascending, then id
// ascending. Client timestamps collide across devices, so the opaque id is the
// final tie-breaker; the order is therefore deterministic for any input set.
func Less(a, b domain.Message) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.ID < b.ID
}

// Order returns a sorted copy of the snapshot. The input is never mutated;
// re-ordering the same set twice always yields the same sequence.
func Order(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	sort.Slice(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}
