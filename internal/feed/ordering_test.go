package feed

import (
	"math/rand"
	"testing"

	"ghostchat/internal/domain"
)

func msg(id string, ts int64, text string) domain.Message {
	return domain.Message{ID: id, Text: text, Timestamp: ts, SenderID: "dev"}
}

func TestOrderTieBreakByID(t *testing.T) {
	in := []domain.Message{msg("b", 100, "yo"), msg("a", 100, "hi")}
	got := Order(in)
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("tie on timestamp must break by id: got [%s %s]", got[0].ID, got[1].ID)
	}
}

func TestOrderStrictTotalOrder(t *testing.T) {
	msgs := []domain.Message{
		msg("a", 100, ""), msg("b", 100, ""), msg("c", 50, ""), msg("d", 200, ""),
	}
	for _, a := range msgs {
		for _, b := range msgs {
			if a.ID == b.ID {
				if Less(a, b) || Less(b, a) {
					t.Fatalf("message must not order before itself: %s", a.ID)
				}
				continue
			}
			if Less(a, b) == Less(b, a) {
				t.Fatalf("exactly one of a<b, b<a must hold for %s/%s", a.ID, b.ID)
			}
		}
	}
}

func TestOrderDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	base := []domain.Message{
		msg("m1", 10, ""), msg("m2", 10, ""), msg("m3", 5, ""),
		msg("m4", 99, ""), msg("m5", 10, ""), msg("m6", 5, ""),
	}
	want := Order(base)
	for i := 0; i < 20; i++ {
		shuffled := make([]domain.Message, len(base))
		copy(shuffled, base)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		got := Order(shuffled)
		for j := range want {
			if got[j].ID != want[j].ID {
				t.Fatalf("iteration %d: position %d got %s want %s", i, j, got[j].ID, want[j].ID)
			}
		}
	}
}

func TestOrderDoesNotMutateInput(t *testing.T) {
	in := []domain.Message{msg("z", 200, ""), msg("a", 100, "")}
	Order(in)
	if in[0].ID != "z" {
		t.Fatalf("Order mutated its input")
	}
}
