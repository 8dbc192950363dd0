package domain

import "context"

// Snapshot is one delivery from a conversation feed. The store always delivers
// the complete visible message set, never a delta. A non-nil Err is terminal
// for the subscription.
type Snapshot struct {
	Messages []Message
	Err      error
}

// Store is the shared document store backing conversations (Firestore, Redis,
// SQLite). It guarantees durability and at-least-once snapshot delivery;
// making the feed usable is the sync engine's job.
type Store interface {
	// Subscribe opens a live feed for the chat. The returned channel carries a
	// full snapshot on every underlying change (including one initial snapshot)
	// and is closed when ctx is cancelled or the subscription dies. Transport
	// hiccups are retried internally; only unrecoverable failures surface as a
	// Snapshot with Err set.
	Subscribe(ctx context.Context, chatID string) (<-chan Snapshot, error)

	// Append durably adds one message and returns the store-assigned id.
	// There is no ordering guarantee across concurrent appenders beyond the
	// message's own timestamp and id.
	Append(ctx context.Context, chatID string, msg Message) (string, error)

	// Exists reports whether the chat identifier is registered.
	Exists(ctx context.Context, chatID string) (bool, error)

	// CreateChat registers a chat identifier. Idempotent.
	CreateChat(ctx context.Context, chatID string) error

	Close() error
}
