package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"ghostchat/internal/domain"
)

// Event is one delivery to feed observers: either a non-empty edit script or a
// terminal error. Events arrive in the order the store delivered the
// underlying snapshots; after an Event with Err set the channel is closed.
type Event struct {
	Edits []Edit
	Err   error
}

// Engine owns the live view of one conversation. Snapshots are processed to
// completion one at a time on a single goroutine; the previously emitted
// sequence is owned exclusively by that goroutine, so diffing never races a
// new delivery.
type Engine struct {
	store  domain.Store
	chatID string
	logger *slog.Logger

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.RWMutex
	current []domain.Message
	byID    map[string]domain.Message
	closed  bool
}

// Config wires an Engine.
type Config struct {
	Store  domain.Store
	ChatID string
	Logger *slog.Logger
}

// Open starts the long-lived subscription and returns the engine. A store
// that cannot be reached does not fail Open synchronously: the error arrives
// as a terminal Event on Events, matching how observers learn about every
// other feed failure.
func Open(ctx context.Context, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	subCtx, cancel := context.WithCancel(ctx)
	e := &Engine{
		store:  cfg.Store,
		chatID: cfg.ChatID,
		logger: cfg.Logger,
		events: make(chan Event, 16),
		cancel: cancel,
		done:   make(chan struct{}),
		byID:   make(map[string]domain.Message),
	}
	go e.run(subCtx)
	return e
}

// Events is the observer stream. Closed after Close or a terminal error.
func (e *Engine) Events() <-chan Event {
	return e.events
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	defer close(e.events)

	snapshots, err := e.store.Subscribe(ctx, e.chatID)
	if err != nil {
		e.logger.Error("feed subscription failed", "chat", e.chatID, "err", err)
		e.emit(ctx, Event{Err: fmt.Errorf("%w: %v", domain.ErrSubscription, err)})
		return
	}
	e.logger.Info("feed open", "chat", e.chatID)

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if snap.Err != nil {
				e.logger.Error("feed terminated", "chat", e.chatID, "err", snap.Err)
				e.emit(ctx, Event{Err: fmt.Errorf("%w: %v", domain.ErrSubscription, snap.Err)})
				return
			}
			e.apply(ctx, snap.Messages)
		}
	}
}

// apply re-derives the ordered sequence from a full snapshot and emits the
// positional diff against the previous one. An empty snapshot is a valid
// first load, not an error.
func (e *Engine) apply(ctx context.Context, msgs []domain.Message) {
	ordered := Order(msgs)

	e.mu.RLock()
	prev := e.current
	e.mu.RUnlock()

	edits := Diff(prev, ordered)
	if len(edits) == 0 {
		return
	}

	byID := make(map[string]domain.Message, len(ordered))
	for _, m := range ordered {
		byID[m.ID] = m
	}
	e.mu.Lock()
	e.current = ordered
	e.byID = byID
	e.mu.Unlock()

	e.logger.Debug("snapshot applied",
		"chat", e.chatID,
		"messages", len(ordered),
		"edits", len(edits),
	)
	e.emit(ctx, Event{Edits: edits})
}

func (e *Engine) emit(ctx context.Context, ev Event) {
	select {
	case e.events <- ev:
	case <-ctx.Done():
	}
}

// Send validates and persists one outgoing message. There is no optimistic
// local insert: the authoritative update arrives with the next snapshot, so
// completion here may race the corresponding edit event.
func (e *Engine) Send(ctx context.Context, msg domain.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	id, err := e.store.Append(ctx, e.chatID, msg)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSendFailed, err)
	}
	e.logger.Debug("message appended", "chat", e.chatID, "id", id, "kind", msg.Kind())
	return nil
}

// Messages returns a copy of the current ordered sequence.
func (e *Engine) Messages() []domain.Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Message, len(e.current))
	copy(out, e.current)
	return out
}

// MessageByID looks up a message in the current view.
func (e *Engine) MessageByID(id string) (domain.Message, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.byID[id]
	return m, ok
}

// Close cancels the subscription and waits for the feed goroutine to drain.
// Safe to call multiple times; no events are emitted afterward.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	<-e.done
}
