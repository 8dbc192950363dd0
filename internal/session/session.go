// Package session is the composition root for one conversation: it binds a
// chat identifier to a sync engine and a playback controller and is the only
// surface the UI layer talks to.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"ghostchat/internal/codec"
	"ghostchat/internal/domain"
	"ghostchat/internal/feed"
	"ghostchat/internal/playback"
)

// Config wires a Session.
type Config struct {
	ChatID          string
	SenderID        string
	Store           domain.Store
	Player          domain.Player
	MaxPayloadBytes int    // 0 selects codec.DefaultMaxPayloadBytes
	TempDir         string // scratch space for decoded voice messages
	Logger          *slog.Logger
}

// Session owns one live conversation.
type Session struct {
	chatID   string
	senderID string
	maxBytes int
	logger   *slog.Logger

	engine   *feed.Engine
	playback *playback.Controller

	mu     sync.Mutex
	closed bool
}

// Open starts the live feed and returns the session. Store unreachability is
// not a synchronous failure; it surfaces as a terminal event on Observe.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.ChatID == "" {
		return nil, fmt.Errorf("chat id required")
	}
	if cfg.SenderID == "" {
		return nil, fmt.Errorf("sender id required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("chat", cfg.ChatID)

	engine := feed.Open(ctx, feed.Config{
		Store:  cfg.Store,
		ChatID: cfg.ChatID,
		Logger: logger,
	})
	ctrl := playback.New(playback.Config{
		Player:  cfg.Player,
		TempDir: cfg.TempDir,
		Logger:  logger,
	})

	return &Session{
		chatID:   cfg.ChatID,
		senderID: cfg.SenderID,
		maxBytes: cfg.MaxPayloadBytes,
		logger:   logger,
		engine:   engine,
		playback: ctrl,
	}, nil
}

// SendText appends a text message. Empty or whitespace-only text is a no-op:
// no store call, no error.
func (s *Session) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return s.engine.Send(ctx, domain.Message{
		Text:      text,
		Timestamp: domain.NowMillis(),
		SenderID:  s.senderID,
	})
}

// SendImage encodes and appends an image payload.
func (s *Session) SendImage(ctx context.Context, data []byte) error {
	if err := codec.CheckSize(data, s.maxBytes); err != nil {
		return err
	}
	return s.engine.Send(ctx, domain.Message{
		ImageEncoded: codec.Encode(data),
		Timestamp:    domain.NowMillis(),
		SenderID:     s.senderID,
	})
}

// SendVoice encodes and appends a voice payload.
func (s *Session) SendVoice(ctx context.Context, data []byte) error {
	if err := codec.CheckSize(data, s.maxBytes); err != nil {
		return err
	}
	return s.engine.Send(ctx, domain.Message{
		AudioEncoded: codec.Encode(data),
		Timestamp:    domain.NowMillis(),
		SenderID:     s.senderID,
	})
}

// Observe is the edit-event stream derived from store snapshots.
func (s *Session) Observe() <-chan feed.Event {
	return s.engine.Events()
}

// PlaybackEvents is the playback state-change stream, keyed by message id.
func (s *Session) PlaybackEvents() <-chan playback.Change {
	return s.playback.Changes()
}

// TogglePlayback handles a tap on the voice message with the given id.
func (s *Session) TogglePlayback(ctx context.Context, messageID string) error {
	msg, ok := s.engine.MessageByID(messageID)
	if !ok {
		return fmt.Errorf("message %s not in current view", messageID)
	}
	return s.playback.Toggle(ctx, msg)
}

// Messages returns a copy of the current ordered view.
func (s *Session) Messages() []domain.Message {
	return s.engine.Messages()
}

// SenderID reports the device identity used for outgoing messages.
func (s *Session) SenderID() string { return s.senderID }

// ChatID reports the conversation identifier.
func (s *Session) ChatID() string { return s.chatID }

// Close cancels the subscription and forces playback to idle, releasing any
// temp resource before returning. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.playback.Close()
	s.engine.Close()
	s.logger.Info("session closed")
}
