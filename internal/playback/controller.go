// Package playback drives voice-message playback as an explicit state machine.
// The hard invariant: at most one audible session at any time. The temp file
// backing a session is acquired on entering Preparing and released exactly
// once on every path back to Idle, including decode failures and supersession.
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"ghostchat/internal/codec"
	"ghostchat/internal/domain"
)

// emitTimeout bounds how long a stalled observer can hold up emission before
// a change is dropped.
const emitTimeout = 10 * time.Second

// State of the controller with respect to one message.
type State int

const (
	StateIdle State = iota
	StatePreparing
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	}
	return "unknown"
}

// Change is emitted on every transition, keyed by message id, so a renderer
// can show "Playing... / Paused / Tap to play" per item without polling. Err
// is set when the transition to Idle was caused by a failure.
type Change struct {
	MessageID string
	State     State
	Err       error
}

// session is one transient playback attempt. Never persisted; destroyed on
// completion, stop, or supersession.
type session struct {
	messageID string
	path      string
	handle    domain.PlaybackHandle
	state     State
	released  bool
}

// Controller is the single-flight playback state machine. One instance per
// chat session; it exclusively owns the current playback session.
//
// Lock order is always mu then emitMu. Every transition is emitted: emitters
// take emitMu before releasing mu, so emissions reach the stream in the order
// the state machine produced them, and a slow observer backpressures emission
// (bounded by emitTimeout) instead of losing changes.
type Controller struct {
	player  domain.Player
	tempDir string
	logger  *slog.Logger

	mu     sync.Mutex
	cur    *session
	closed bool

	emitMu  sync.Mutex
	changes chan Change
}

// Config wires a Controller.
type Config struct {
	Player  domain.Player
	TempDir string // defaults to the OS temp dir
	Logger  *slog.Logger
}

func New(cfg Config) *Controller {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		player:  cfg.Player,
		tempDir: cfg.TempDir,
		logger:  cfg.Logger,
		changes: make(chan Change, 32),
	}
}

// Changes is the transition stream. Closed by Close.
func (c *Controller) Changes() <-chan Change {
	return c.changes
}

// Toggle handles a tap on a voice message: play when idle, pause/resume when
// it is the current message, or stop the current session and start this one.
// The previous session is fully released before the new one becomes audible.
//
// Toggle does no codec or file work itself; the Preparing phase runs on a
// controller-owned goroutine and its outcome (Playing, or Idle with Err)
// arrives on Changes.
func (c *Controller) Toggle(ctx context.Context, msg domain.Message) error {
	if msg.Kind() != domain.KindVoice {
		return fmt.Errorf("%w: message %s is not a voice message", domain.ErrInvalidMessage, msg.ID)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrClosed
	}

	if c.cur != nil && c.cur.messageID == msg.ID {
		var pending []Change
		switch c.cur.state {
		case StatePlaying:
			if err := c.cur.handle.Pause(); err != nil {
				c.logger.Warn("pause failed", "message", msg.ID, "err", err)
			}
			c.cur.state = StatePaused
			pending = append(pending, Change{MessageID: msg.ID, State: StatePaused})
		case StatePaused:
			if err := c.cur.handle.Resume(); err != nil {
				c.logger.Warn("resume failed", "message", msg.ID, "err", err)
			}
			c.cur.state = StatePlaying
			pending = append(pending, Change{MessageID: msg.ID, State: StatePlaying})
		case StatePreparing:
			// Rapid second tap while the decode is in flight: ignore.
		}
		c.emitThenUnlock(pending)
		return nil
	}

	if c.player == nil {
		c.emitThenUnlock(c.stopLocked(nil))
		return fmt.Errorf("no audio player available")
	}

	// Different message (or nothing playing): tear down first, then prepare.
	pending := c.stopLocked(nil)
	sess := &session{messageID: msg.ID, state: StatePreparing}
	c.cur = sess
	pending = append(pending, Change{MessageID: msg.ID, State: StatePreparing})
	c.emitThenUnlock(pending)
	go c.prepare(ctx, sess, msg)
	return nil
}

// prepare runs the Preparing phase: decode outside the lock, then materialize
// the temp file and hand it to the player under it. A session superseded or
// stopped while decoding is abandoned without touching the current one.
func (c *Controller) prepare(ctx context.Context, sess *session, msg domain.Message) {
	data, err := codec.Decode(msg.AudioEncoded)
	if err != nil {
		c.abandon(sess, fmt.Errorf("%w: %v", domain.ErrPlaybackDecode, err))
		return
	}

	c.mu.Lock()
	if c.cur != sess {
		c.mu.Unlock()
		return
	}

	f, err := os.CreateTemp(c.tempDir, "voice-*.3gp")
	if err != nil {
		c.cur = nil
		c.emitThenUnlock([]Change{{MessageID: msg.ID, State: StateIdle,
			Err: fmt.Errorf("materialize voice message: %w", err)}})
		return
	}
	sess.path = f.Name()
	if _, err = f.Write(data); err != nil {
		f.Close()
	} else {
		err = f.Close()
	}
	if err != nil {
		c.releaseLocked(sess)
		c.cur = nil
		c.emitThenUnlock([]Change{{MessageID: msg.ID, State: StateIdle,
			Err: fmt.Errorf("materialize voice message: %w", err)}})
		return
	}

	handle, err := c.player.Play(ctx, sess.path, func() { c.onDone(sess) })
	if err != nil {
		c.releaseLocked(sess)
		c.cur = nil
		c.emitThenUnlock([]Change{{MessageID: msg.ID, State: StateIdle,
			Err: fmt.Errorf("start playback: %w", err)}})
		return
	}
	sess.handle = handle
	sess.state = StatePlaying
	c.logger.Debug("playback started", "message", msg.ID)
	c.emitThenUnlock([]Change{{MessageID: msg.ID, State: StatePlaying}})
}

// abandon drops a session that failed before acquiring any resource.
func (c *Controller) abandon(sess *session, err error) {
	c.mu.Lock()
	if c.cur != sess {
		c.mu.Unlock()
		return
	}
	c.cur = nil
	c.logger.Warn("playback preparation failed", "message", sess.messageID, "err", err)
	c.emitThenUnlock([]Change{{MessageID: sess.messageID, State: StateIdle, Err: err}})
}

// onDone fires from the player when playback ends on its own or after Stop.
// A completion for a superseded session is stale and must not touch the
// current one.
func (c *Controller) onDone(sess *session) {
	c.mu.Lock()
	if c.cur != sess {
		c.mu.Unlock()
		return
	}
	c.releaseLocked(sess)
	c.cur = nil
	c.logger.Debug("playback finished", "message", sess.messageID)
	c.emitThenUnlock([]Change{{MessageID: sess.messageID, State: StateIdle}})
}

// Stop forces the controller to Idle, releasing the temp resource before
// returning. Safe to call when already idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.emitThenUnlock(c.stopLocked(nil))
}

// stopLocked tears down the current session and returns the transitions to
// emit. Caller holds c.mu and must pass the result to emitThenUnlock.
func (c *Controller) stopLocked(err error) []Change {
	if c.cur == nil {
		return nil
	}
	sess := c.cur
	c.cur = nil
	if sess.handle != nil {
		if stopErr := sess.handle.Stop(); stopErr != nil {
			c.logger.Warn("player stop failed", "message", sess.messageID, "err", stopErr)
		}
	}
	c.releaseLocked(sess)
	return []Change{{MessageID: sess.messageID, State: StateIdle, Err: err}}
}

// releaseLocked reclaims the temp file exactly once per session.
func (c *Controller) releaseLocked(sess *session) {
	if sess.released {
		return
	}
	sess.released = true
	if sess.path == "" {
		return
	}
	if err := os.Remove(sess.path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("temp audio cleanup failed", "path", sess.path, "err", err)
	}
	sess.path = ""
}

// emitThenUnlock delivers pending transitions in state-machine order. It takes
// emitMu before releasing c.mu, so concurrent transitions cannot interleave
// their emissions, then sends without holding c.mu: a slow observer stalls
// emission, never the state machine.
func (c *Controller) emitThenUnlock(pending []Change) {
	if len(pending) == 0 {
		c.mu.Unlock()
		return
	}
	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()
	for _, ch := range pending {
		c.send(ch)
	}
}

// send requires emitMu. Blocks up to emitTimeout when the buffer is full
// instead of dropping, so an observer that catches up still sees every
// transition.
func (c *Controller) send(ch Change) {
	select {
	case c.changes <- ch:
		return
	default:
	}
	c.logger.Warn("playback observer slow, waiting", "message", ch.MessageID, "state", ch.State.String())
	timer := time.NewTimer(emitTimeout)
	defer timer.Stop()
	select {
	case c.changes <- ch:
	case <-timer.C:
		c.logger.Error("playback change dropped: observer stalled",
			"message", ch.MessageID,
			"state", ch.State.String(),
		)
	}
}

// Close stops any active session and ends the change stream. Idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.stopLocked(nil)

	c.emitMu.Lock()
	c.mu.Unlock()
	for _, ch := range pending {
		c.send(ch)
	}
	close(c.changes)
	c.emitMu.Unlock()
}
