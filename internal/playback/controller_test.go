package playback

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"ghostchat/internal/codec"
	"ghostchat/internal/domain"
)

type fakeHandle struct {
	mu     sync.Mutex
	paused bool
	ended  bool
	done   func()
}

func (h *fakeHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = true
	return nil
}

func (h *fakeHandle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = false
	return nil
}

func (h *fakeHandle) Stop() error {
	h.end()
	return nil
}

// finish simulates natural end-of-audio.
func (h *fakeHandle) finish() { h.end() }

func (h *fakeHandle) end() {
	h.mu.Lock()
	if h.ended {
		h.mu.Unlock()
		return
	}
	h.ended = true
	h.mu.Unlock()
	go h.done()
}

type fakePlayer struct {
	mu       sync.Mutex
	handles  []*fakeHandle
	failPlay bool
}

func (p *fakePlayer) Play(ctx context.Context, path string, done func()) (domain.PlaybackHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failPlay {
		return nil, errors.New("no audio device")
	}
	h := &fakeHandle{done: done}
	p.handles = append(p.handles, h)
	return h, nil
}

func (p *fakePlayer) last() *fakeHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handles[len(p.handles)-1]
}

func voiceMsg(id string) domain.Message {
	return domain.Message{
		ID:           id,
		AudioEncoded: codec.Encode([]byte("audio-bytes-" + id)),
		Timestamp:    1,
		SenderID:     "dev",
	}
}

func newTestController(t *testing.T) (*Controller, *fakePlayer, string) {
	t.Helper()
	dir := t.TempDir()
	player := &fakePlayer{}
	c := New(Config{
		Player:  player,
		TempDir: dir,
		Logger:  slog.New(slog.DiscardHandler),
	})
	return c, player, dir
}

func next(t *testing.T, c *Controller) Change {
	t.Helper()
	select {
	case ch := <-c.Changes():
		return ch
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for change")
	}
	return Change{}
}

func drain(c *Controller) []Change {
	var out []Change
	for {
		select {
		case ch := <-c.Changes():
			out = append(out, ch)
		default:
			return out
		}
	}
}

func waitFor(t *testing.T, c *Controller, want func(Change) bool) Change {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ch := <-c.Changes():
			if want(ch) {
				return ch
			}
		case <-deadline:
			t.Fatalf("timed out waiting for change")
		}
	}
}

func tempCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	return len(entries)
}

func TestPlayEmitsPreparingThenPlaying(t *testing.T) {
	c, _, dir := newTestController(t)
	defer c.Close()

	if err := c.Toggle(context.Background(), voiceMsg("a")); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if ch := next(t, c); ch.State != StatePreparing || ch.MessageID != "a" {
		t.Fatalf("want preparing(a) first, got %+v", ch)
	}
	if ch := next(t, c); ch.State != StatePlaying || ch.MessageID != "a" {
		t.Fatalf("want playing(a) next, got %+v", ch)
	}
	if tempCount(t, dir) != 1 {
		t.Fatalf("exactly one temp file while playing, got %d", tempCount(t, dir))
	}
}

func TestPauseResumeSameMessage(t *testing.T) {
	c, player, _ := newTestController(t)
	defer c.Close()
	ctx := context.Background()
	m := voiceMsg("a")

	c.Toggle(ctx, m)
	waitFor(t, c, func(ch Change) bool { return ch.State == StatePlaying })

	c.Toggle(ctx, m)
	if ch := next(t, c); ch.State != StatePaused || ch.MessageID != "a" {
		t.Fatalf("want paused(a), got %+v", ch)
	}
	if !player.last().paused {
		t.Fatalf("handle not paused")
	}

	c.Toggle(ctx, m)
	if ch := next(t, c); ch.State != StatePlaying {
		t.Fatalf("want playing(a), got %+v", ch)
	}
	if player.last().paused {
		t.Fatalf("handle still paused after resume")
	}
}

func TestSwitchStopsPreviousBeforeStartingNext(t *testing.T) {
	c, _, dir := newTestController(t)
	defer c.Close()
	ctx := context.Background()

	c.Toggle(ctx, voiceMsg("a"))
	waitFor(t, c, func(ch Change) bool { return ch.State == StatePlaying })

	c.Toggle(ctx, voiceMsg("b"))
	// a must reach a terminal state before b becomes audible.
	if ch := next(t, c); ch.MessageID != "a" || ch.State != StateIdle {
		t.Fatalf("previous session must go idle first, got %+v", ch)
	}
	if ch := next(t, c); ch.MessageID != "b" || ch.State != StatePreparing {
		t.Fatalf("want preparing(b), got %+v", ch)
	}
	if ch := next(t, c); ch.MessageID != "b" || ch.State != StatePlaying {
		t.Fatalf("new session must end up playing, got %+v", ch)
	}
	if tempCount(t, dir) != 1 {
		t.Fatalf("previous temp file must be released on switch, have %d", tempCount(t, dir))
	}
}

func TestNaturalCompletionReleasesResource(t *testing.T) {
	c, player, dir := newTestController(t)
	defer c.Close()

	c.Toggle(context.Background(), voiceMsg("a"))
	waitFor(t, c, func(ch Change) bool { return ch.State == StatePlaying })

	player.last().finish()
	ch := waitFor(t, c, func(ch Change) bool { return ch.State == StateIdle })
	if ch.MessageID != "a" || ch.Err != nil {
		t.Fatalf("want clean idle(a), got %+v", ch)
	}
	if tempCount(t, dir) != 0 {
		t.Fatalf("temp file leaked after completion")
	}
}

func TestDecodeFailureReturnsToIdle(t *testing.T) {
	c, _, dir := newTestController(t)
	defer c.Close()

	bad := domain.Message{ID: "bad", AudioEncoded: "%%%not-encoded%%%", Timestamp: 1, SenderID: "dev"}
	if err := c.Toggle(context.Background(), bad); err != nil {
		t.Fatalf("toggle dispatches preparation, got %v", err)
	}
	if ch := next(t, c); ch.State != StatePreparing {
		t.Fatalf("want preparing(bad), got %+v", ch)
	}
	ch := next(t, c)
	if ch.State != StateIdle || !errors.Is(ch.Err, domain.ErrPlaybackDecode) {
		t.Fatalf("want idle with decode error, got %+v", ch)
	}
	if tempCount(t, dir) != 0 {
		t.Fatalf("decode failure must not leak temp files")
	}

	// The conversation keeps working: another message still plays.
	c.Toggle(context.Background(), voiceMsg("good"))
	waitFor(t, c, func(ch Change) bool {
		return ch.MessageID == "good" && ch.State == StatePlaying
	})
}

func TestPlayerStartFailureReleasesResource(t *testing.T) {
	c, player, dir := newTestController(t)
	defer c.Close()

	player.failPlay = true
	c.Toggle(context.Background(), voiceMsg("a"))
	ch := waitFor(t, c, func(ch Change) bool { return ch.State == StateIdle })
	if ch.Err == nil {
		t.Fatalf("start failure must surface on the change stream")
	}
	if tempCount(t, dir) != 0 {
		t.Fatalf("start failure must release the temp file")
	}
}

func TestToggleRejectsNonVoice(t *testing.T) {
	c, _, _ := newTestController(t)
	defer c.Close()

	text := domain.Message{ID: "t", Text: "hi", Timestamp: 1, SenderID: "dev"}
	if err := c.Toggle(context.Background(), text); !errors.Is(err, domain.ErrInvalidMessage) {
		t.Fatalf("want ErrInvalidMessage, got %v", err)
	}
}

func TestStopWhenIdleIsSafe(t *testing.T) {
	c, _, _ := newTestController(t)
	defer c.Close()
	c.Stop()
	c.Stop()
	if got := drain(c); len(got) != 0 {
		t.Fatalf("stop when idle must not emit, got %+v", got)
	}
}

func TestNeverTwoPlayingSimultaneously(t *testing.T) {
	c, _, _ := newTestController(t)
	defer c.Close()
	ctx := context.Background()

	playing := make(map[string]bool)
	check := func() {
		for _, ch := range drain(c) {
			switch ch.State {
			case StatePlaying:
				playing[ch.MessageID] = true
			case StateIdle:
				delete(playing, ch.MessageID)
			}
			if len(playing) > 1 {
				t.Fatalf("two messages reported playing: %v", playing)
			}
		}
	}

	for i := 0; i < 10; i++ {
		c.Toggle(ctx, voiceMsg("m"+strconv.Itoa(i%3)))
		check()
	}
}

// A stalled observer must not lose transitions: emission waits for the
// observer to catch up, so after draining, the last observed state of every
// message matches the machine (idle after Stop), not a stale Playing.
func TestStalledObserverStillSeesFinalIdle(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	// Well past the channel buffer: each switch is at least two transitions.
	const switches = 24
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < switches; i++ {
			c.Toggle(ctx, voiceMsg("m"+strconv.Itoa(i%2)))
		}
		c.Stop()
	}()

	// Observer stalls long enough for the buffer to fill, then catches up.
	time.Sleep(200 * time.Millisecond)

	last := make(map[string]State)
	deadline := time.After(10 * time.Second)
loop:
	for {
		select {
		case ch := <-c.Changes():
			last[ch.MessageID] = ch.State
		case <-done:
			break loop
		case <-deadline:
			t.Fatalf("transitions stopped flowing; observed %v", last)
		}
	}
	for _, ch := range drain(c) {
		last[ch.MessageID] = ch.State
	}
	for id, st := range last {
		if st != StateIdle {
			t.Fatalf("after stop, %s must be observed idle, stuck at %v", id, st)
		}
	}
	c.Close()
}

// A second tap for a different message while the first is still decoding
// supersedes the in-flight preparation: the first goes idle without ever
// playing, and only the second becomes audible.
func TestSupersededWhilePreparing(t *testing.T) {
	c, _, dir := newTestController(t)
	defer c.Close()
	ctx := context.Background()

	c.Toggle(ctx, voiceMsg("a"))
	c.Toggle(ctx, voiceMsg("b"))

	last := make(map[string]State)
	waitFor(t, c, func(ch Change) bool {
		last[ch.MessageID] = ch.State
		return ch.MessageID == "b" && ch.State == StatePlaying
	})
	if last["a"] != StateIdle {
		t.Fatalf("superseded message must be observed idle before the next plays, got %v", last)
	}
	if n := tempCount(t, dir); n != 1 {
		t.Fatalf("only the audible session may hold a temp file, have %d", n)
	}
}

func TestRandomizedSequenceNeverLeaks(t *testing.T) {
	c, player, dir := newTestController(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(99))
	msgs := []domain.Message{voiceMsg("a"), voiceMsg("b"), voiceMsg("c")}

	for i := 0; i < 200; i++ {
		switch rng.Intn(4) {
		case 0, 1:
			c.Toggle(ctx, msgs[rng.Intn(len(msgs))])
		case 2:
			c.Stop()
		case 3:
			player.mu.Lock()
			if len(player.handles) > 0 {
				h := player.handles[rng.Intn(len(player.handles))]
				player.mu.Unlock()
				h.finish()
			} else {
				player.mu.Unlock()
			}
		}
		drain(c)
		if n := tempCount(t, dir); n > 1 {
			t.Fatalf("step %d: %d temp files live, invariant is at most one", i, n)
		}
	}

	c.Close()
	// Completions may still be in flight; give them a moment.
	time.Sleep(50 * time.Millisecond)
	if n := tempCount(t, dir); n != 0 {
		t.Fatalf("%d temp files leaked after close", n)
	}
}
