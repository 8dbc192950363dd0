// Package console is the interactive terminal front end. It is a thin
// renderer over a chat session: edit events update a mirrored list
// incrementally, playback changes repaint the per-message hint, and store,
// codec and file work is dispatched off the input loop so a slow backend
// never blocks typing.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"ghostchat/internal/domain"
	"ghostchat/internal/feed"
	"ghostchat/internal/playback"
	"ghostchat/internal/session"
)

// Console renders one chat session on a terminal.
type Console struct {
	sess   *session.Session
	in     io.Reader
	logger *slog.Logger

	outMu sync.Mutex
	out   io.Writer

	mu     sync.Mutex
	view   []domain.Message
	states map[string]playback.State
}

type Config struct {
	Session *session.Session
	In      io.Reader
	Out     io.Writer
	Logger  *slog.Logger
}

func New(cfg Config) *Console {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Console{
		sess:   cfg.Session,
		in:     cfg.In,
		out:    cfg.Out,
		logger: cfg.Logger,
		states: make(map[string]playback.State),
	}
}

// MaskChatID hides most of a chat identifier for display, the same way the
// mobile client did: "abc****yz" for long ids, all stars otherwise.
func MaskChatID(chatID string) string {
	if len(chatID) >= 8 {
		return chatID[:3] + "****" + chatID[len(chatID)-2:]
	}
	return strings.Repeat("*", len(chatID))
}

// printf is the single sink for terminal output; the render loop, the input
// loop and dispatched work all write through it.
func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Run blocks until the user quits, the feed dies, or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	c.printf("Chat ID: %s\n", MaskChatID(c.sess.ChatID()))
	c.printf("Type a message and press Enter. /img <path>, /voice <path>, /play <n>, /stop, /quit.\n")

	renderCtx, cancelRender := context.WithCancel(ctx)
	defer cancelRender()
	renderDone := make(chan error, 1)
	go func() { renderDone <- c.renderLoop(renderCtx) }()

	input := make(chan string)
	go func() {
		defer close(input)
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			input <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-renderDone:
			return err
		case line, ok := <-input:
			if !ok {
				return nil
			}
			quit, err := c.handleLine(ctx, strings.TrimSpace(line))
			if err != nil {
				c.printf("! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// handleLine parses one input line. Anything touching the store, the codec or
// the filesystem is dispatched; only parse errors are returned synchronously.
func (c *Console) handleLine(ctx context.Context, line string) (quit bool, err error) {
	switch {
	case line == "":
		return false, nil
	case line == "/quit" || line == "/exit" || line == "/q":
		return true, nil
	case line == "/stop":
		if id := c.playingMessage(); id != "" {
			c.dispatch(func() error { return c.sess.TogglePlayback(ctx, id) })
		}
		return false, nil
	case strings.HasPrefix(line, "/img "):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/img "))
		c.dispatch(func() error { return c.sendFile(ctx, path, c.sess.SendImage) })
		return false, nil
	case strings.HasPrefix(line, "/voice "):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/voice "))
		c.dispatch(func() error { return c.sendFile(ctx, path, c.sess.SendVoice) })
		return false, nil
	case strings.HasPrefix(line, "/play "):
		id, err := c.messageAt(strings.TrimSpace(strings.TrimPrefix(line, "/play ")))
		if err != nil {
			return false, err
		}
		c.dispatch(func() error { return c.sess.TogglePlayback(ctx, id) })
		return false, nil
	case strings.HasPrefix(line, "/"):
		return false, fmt.Errorf("unknown command %s", line)
	default:
		c.dispatch(func() error { return c.sess.SendText(ctx, line) })
		return false, nil
	}
}

// dispatch runs fn off the input loop. Failures surface as a console notice.
func (c *Console) dispatch(fn func() error) {
	go func() {
		if err := fn(); err != nil {
			c.printf("! %v\n", err)
		}
	}()
}

func (c *Console) sendFile(ctx context.Context, path string, send func(context.Context, []byte) error) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return send(ctx, data)
}

// playingMessage returns the id currently playing or paused, if any.
func (c *Console) playingMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, st := range c.states {
		if st == playback.StatePlaying || st == playback.StatePaused {
			return id
		}
	}
	return ""
}

// messageAt resolves the 1-based ordinal shown in the rendered list.
func (c *Console) messageAt(arg string) (string, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return "", fmt.Errorf("usage: /play <message number>")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 1 || n > len(c.view) {
		return "", fmt.Errorf("no message #%d", n)
	}
	m := c.view[n-1]
	if m.Kind() != domain.KindVoice {
		return "", fmt.Errorf("message #%d is not a voice message", n)
	}
	return m.ID, nil
}

func (c *Console) renderLoop(ctx context.Context) error {
	edits := c.sess.Observe()
	states := c.sess.PlaybackEvents()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-edits:
			if !ok {
				return nil
			}
			if ev.Err != nil {
				c.printf("! connection lost: %v\n", ev.Err)
				return ev.Err
			}
			c.applyEdits(ev.Edits)
		case ch, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			c.renderPlayback(ch)
		}
	}
}

// applyEdits mirrors one edit script. A script that only appends prints the
// new lines; anything positional repaints the whole list, so the decision is
// made over the entire script before printing.
func (c *Console) applyEdits(edits []feed.Edit) {
	c.mu.Lock()
	defer c.mu.Unlock()

	appendOnly := true
	for i, e := range edits {
		if e.Op != feed.OpInsert || e.Index != len(c.view)+i {
			appendOnly = false
			break
		}
	}
	c.view = feed.Apply(c.view, edits)

	if appendOnly {
		for i := len(c.view) - len(edits); i < len(c.view); i++ {
			c.printMessageLocked(i, c.view[i])
		}
		return
	}
	// Late arrivals and reorders shift positions; repaint the list.
	c.printf("--- history updated ---\n")
	for i, m := range c.view {
		c.printMessageLocked(i, m)
	}
}

func (c *Console) printMessageLocked(idx int, m domain.Message) {
	who := "them"
	if m.SenderID == c.sess.SenderID() {
		who = "you"
	}
	stamp := m.Time().Format("15:04")
	switch m.Kind() {
	case domain.KindText:
		c.printf("[%d] %s %s: %s\n", idx+1, stamp, who, m.Text)
	case domain.KindImage:
		c.printf("[%d] %s %s: [image, %d bytes encoded]\n", idx+1, stamp, who, len(m.ImageEncoded))
	case domain.KindVoice:
		c.printf("[%d] %s %s: [voice] %s\n", idx+1, stamp, who, c.voiceHintLocked(m.ID, idx))
	default:
		c.printf("[%d] %s %s: [unreadable message]\n", idx+1, stamp, who)
	}
}

func (c *Console) voiceHintLocked(id string, idx int) string {
	switch c.states[id] {
	case playback.StatePlaying:
		return "Playing..."
	case playback.StatePaused:
		return "Paused"
	case playback.StatePreparing:
		return "Loading..."
	}
	return fmt.Sprintf("/play %d", idx+1)
}

func (c *Console) renderPlayback(ch playback.Change) {
	c.mu.Lock()
	if ch.State == playback.StateIdle {
		delete(c.states, ch.MessageID)
	} else {
		c.states[ch.MessageID] = ch.State
	}
	idx := -1
	for i, m := range c.view {
		if m.ID == ch.MessageID {
			idx = i
			break
		}
	}
	c.mu.Unlock()

	if ch.Err != nil {
		c.printf("! voice message unavailable: %v\n", ch.Err)
		return
	}
	if idx < 0 {
		return
	}
	switch ch.State {
	case playback.StatePlaying:
		c.printf("[%d] Playing...\n", idx+1)
	case playback.StatePaused:
		c.printf("[%d] Paused\n", idx+1)
	case playback.StateIdle:
		c.printf("[%d] Stopped\n", idx+1)
	}
}
