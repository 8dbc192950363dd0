// Package player provides the production audio sink: it shells out to
// whatever command-line player the host has. No repo in our stack ships audio
// output, and the players below cover macOS and the common Linux setups.
package player

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"

	"ghostchat/internal/domain"
)

// candidates in preference order; all accept a file path argument and exit
// when the audio ends.
var candidates = []string{"afplay", "mpg123", "ffplay", "aplay"}

// Exec plays audio files by spawning an external player process. Pause and
// resume are SIGSTOP/SIGCONT on the child.
type Exec struct {
	command string
	logger  *slog.Logger
}

// NewExec builds an Exec player. An empty command autodetects the first
// available candidate on PATH.
func NewExec(command string, logger *slog.Logger) (*Exec, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if command != "" {
		if _, err := exec.LookPath(command); err != nil {
			return nil, fmt.Errorf("audio player %q not found: %w", command, err)
		}
		return &Exec{command: command, logger: logger}, nil
	}
	for _, c := range candidates {
		if _, err := exec.LookPath(c); err == nil {
			logger.Debug("audio player detected", "command", c)
			return &Exec{command: c, logger: logger}, nil
		}
	}
	return nil, fmt.Errorf("no audio player found on PATH (tried %v)", candidates)
}

// Command reports the resolved player binary.
func (e *Exec) Command() string { return e.command }

// Play starts the player on path. done fires from the wait goroutine once the
// process exits, whether it finished naturally or was stopped.
func (e *Exec) Play(ctx context.Context, path string, done func()) (domain.PlaybackHandle, error) {
	args := []string{path}
	if e.command == "ffplay" {
		args = []string{"-nodisp", "-autoexit", "-loglevel", "quiet", path}
	}
	cmd := exec.CommandContext(ctx, e.command, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", e.command, err)
	}

	h := &execHandle{cmd: cmd}
	go func() {
		if err := cmd.Wait(); err != nil && !h.wasStopped() {
			e.logger.Warn("audio player exited with error", "command", e.command, "err", err)
		}
		done()
	}()
	return h, nil
}

type execHandle struct {
	cmd     *exec.Cmd
	mu      sync.Mutex
	stopped bool
}

func (h *execHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped || h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(syscall.SIGSTOP)
}

func (h *execHandle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped || h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(syscall.SIGCONT)
}

func (h *execHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped || h.cmd.Process == nil {
		return nil
	}
	h.stopped = true
	return h.cmd.Process.Kill()
}

func (h *execHandle) wasStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}
