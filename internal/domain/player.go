package domain

import "context"

// Player turns a decoded audio file into sound. Implementations must call done
// exactly once when playback ends for any reason, including Stop, and must do
// so from their own goroutine, never from inside a PlaybackHandle call.
type Player interface {
	Play(ctx context.Context, path string, done func()) (PlaybackHandle, error)
}

// PlaybackHandle controls one in-flight playback. All methods are safe to call
// after the playback has already finished.
type PlaybackHandle interface {
	Pause() error
	Resume() error
	Stop() error
}
