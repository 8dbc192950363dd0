package domain

import "errors"

var (
	// ErrInvalidMessage means a message violates the single-payload invariant
	// or is missing sender/timestamp.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrMalformedPayload means an encoded media field could not be decoded.
	// Scoped to one message; callers skip it and keep the conversation alive.
	ErrMalformedPayload = errors.New("malformed media payload")

	// ErrPayloadTooLarge means a media payload exceeds the configured cap.
	// Reported to the sender before any store call.
	ErrPayloadTooLarge = errors.New("media payload too large")

	// ErrSendFailed means a single append was rejected by the store. Local
	// state is unaffected and the caller may retry.
	ErrSendFailed = errors.New("send failed")

	// ErrSubscription means the live feed failed in a way the store adapter
	// could not recover from. Surfaced as a terminal event on the feed.
	ErrSubscription = errors.New("subscription failed")

	// ErrPlaybackDecode means a voice message could not be decoded for
	// playback. The controller returns to idle; other messages are unaffected.
	ErrPlaybackDecode = errors.New("playback decode failed")

	// ErrChatNotFound means the chat identifier is not registered.
	ErrChatNotFound = errors.New("chat not found")

	// ErrClosed means an operation was attempted on a closed session or engine.
	ErrClosed = errors.New("closed")
)
