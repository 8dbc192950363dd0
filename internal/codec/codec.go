// Package codec transcodes binary media payloads to and from the textual form
// stored in message documents. The encoding is plain standard base64 so the
// payload survives any string field; Android clients historically wrapped the
// output in newlines, so Decode tolerates interior whitespace.
package codec

import (
	"encoding/base64"
	"fmt"
	"strings"

	"ghostchat/internal/domain"
)

// DefaultMaxPayloadBytes caps raw media at 300 KiB. Base64 inflates by 4/3,
// which keeps an encoded document comfortably under Firestore's 1 MiB
// document limit.
const DefaultMaxPayloadBytes = 300 << 10

// Encode returns the transportable text form of a binary payload.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode reverses Encode. Returns domain.ErrMalformedPayload (wrapped) if the
// input is not valid encoded text; callers treat this as scoped to the one
// message, not the conversation.
func Decode(encoded string) ([]byte, error) {
	cleaned := strings.Map(dropSpace, encoded)
	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return data, nil
}

// CheckSize enforces the sender-side payload cap. max <= 0 selects the
// default. The codec itself never rejects on size; this guard runs before
// encoding.
func CheckSize(data []byte, max int) error {
	if max <= 0 {
		max = DefaultMaxPayloadBytes
	}
	if len(data) > max {
		return fmt.Errorf("%w: %d bytes exceeds cap of %d", domain.ErrPayloadTooLarge, len(data), max)
	}
	return nil
}

func dropSpace(r rune) rune {
	switch r {
	case '\n', '\r', ' ', '\t':
		return -1
	}
	return r
}
