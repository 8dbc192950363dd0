package domain

import "time"

// Kind discriminates the payload carried by a Message.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVoice Kind = "voice"
)

// Message is one entry in a conversation log. It is immutable once the store
// has accepted it; ID is assigned by the store at append time and is unknown
// to the sender beforehand.
//
// Exactly one of Text, ImageEncoded, AudioEncoded is populated. The encoded
// fields hold the textual form produced by the media codec.
type Message struct {
	ID           string `json:"id,omitempty"`
	Text         string `json:"text,omitempty"`
	ImageEncoded string `json:"imageEncoded,omitempty"`
	AudioEncoded string `json:"audioEncoded,omitempty"`
	Timestamp    int64  `json:"timestamp"`
	SenderID     string `json:"senderId"`
}

// Kind reports which payload the message carries. Returns "" for a message
// that violates the single-payload invariant; use Validate to check that.
func (m Message) Kind() Kind {
	switch {
	case m.Text != "" && m.ImageEncoded == "" && m.AudioEncoded == "":
		return KindText
	case m.ImageEncoded != "" && m.Text == "" && m.AudioEncoded == "":
		return KindImage
	case m.AudioEncoded != "" && m.Text == "" && m.ImageEncoded == "":
		return KindVoice
	}
	return ""
}

// Validate checks the single-payload invariant and the presence of sender
// identity and timestamp.
func (m Message) Validate() error {
	if m.Kind() == "" {
		return ErrInvalidMessage
	}
	if m.SenderID == "" {
		return ErrInvalidMessage
	}
	if m.Timestamp <= 0 {
		return ErrInvalidMessage
	}
	return nil
}

// Time converts the sender-assigned epoch-millis timestamp. Client clocks are
// not authoritative; this is display-only.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Equal reports whether two messages are identical field-for-field.
func (m Message) Equal(other Message) bool {
	return m == other
}

// NowMillis is the timestamp a sender stamps on an outgoing message.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
