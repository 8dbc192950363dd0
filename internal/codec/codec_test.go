package codec

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"ghostchat/internal/domain"
)

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0xff, 0x00, 0xff},
		[]byte("plain text payload"),
	}
	for _, in := range cases {
		out, err := Decode(Encode(in))
		if err != nil {
			t.Fatalf("decode(encode(%v)): %v", in, err)
		}
		if !bytes.Equal(in, out) {
			t.Fatalf("round trip mismatch: in=%v out=%v", in, out)
		}
	}
}

func TestRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		in := make([]byte, rng.Intn(4096))
		rng.Read(in)
		out, err := Decode(Encode(in))
		if err != nil {
			t.Fatalf("decode(encode) len=%d: %v", len(in), err)
		}
		if !bytes.Equal(in, out) {
			t.Fatalf("round trip mismatch at len=%d", len(in))
		}
	}
}

func TestDecodeToleratesWhitespace(t *testing.T) {
	// Android's Base64.DEFAULT wraps lines; stored payloads may contain them.
	in := []byte("voice message bytes, long enough to wrap around")
	enc := Encode(in)
	wrapped := enc[:10] + "\n" + enc[10:20] + "\r\n" + enc[20:]
	out, err := Decode(wrapped)
	if err != nil {
		t.Fatalf("decode wrapped: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Fatalf("wrapped round trip mismatch")
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, bad := range []string{"!!!not base64!!!", "abc", "====", "a"} {
		if _, err := Decode(bad); !errors.Is(err, domain.ErrMalformedPayload) {
			t.Fatalf("Decode(%q): want ErrMalformedPayload, got %v", bad, err)
		}
	}
}

func TestCheckSize(t *testing.T) {
	small := make([]byte, 10)
	if err := CheckSize(small, 0); err != nil {
		t.Fatalf("small payload under default cap: %v", err)
	}
	big := make([]byte, DefaultMaxPayloadBytes+1)
	if err := CheckSize(big, 0); !errors.Is(err, domain.ErrPayloadTooLarge) {
		t.Fatalf("want ErrPayloadTooLarge, got %v", err)
	}
	if err := CheckSize(small, 5); !errors.Is(err, domain.ErrPayloadTooLarge) {
		t.Fatalf("explicit cap ignored: %v", err)
	}
	if err := CheckSize(small, 10); err != nil {
		t.Fatalf("exactly at cap should pass: %v", err)
	}
}
