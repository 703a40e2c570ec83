package wire_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"

	"commnode/internal/wire"
)

func TestEncodeAddRoundTrip(t *testing.T) {
	id := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	frame := wire.EncodeAdd(id, 8042)
	if len(frame) != wire.FrameSize {
		t.Fatalf("expected %d-byte frame, got %d", wire.FrameSize, len(frame))
	}
	msg, err := wire.Decode(frame)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Kind != wire.KindAdd {
		t.Fatalf("expected add, got kind %d", msg.Kind)
	}
	if msg.ID != id {
		t.Fatalf("expected id %s, got %s", id, msg.ID)
	}
	if msg.Port != 8042 {
		t.Fatalf("expected port 8042, got %d", msg.Port)
	}
}

func TestTrimStripsPadding(t *testing.T) {
	frame := wire.EncodePing(1234)
	if got := wire.Trim(frame); got != "ping 1234" {
		t.Fatalf("expected trimmed text %q, got %q", "ping 1234", got)
	}
}

func TestDecodeUnknownVerb(t *testing.T) {
	frame, err := wire.Pad([]byte("hello"))
	if err != nil {
		t.Fatalf("pad failed: %v", err)
	}
	if _, err := wire.Decode(frame); !errors.Is(err, wire.ErrUnknownVerb) {
		t.Fatalf("expected ErrUnknownVerb, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []string{
		"",
		"add",
		"add 11111111-1111-1111-1111-111111111111",
		"add not-a-uuid 8000",
		"add 11111111-1111-1111-1111-111111111111 notaport",
		"get",
		"get something",
		"uuid",
		"uuid nope",
		"ping",
		"ping soon",
	}
	for _, text := range cases {
		frame, err := wire.Pad([]byte(text))
		if err != nil {
			t.Fatalf("pad %q failed: %v", text, err)
		}
		if _, err := wire.Decode(frame); !errors.Is(err, wire.ErrMalformed) {
			t.Fatalf("payload %q: expected ErrMalformed, got %v", text, err)
		}
	}
}

func TestDecodeGetUUID(t *testing.T) {
	msg, err := wire.Decode(wire.EncodeGetUUID())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Kind != wire.KindGetUUID {
		t.Fatalf("expected get uuid, got kind %d", msg.Kind)
	}
}

func TestPongEchoesTimestamp(t *testing.T) {
	msg, err := wire.Decode(wire.EncodePong(987654321))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Kind != wire.KindPong || msg.Millis != 987654321 {
		t.Fatalf("expected pong 987654321, got kind %d millis %d", msg.Kind, msg.Millis)
	}
}

func TestPadOversize(t *testing.T) {
	if _, err := wire.Pad(bytes.Repeat([]byte("x"), wire.FrameSize+1)); !errors.Is(err, wire.ErrOversize) {
		t.Fatalf("expected ErrOversize, got %v", err)
	}
}

func TestReadWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := wire.WriteFrame(&buf, []byte("get uuid")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if buf.Len() != wire.FrameSize {
		t.Fatalf("expected %d bytes on the wire, got %d", wire.FrameSize, buf.Len())
	}
	frame, err := wire.ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	msg, err := wire.Decode(frame)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Kind != wire.KindGetUUID {
		t.Fatalf("expected get uuid, got kind %d", msg.Kind)
	}
}

func TestReadFrameShortStream(t *testing.T) {
	if _, err := wire.ReadFrame(bytes.NewReader([]byte("short"))); err == nil {
		t.Fatalf("expected error on torn frame")
	}
}
