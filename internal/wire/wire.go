// Package wire implements the fixed-frame text protocol spoken on both the
// UDP announcement port and the per-peer TCP sessions. Every message is one
// null-padded frame of FrameSize bytes; recipients trim padding and split on
// whitespace.
package wire

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// FrameSize is the exact size of every datagram and stream message.
const FrameSize = 128

var (
	ErrMalformed   = errors.New("malformed frame")
	ErrUnknownVerb = errors.New("unknown verb")
	ErrOversize    = errors.New("payload exceeds frame size")
)

type Kind int

const (
	KindAdd Kind = iota + 1
	KindGetUUID
	KindUUID
	KindPing
	KindPong
)

// Message is the decoded form of one frame. Fields beyond Kind are populated
// per verb: ID and Port for add, ID for uuid, Millis for ping/pong.
type Message struct {
	Kind   Kind
	ID     uuid.UUID
	Port   uint16
	Millis int64
}

// Pad copies payload into a fresh FrameSize frame, null-padded.
func Pad(payload []byte) ([]byte, error) {
	if len(payload) > FrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrOversize, len(payload))
	}
	frame := make([]byte, FrameSize)
	copy(frame, payload)
	return frame, nil
}

// Trim strips the null padding and surrounding whitespace from a frame.
func Trim(frame []byte) string {
	return strings.TrimSpace(strings.TrimRight(string(frame), "\x00"))
}

func encode(text string) []byte {
	frame := make([]byte, FrameSize)
	copy(frame, text)
	return frame
}

func EncodeAdd(id uuid.UUID, tcpPort uint16) []byte {
	return encode(fmt.Sprintf("add %s %d", id, tcpPort))
}

func EncodeGetUUID() []byte {
	return encode("get uuid")
}

func EncodeUUID(id uuid.UUID) []byte {
	return encode(fmt.Sprintf("uuid %s", id))
}

func EncodePing(millis int64) []byte {
	return encode(fmt.Sprintf("ping %d", millis))
}

// EncodePong echoes the ping timestamp verbatim.
func EncodePong(millis int64) []byte {
	return encode(fmt.Sprintf("pong %d", millis))
}

// Decode parses one frame. Frames shorter than FrameSize are accepted so the
// UDP path can hand short datagrams straight to the parser; structural
// problems return ErrMalformed, an unrecognized first token ErrUnknownVerb.
func Decode(frame []byte) (Message, error) {
	fields := strings.Fields(Trim(frame))
	if len(fields) == 0 {
		return Message{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	switch fields[0] {
	case "add":
		if len(fields) < 3 {
			return Message{}, fmt.Errorf("%w: add wants id and port", ErrMalformed)
		}
		id, err := uuid.Parse(fields[1])
		if err != nil {
			return Message{}, fmt.Errorf("%w: bad id %q", ErrMalformed, fields[1])
		}
		port, err := strconv.ParseUint(fields[2], 10, 16)
		if err != nil {
			return Message{}, fmt.Errorf("%w: bad port %q", ErrMalformed, fields[2])
		}
		return Message{Kind: KindAdd, ID: id, Port: uint16(port)}, nil
	case "get":
		if len(fields) < 2 || fields[1] != "uuid" {
			return Message{}, fmt.Errorf("%w: bad get request", ErrMalformed)
		}
		return Message{Kind: KindGetUUID}, nil
	case "uuid":
		if len(fields) < 2 {
			return Message{}, fmt.Errorf("%w: uuid wants an id", ErrMalformed)
		}
		id, err := uuid.Parse(fields[1])
		if err != nil {
			return Message{}, fmt.Errorf("%w: bad id %q", ErrMalformed, fields[1])
		}
		return Message{Kind: KindUUID, ID: id}, nil
	case "ping", "pong":
		if len(fields) < 2 {
			return Message{}, fmt.Errorf("%w: %s wants a timestamp", ErrMalformed, fields[0])
		}
		millis, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return Message{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformed, fields[1])
		}
		kind := KindPing
		if fields[0] == "pong" {
			kind = KindPong
		}
		return Message{Kind: kind, Millis: millis}, nil
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownVerb, fields[0])
	}
}

// ReadFrame reads exactly one frame from a stream. A clean EOF before any
// byte is returned as io.EOF so callers can tell peer hang-up apart from a
// torn frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	frame := make([]byte, FrameSize)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// WriteFrame writes one frame to a stream. A payload shorter than FrameSize
// is null-padded first; a longer one is rejected with ErrOversize.
func WriteFrame(w io.Writer, frame []byte) error {
	if len(frame) != FrameSize {
		padded, err := Pad(frame)
		if err != nil {
			return err
		}
		frame = padded
	}
	total := 0
	for total < len(frame) {
		n, err := w.Write(frame[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("short write")
		}
		total += n
	}
	return nil
}
