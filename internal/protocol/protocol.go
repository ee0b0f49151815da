// Package protocol defines the wire format spoken between the server and a
// paired mobile controller.
//
// Every message is a length-prefixed frame: a big-endian uint16 payload
// length followed by that many payload bytes. The first frame a client sends
// after connecting carries the literal pairing token; the server answers with
// a one-byte reply frame (ReplyPairingAccepted or ReplyPairingRejected).
// Every later frame carries a tagged input event.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Version identifies the wire format. Bump on any incompatible change.
const Version = 1

// MaxFrameSize bounds the payload of a single frame. Input events are tiny;
// anything larger is a confused or hostile client.
const MaxFrameSize = 512

// Event types.
const (
	EventMoveRelative uint8 = 0x01
	EventMoveAbsolute uint8 = 0x02
	EventClick        uint8 = 0x03
	EventScroll       uint8 = 0x04
	EventKey          uint8 = 0x05
)

// Pairing replies, sent by the server as a one-byte payload.
const (
	ReplyPairingAccepted uint8 = 0x20
	ReplyPairingRejected uint8 = 0x21
)

// Mouse buttons.
const (
	ButtonLeft   uint8 = 1
	ButtonRight  uint8 = 2
	ButtonMiddle uint8 = 3
)

var (
	ErrEmptyFrame    = errors.New("protocol: empty frame")
	ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")
	ErrShortPayload  = errors.New("protocol: payload too short for event type")
	ErrUnknownEvent  = errors.New("protocol: unknown event type")
)

// Event is a decoded input event.
//
// Wire format per type (all integers big-endian):
//
//	MoveRelative (0x01): dx(int16) + dy(int16)            = 5 bytes
//	MoveAbsolute (0x02): x(int16) + y(int16)              = 5 bytes
//	Click        (0x03): button(uint8) + pressed(uint8)   = 3 bytes
//	Scroll       (0x04): dx(int16) + dy(int16)            = 5 bytes
//	Key          (0x05): keyCode(uint16) + pressed(uint8) = 4 bytes
//
// Key codes are Windows virtual-key codes; platform injectors translate them
// as needed.
type Event struct {
	Type    uint8
	DeltaX  int16 // move relative / scroll
	DeltaY  int16 // move relative / scroll
	X       int16 // move absolute
	Y       int16 // move absolute
	Button  uint8 // click (1=left, 2=right, 3=middle)
	KeyCode uint16
	Pressed bool // click / key
}

// EncodeEvent serializes an event to a frame payload.
func EncodeEvent(ev *Event) []byte {
	size := 1
	switch ev.Type {
	case EventMoveRelative, EventMoveAbsolute, EventScroll:
		size += 4
	case EventClick:
		size += 2
	case EventKey:
		size += 3
	}

	buf := make([]byte, size)
	buf[0] = ev.Type

	payload := buf[1:]
	switch ev.Type {
	case EventMoveRelative:
		binary.BigEndian.PutUint16(payload[0:2], uint16(ev.DeltaX))
		binary.BigEndian.PutUint16(payload[2:4], uint16(ev.DeltaY))
	case EventMoveAbsolute:
		binary.BigEndian.PutUint16(payload[0:2], uint16(ev.X))
		binary.BigEndian.PutUint16(payload[2:4], uint16(ev.Y))
	case EventClick:
		payload[0] = ev.Button
		payload[1] = encodeBool(ev.Pressed)
	case EventScroll:
		binary.BigEndian.PutUint16(payload[0:2], uint16(ev.DeltaX))
		binary.BigEndian.PutUint16(payload[2:4], uint16(ev.DeltaY))
	case EventKey:
		binary.BigEndian.PutUint16(payload[0:2], ev.KeyCode)
		payload[2] = encodeBool(ev.Pressed)
	}

	return buf
}

// DecodeEvent deserializes a frame payload into an event.
func DecodeEvent(payload []byte) (*Event, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyFrame
	}

	ev := &Event{Type: payload[0]}
	body := payload[1:]

	switch ev.Type {
	case EventMoveRelative:
		if len(body) < 4 {
			return nil, ErrShortPayload
		}
		ev.DeltaX = int16(binary.BigEndian.Uint16(body[0:2]))
		ev.DeltaY = int16(binary.BigEndian.Uint16(body[2:4]))
	case EventMoveAbsolute:
		if len(body) < 4 {
			return nil, ErrShortPayload
		}
		ev.X = int16(binary.BigEndian.Uint16(body[0:2]))
		ev.Y = int16(binary.BigEndian.Uint16(body[2:4]))
	case EventClick:
		if len(body) < 2 {
			return nil, ErrShortPayload
		}
		ev.Button = body[0]
		ev.Pressed = body[1] != 0
	case EventScroll:
		if len(body) < 4 {
			return nil, ErrShortPayload
		}
		ev.DeltaX = int16(binary.BigEndian.Uint16(body[0:2]))
		ev.DeltaY = int16(binary.BigEndian.Uint16(body[2:4]))
	case EventKey:
		if len(body) < 3 {
			return nil, ErrShortPayload
		}
		ev.KeyCode = binary.BigEndian.Uint16(body[0:2])
		ev.Pressed = body[2] != 0
	default:
		return nil, ErrUnknownEvent
	}

	return ev, nil
}

// ReadFrame reads one length-prefixed frame and returns its payload.
// ErrEmptyFrame and ErrFrameTooLarge fault only the offending frame: an
// oversized frame's declared payload is drained so the stream stays in sync
// and the caller can keep reading.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint16(hdr[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if n > MaxFrameSize {
		if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes one length-prefixed frame. The header and payload go out
// in a single Write so concurrent writers cannot interleave partial frames.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	buf := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(payload)))
	copy(buf[2:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	return nil
}

func encodeBool(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
