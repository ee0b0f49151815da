package protocol

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"
)

// TestEventRoundTrip encodes then decodes every event variant, including
// boundary field values.
func TestEventRoundTrip(t *testing.T) {
	events := []Event{
		{Type: EventMoveRelative, DeltaX: 5, DeltaY: -3},
		{Type: EventMoveRelative, DeltaX: 0, DeltaY: 0},
		{Type: EventMoveRelative, DeltaX: math.MinInt16, DeltaY: math.MaxInt16},
		{Type: EventMoveAbsolute, X: 1920, Y: 1080},
		{Type: EventMoveAbsolute, X: math.MaxInt16, Y: math.MinInt16},
		{Type: EventMoveAbsolute, X: 0, Y: 0},
		{Type: EventClick, Button: ButtonLeft, Pressed: true},
		{Type: EventClick, Button: ButtonRight, Pressed: false},
		{Type: EventClick, Button: ButtonMiddle, Pressed: true},
		{Type: EventScroll, DeltaX: 0, DeltaY: -120},
		{Type: EventScroll, DeltaX: math.MaxInt16, DeltaY: math.MinInt16},
		{Type: EventKey, KeyCode: 0x41, Pressed: true},
		{Type: EventKey, KeyCode: 0, Pressed: false},
		{Type: EventKey, KeyCode: 0xFFFF, Pressed: true},
	}

	for _, want := range events {
		payload := EncodeEvent(&want)
		got, err := DecodeEvent(payload)
		if err != nil {
			t.Errorf("DecodeEvent(type 0x%02X) failed: %v", want.Type, err)
			continue
		}
		if *got != want {
			t.Errorf("round trip mismatch: got %+v, want %+v", *got, want)
		}
	}
}

func TestDecodeEventErrors(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
		want    error
	}{
		{"empty", nil, ErrEmptyFrame},
		{"unknown type", []byte{0x7F, 0x00}, ErrUnknownEvent},
		{"short move", []byte{EventMoveRelative, 0x00, 0x05}, ErrShortPayload},
		{"short absolute", []byte{EventMoveAbsolute}, ErrShortPayload},
		{"short click", []byte{EventClick, 0x01}, ErrShortPayload},
		{"short scroll", []byte{EventScroll, 0x00}, ErrShortPayload},
		{"short key", []byte{EventKey, 0x00, 0x41}, ErrShortPayload},
	}

	for _, tc := range cases {
		if _, err := DecodeEvent(tc.payload); !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

// TestFrameRoundTrip checks that consecutive frames on one stream come back
// with the original boundaries.
func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payloads := [][]byte{
		[]byte("GN2TCYTFMFSGK42UN5VWK3TTMVZXEZLU"),
		EncodeEvent(&Event{Type: EventMoveRelative, DeltaX: 5, DeltaY: -3}),
		{ReplyPairingAccepted},
	}

	for _, p := range payloads {
		if err := WriteFrame(&buf, p); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	for i, want := range payloads {
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame #%d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame #%d: got %x, want %x", i, got, want)
		}
	}

	if _, err := ReadFrame(&buf); err != io.EOF {
		t.Errorf("expected EOF after last frame, got %v", err)
	}
}

func TestWriteFrameLimits(t *testing.T) {
	var buf bytes.Buffer

	if err := WriteFrame(&buf, nil); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("empty payload: got %v, want %v", err, ErrEmptyFrame)
	}
	if err := WriteFrame(&buf, make([]byte, MaxFrameSize+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("oversize payload: got %v, want %v", err, ErrFrameTooLarge)
	}
	if err := WriteFrame(&buf, make([]byte, MaxFrameSize)); err != nil {
		t.Errorf("max-size payload should be accepted, got %v", err)
	}
}

func TestReadFrameErrors(t *testing.T) {
	// Zero-length frame.
	if _, err := ReadFrame(bytes.NewReader([]byte{0x00, 0x00})); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("zero length: got %v, want %v", err, ErrEmptyFrame)
	}

	// Stream truncated mid-payload.
	if _, err := ReadFrame(bytes.NewReader([]byte{0x00, 0x04, 0x01})); err != io.ErrUnexpectedEOF {
		t.Errorf("truncated payload: got %v, want %v", err, io.ErrUnexpectedEOF)
	}

	// Declared length larger than the limit, stream truncated.
	if _, err := ReadFrame(bytes.NewReader([]byte{0xFF, 0xFF})); err != io.ErrUnexpectedEOF {
		t.Errorf("truncated oversize frame: got %v, want %v", err, io.ErrUnexpectedEOF)
	}
}

// TestReadFrameOversizeResync checks that an oversized frame is drained so
// the frame after it is still readable.
func TestReadFrameOversizeResync(t *testing.T) {
	var buf bytes.Buffer
	big := make([]byte, MaxFrameSize+100)
	buf.Write([]byte{byte(len(big) >> 8), byte(len(big))})
	buf.Write(big)

	want := EncodeEvent(&Event{Type: EventMoveRelative, DeltaX: 5, DeltaY: -3})
	if err := WriteFrame(&buf, want); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	if _, err := ReadFrame(&buf); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("oversize frame: got %v, want %v", err, ErrFrameTooLarge)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("frame after oversize: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("frame after oversize: got %x, want %x", got, want)
	}
}
